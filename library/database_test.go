package library

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Database {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDatabase(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testBook(id, title, author, isbn string, copies int) Book {
	return Book{ID: id, Title: title, Author: author, ISBN: isbn, TotalCopies: copies, AvailableCopies: copies}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "library.db")

	db, err := NewDatabase(path)
	require.NoError(t, err)
	publisher, year := "Pearson", 2021
	b := testBook("b1", "Introduction to Java Programming", "Daniel Liang", "978-0136520238", 2)
	b.Publisher, b.Year = &publisher, &year
	require.NoError(t, db.AddBook(ctx, b))
	require.NoError(t, db.Close())

	// Second open must not re-run the schema migration.
	db, err = NewDatabase(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.FindBookByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestFindMissingReturnsErrNoRecord(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	_, err := db.FindBookByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRecord)
	_, err = db.FindUserByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRecord)
	_, err = db.FindUserByUsername(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRecord)
	_, err = db.FindTransactionByID(ctx, "nope")
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestUsernameLookupIgnoresCase(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	email := "alice@example.com"
	u := User{ID: "u1", Username: "Alice", PasswordHash: "x", Name: "Alice", Email: &email, Role: RoleLibrarian,
		RegisteredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, db.AddUser(ctx, u))

	got, err := db.FindUserByUsername(ctx, "aLICE")
	require.NoError(t, err)
	assert.Equal(t, u, got)

	// The unique index backs up the engine's check.
	dup := u
	dup.ID, dup.Username = "u2", "ALICE"
	assert.Error(t, db.AddUser(ctx, dup))
}

func TestUsernameCaseFoldingBeyondASCII(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	u := User{ID: "u1", Username: "ÉLODIE", PasswordHash: "x", Name: "Élodie", Role: RoleMember,
		RegisteredAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, db.AddUser(ctx, u))

	got, err := db.FindUserByUsername(ctx, "élodie")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)

	dup := u
	dup.ID, dup.Username = "u2", "élodie"
	assert.Error(t, db.AddUser(ctx, dup))
}

func TestSearchFoldsNonASCII(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	require.NoError(t, db.AddBook(ctx, testBook("b1", "Germinal", "Émile Zola", "978-0140447422", 1)))
	require.NoError(t, db.AddBook(ctx, testBook("b2", "ΟΔΥΣΣΕΙΑ", "Όμηρος", "978-9600323", 1)))

	tests := []struct {
		query string
		field SearchField
		want  string
	}{
		{"émile", SearchAuthor, "b1"},
		{"ÉMILE ZOLA", SearchAny, "b1"},
		{"οδυσσεια", SearchTitle, "b2"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := db.SearchBooks(ctx, tt.query, tt.field)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].ID)
		})
	}
}

func TestListPreservesInsertionOrder(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, db.AddBook(ctx, testBook(id, "T"+id, "A", "isbn-"+id, 1)))
	}
	books, err := db.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{books[0].ID, books[1].ID, books[2].ID})
}

func TestUpdateUnknownIDIsNoop(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	require.NoError(t, db.UpdateBook(ctx, testBook("ghost", "T", "A", "I", 1)))
	books, err := db.ListBooks(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestTransactionQueries(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	due := issued.AddDate(0, 0, 14)
	returned := issued.AddDate(0, 0, 3)

	active := Transaction{ID: "t1", BookID: "b1", UserID: "u1", Type: TransactionIssue, TransactionDate: issued, DueDate: &due, Fine: decimal.Zero}
	closed := Transaction{ID: "t2", BookID: "b1", UserID: "u2", Type: TransactionIssue, TransactionDate: issued, DueDate: &due,
		ReturnDate: &returned, Fine: decimal.RequireFromString("1.5")}
	other := Transaction{ID: "t3", BookID: "b2", UserID: "u1", Type: TransactionIssue, TransactionDate: issued, DueDate: &due, Fine: decimal.Zero}
	for _, tx := range []Transaction{active, closed, other} {
		require.NoError(t, db.AddTransaction(ctx, tx))
	}

	got, err := db.FindTransactionByID(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, got.Fine.Equal(decimal.RequireFromString("1.50")))
	require.NotNil(t, got.ReturnDate)
	assert.True(t, got.ReturnDate.Equal(returned))

	byUser, err := db.QueryTransactionsByUser(ctx, "u1", true)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byBook, err := db.QueryTransactionsByBook(ctx, "b1", false)
	require.NoError(t, err)
	assert.Len(t, byBook, 2)
	byBook, err = db.QueryTransactionsByBook(ctx, "b1", true)
	require.NoError(t, err)
	require.Len(t, byBook, 1)
	assert.Equal(t, "t1", byBook[0].ID)

	overdue, err := db.QueryOverdueTransactions(ctx, due)
	require.NoError(t, err)
	assert.Empty(t, overdue, "a loan is not overdue at its due instant")

	overdue, err = db.QueryOverdueTransactions(ctx, due.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, overdue, 2)
}

func TestSearchBooks(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	require.NoError(t, db.AddBook(ctx, testBook("b1", "Computer Networks", "Andrew S. Tanenbaum", "978-0132126953", 2)))
	require.NoError(t, db.AddBook(ctx, testBook("b2", "Operating System Concepts", "Abraham Silberschatz", "978-1118063330", 2)))
	require.NoError(t, db.AddBook(ctx, testBook("b3", "Networks of the Mind", "Carl Sagan", "978-0000000001", 1)))

	tests := []struct {
		name  string
		query string
		field SearchField
		want  []string
	}{
		{"any field matches title", "NETWORK", SearchAny, []string{"b1", "b3"}},
		{"any field matches author", "silber", SearchAny, []string{"b2"}},
		{"title only", "concepts", SearchTitle, []string{"b2"}},
		{"author only ignores titles", "networks", SearchAuthor, nil},
		{"isbn substring", "1118", SearchISBN, []string{"b2"}},
		{"unknown field", "networks", SearchField("publisher"), nil},
		{"no match", "cooking", SearchAny, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := db.SearchBooks(ctx, tt.query, tt.field)
			require.NoError(t, err)
			var ids []string
			for _, b := range books {
				ids = append(ids, b.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.WithinTx(ctx, func(s Store) error {
		if err := s.AddBook(ctx, testBook("b1", "T", "A", "I", 1)); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = db.FindBookByID(ctx, "b1")
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestWithinTxRollsBackOnPanic(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = db.WithinTx(ctx, func(s Store) error {
			_ = s.AddBook(ctx, testBook("b1", "T", "A", "I", 1))
			panic("unexpected")
		})
	})
	_, err := db.FindBookByID(ctx, "b1")
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestCopiesConstraint(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()
	b := testBook("b1", "T", "A", "I", 1)
	b.AvailableCopies = 2
	assert.Error(t, db.AddBook(ctx, b), "available copies may never exceed the total")
}
