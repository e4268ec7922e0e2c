package filestore

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
)

func openTemp(t *testing.T) (*Store, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	s, err := Open(t.TempDir(), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))), WithLocation(time.UTC))
	require.NoError(t, err)
	return s, &logs
}

func readFile(t *testing.T, s *Store, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
	return string(b)
}

func TestOpenCreatesEmptyFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "library", "data")
	s, err := Open(dir)
	require.NoError(t, err)

	for _, name := range []string{booksFile, usersFile, transactionsFile} {
		assert.Equal(t, "[]", readFile(t, s, name))
	}
	books, err := s.ListBooks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, books)
}

func TestOpenKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	body := `[{"id":"b1","title":"T","author":"A","isbn":"I","publisher":null,"year":null,"total_copies":2,"available_copies":1}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, booksFile), []byte(body), 0o644))

	s, err := Open(dir)
	require.NoError(t, err)
	b, err := s.FindBookByID(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, b.TotalCopies)
	assert.Equal(t, 1, b.AvailableCopies)
}

func TestMalformedFileDegradesToEmpty(t *testing.T) {
	s, logs := openTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), usersFile), []byte("{not json"), 0o644))

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.Contains(t, logs.String(), "malformed data file")
}

func TestMissingFieldsUseDefaults(t *testing.T) {
	s, _ := openTemp(t)
	body := `[{"id":"b1","title":"Old","author":"A","isbn":"I"}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), booksFile), []byte(body), 0o644))
	users := `[{"id":"u1","username":"x","password":"p","name":"X"}]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), usersFile), []byte(users), 0o644))

	b, err := s.FindBookByID(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, b.TotalCopies)
	assert.Equal(t, 1, b.AvailableCopies)

	u, err := s.FindUserByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, library.RoleMember, u.Role)
}

func TestInvalidRecordIsSkipped(t *testing.T) {
	s, logs := openTemp(t)
	body := `[
	  {"id":"t1","book_id":"b","user_id":"u","transaction_type":"issue","transaction_date":"yesterday","due_date":null,"return_date":null,"fine":0},
	  {"id":"t2","book_id":"b","user_id":"u","transaction_type":"issue","transaction_date":"2024-01-01 10:00:00","due_date":null,"return_date":null,"fine":0}
	]`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), transactionsFile), []byte(body), 0o644))

	txns, err := s.ListTransactions(context.Background())
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "t2", txns[0].ID)
	assert.Contains(t, logs.String(), "skipping transaction record")
}

func TestOnDiskFormat(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	issued := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	due := issued.AddDate(0, 0, 14)
	returned := due.AddDate(0, 0, 3)

	require.NoError(t, s.AddTransaction(ctx, library.Transaction{
		ID: "t1", BookID: "b1", UserID: "u1", Type: library.TransactionIssue,
		TransactionDate: issued, DueDate: &due, ReturnDate: &returned, Fine: decimal.RequireFromString("1.50"),
	}))
	require.NoError(t, s.AddUser(ctx, library.User{
		ID: "u1", Username: "alice", PasswordHash: "h", Name: "Alice", Role: library.RoleMember,
		RegisteredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}))

	var txns []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, s, transactionsFile)), &txns))
	require.Len(t, txns, 1)
	assert.Equal(t, "issue", txns[0]["transaction_type"])
	assert.Equal(t, "2024-01-01 10:00:00", txns[0]["transaction_date"])
	assert.Equal(t, "2024-01-15 10:00:00", txns[0]["due_date"])
	assert.Equal(t, "2024-01-18 10:00:00", txns[0]["return_date"])
	assert.Equal(t, 1.5, txns[0]["fine"])

	var users []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, s, usersFile)), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "2024-01-01", users[0]["registered_date"])
	assert.Equal(t, "h", users[0]["password"])
	assert.Contains(t, users[0], "email")
	assert.Nil(t, users[0]["email"])
}

func TestTimestampsAreWallClockInStoreLocation(t *testing.T) {
	dir := t.TempDir()
	body := `[{"id":"t1","book_id":"b","user_id":"u","transaction_type":"issue",
	  "transaction_date":"2024-01-05 09:00:00","due_date":"2024-01-19 09:00:00","return_date":null,"fine":0}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, transactionsFile), []byte(body), 0o644))

	kolkata := time.FixedZone("IST", 5*3600+1800)
	s, err := Open(dir, WithLocation(kolkata))
	require.NoError(t, err)
	ctx := context.Background()

	got, err := s.FindTransactionByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.TransactionDate.Equal(time.Date(2024, 1, 5, 3, 30, 0, 0, time.UTC)), "got %s", got.TransactionDate)
	require.NotNil(t, got.DueDate)
	assert.True(t, got.DueDate.Equal(time.Date(2024, 1, 19, 3, 30, 0, 0, time.UTC)))

	returned := time.Date(2024, 1, 20, 4, 30, 0, 0, time.UTC)
	got.ReturnDate = &returned
	require.NoError(t, s.UpdateTransaction(ctx, got))

	var txns []map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, s, transactionsFile)), &txns))
	require.Len(t, txns, 1)
	assert.Equal(t, "2024-01-05 09:00:00", txns[0]["transaction_date"])
	assert.Equal(t, "2024-01-20 10:00:00", txns[0]["return_date"])
}

func TestWithinTxFailureWritesNothing(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(st library.Store) error {
		require.NoError(t, st.AddBook(ctx, library.Book{ID: "b1", Title: "T", Author: "A", ISBN: "I", TotalCopies: 1, AvailableCopies: 1}))
		_, err := st.FindBookByID(ctx, "b1")
		require.NoError(t, err, "writes are visible inside the transaction")
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "[]", readFile(t, s, booksFile))
}

func TestWithinTxOnlyRewritesChangedFiles(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.AddBook(ctx, library.Book{ID: "b1", Title: "T", Author: "A", ISBN: "I", TotalCopies: 1, AvailableCopies: 1}))

	assert.Equal(t, "[]", readFile(t, s, usersFile))
	assert.Equal(t, "[]", readFile(t, s, transactionsFile))
	assert.Contains(t, readFile(t, s, booksFile), `"total_copies": 1`)
}

func TestUpdateAndDelete(t *testing.T) {
	s, _ := openTemp(t)
	ctx := context.Background()
	b := library.Book{ID: "b1", Title: "T", Author: "A", ISBN: "I", TotalCopies: 2, AvailableCopies: 2}
	require.NoError(t, s.AddBook(ctx, b))
	require.NoError(t, s.AddBook(ctx, library.Book{ID: "b2", Title: "U", Author: "A", ISBN: "J", TotalCopies: 1, AvailableCopies: 1}))

	b.AvailableCopies = 1
	require.NoError(t, s.UpdateBook(ctx, b))
	require.NoError(t, s.UpdateBook(ctx, library.Book{ID: "ghost"}))

	got, err := s.FindBookByID(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.AvailableCopies)

	require.NoError(t, s.DeleteBook(ctx, "b1"))
	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "b2", books[0].ID)

	_, err = s.FindBookByID(ctx, "b1")
	assert.ErrorIs(t, err, library.ErrNoRecord)
}

func TestCanceledContext(t *testing.T) {
	s, _ := openTemp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.ListBooks(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.AddBook(ctx, library.Book{ID: "b1"}), context.Canceled)
}
