package library_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-lending/library"
	"library-lending/library/filestore"
)

const legacyUsers = `[
  {"id": "u-admin", "username": "admin", "password": "240be518fabd2724ddb6f04eeb1da5967448d7e831c08c8fa822809f74c720a9",
   "name": "Administrator", "email": null, "role": "admin", "registered_date": "2024-01-02"},
  {"id": "u-riya", "username": "riya", "password": "240be518fabd2724ddb6f04eeb1da5967448d7e831c08c8fa822809f74c720a9",
   "name": "Riya", "email": "riya@example.com", "role": "member", "registered_date": "2024-01-03"}
]`

const legacyBooks = `[
  {"id": "b-c", "title": "C Programming Language", "author": "Brian Kernighan, Dennis Ritchie",
   "isbn": "978-0131103627", "publisher": "Prentice Hall", "year": 1988, "total_copies": 5, "available_copies": 4}
]`

const legacyTransactions = `[
  {"id": "t-1", "book_id": "b-c", "user_id": "u-riya", "transaction_type": "issue",
   "transaction_date": "2024-01-05 09:00:00", "due_date": "2024-01-19 09:00:00", "return_date": null, "fine": 0},
  {"id": "t-0", "book_id": "b-c", "user_id": "u-riya", "transaction_type": "issue",
   "transaction_date": "2023-12-01 09:00:00", "due_date": "2023-12-15 09:00:00", "return_date": "2023-12-18 10:00:00", "fine": 1.5}
]`

func writeLegacyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"users.json":        legacyUsers,
		"books.json":        legacyBooks,
		"transactions.json": legacyTransactions,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestTransferLegacyFilesIntoSQLite(t *testing.T) {
	ctx := context.Background()
	src, err := filestore.Open(writeLegacyDir(t), filestore.WithLogger(quietLogger()))
	require.NoError(t, err)
	dst, err := library.NewDatabase(filepath.Join(t.TempDir(), "library.db"), library.WithDatabaseLogger(quietLogger()))
	require.NoError(t, err)
	defer dst.Close()

	stats, err := library.Transfer(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Books)
	assert.Equal(t, 2, stats.Users)
	assert.Equal(t, 2, stats.Transactions)
	assert.Empty(t, stats.SkippedUsers)

	book, err := dst.FindBookByID(ctx, "b-c")
	require.NoError(t, err)
	assert.Equal(t, 4, book.AvailableCopies)
	require.NotNil(t, book.Publisher)
	assert.Equal(t, "Prentice Hall", *book.Publisher)

	closed, err := dst.FindTransactionByID(ctx, "t-0")
	require.NoError(t, err)
	assert.Equal(t, "1.50", closed.Fine.StringFixed(2))

	active, err := dst.QueryTransactionsByUser(ctx, "u-riya", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "t-1", active[0].ID)

	// Running it again replaces rather than duplicates.
	_, err = library.Transfer(ctx, src, dst)
	require.NoError(t, err)
	txns, err := dst.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Len(t, txns, 2)
}

func TestTransferImportedLegacyPasswordsStillWork(t *testing.T) {
	ctx := context.Background()
	src, err := filestore.Open(writeLegacyDir(t), filestore.WithLogger(quietLogger()))
	require.NoError(t, err)
	dst, err := library.NewDatabase(filepath.Join(t.TempDir(), "library.db"), library.WithDatabaseLogger(quietLogger()))
	require.NoError(t, err)
	defer dst.Close()

	_, err = library.Transfer(ctx, src, dst)
	require.NoError(t, err)

	sess := library.NewSession(dst, library.WithSessionLogger(quietLogger()))
	p, err := sess.Login(ctx, "riya", "admin123")
	require.NoError(t, err)
	assert.Equal(t, "u-riya", p.UserID)
}

func TestTransferSkipsTakenUsernames(t *testing.T) {
	ctx := context.Background()
	src, err := filestore.Open(writeLegacyDir(t), filestore.WithLogger(quietLogger()))
	require.NoError(t, err)
	dst, err := library.NewDatabase(filepath.Join(t.TempDir(), "library.db"), library.WithDatabaseLogger(quietLogger()))
	require.NoError(t, err)
	defer dst.Close()

	e := newEnv(t, dst)
	_, err = e.sess.Register(ctx, library.RegisterParams{Username: "Admin", Password: "x", Name: "Existing"})
	require.NoError(t, err)

	stats, err := library.Transfer(ctx, src, dst)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, stats.SkippedUsers)
	assert.Equal(t, 1, stats.Users)
}
