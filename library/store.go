package library

import (
	"context"
	"time"
)

// Store is the persistence contract the lending logic is written against.
// Lookups that match nothing return ErrNoRecord. Update* replaces by id and
// is a no-op when the id is unknown. List* preserve insertion order.
type Store interface {
	ListBooks(ctx context.Context) ([]Book, error)
	ListUsers(ctx context.Context) ([]User, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)

	FindBookByID(ctx context.Context, id string) (Book, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	// FindUserByUsername matches case-insensitively.
	FindUserByUsername(ctx context.Context, username string) (User, error)
	FindTransactionByID(ctx context.Context, id string) (Transaction, error)

	AddBook(ctx context.Context, b Book) error
	AddUser(ctx context.Context, u User) error
	AddTransaction(ctx context.Context, t Transaction) error

	UpdateBook(ctx context.Context, b Book) error
	UpdateUser(ctx context.Context, u User) error
	UpdateTransaction(ctx context.Context, t Transaction) error

	DeleteBook(ctx context.Context, id string) error

	QueryTransactionsByUser(ctx context.Context, userID string, activeOnly bool) ([]Transaction, error)
	QueryTransactionsByBook(ctx context.Context, bookID string, activeOnly bool) ([]Transaction, error)
	QueryOverdueTransactions(ctx context.Context, now time.Time) ([]Transaction, error)

	SearchBooks(ctx context.Context, query string, field SearchField) ([]Book, error)

	// WithinTx runs fn against a Store whose reads and writes are isolated
	// from other callers and committed together when fn returns nil.
	WithinTx(ctx context.Context, fn func(Store) error) error

	Close() error
}
