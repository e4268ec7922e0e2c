package filestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"library-lending/library"
)

// snapshot is the in-memory view a WithinTx callback works on. Nothing
// reaches disk until the callback returns nil.
type snapshot struct {
	books        []library.Book
	users        []library.User
	transactions []library.Transaction

	dirtyBooks, dirtyUsers, dirtyTransactions bool
}

var _ library.Store = (*snapshot)(nil)

func (sn *snapshot) WithinTx(_ context.Context, fn func(library.Store) error) error { return fn(sn) }

func (sn *snapshot) Close() error {
	return errors.New("close called on a transaction-scoped store")
}

func (sn *snapshot) ListBooks(context.Context) ([]library.Book, error) {
	return append(make([]library.Book, 0, len(sn.books)), sn.books...), nil
}

func (sn *snapshot) ListUsers(context.Context) ([]library.User, error) {
	return append(make([]library.User, 0, len(sn.users)), sn.users...), nil
}

func (sn *snapshot) ListTransactions(context.Context) ([]library.Transaction, error) {
	return append(make([]library.Transaction, 0, len(sn.transactions)), sn.transactions...), nil
}

func (sn *snapshot) FindBookByID(_ context.Context, id string) (library.Book, error) {
	for _, b := range sn.books {
		if b.ID == id {
			return b, nil
		}
	}
	return library.Book{}, library.ErrNoRecord
}

func (sn *snapshot) FindUserByID(_ context.Context, id string) (library.User, error) {
	for _, u := range sn.users {
		if u.ID == id {
			return u, nil
		}
	}
	return library.User{}, library.ErrNoRecord
}

func (sn *snapshot) FindUserByUsername(_ context.Context, username string) (library.User, error) {
	for _, u := range sn.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return library.User{}, library.ErrNoRecord
}

func (sn *snapshot) FindTransactionByID(_ context.Context, id string) (library.Transaction, error) {
	for _, t := range sn.transactions {
		if t.ID == id {
			return t, nil
		}
	}
	return library.Transaction{}, library.ErrNoRecord
}

func (sn *snapshot) AddBook(_ context.Context, b library.Book) error {
	sn.books = append(sn.books, b)
	sn.dirtyBooks = true
	return nil
}

func (sn *snapshot) AddUser(_ context.Context, u library.User) error {
	sn.users = append(sn.users, u)
	sn.dirtyUsers = true
	return nil
}

func (sn *snapshot) AddTransaction(_ context.Context, t library.Transaction) error {
	sn.transactions = append(sn.transactions, t)
	sn.dirtyTransactions = true
	return nil
}

func (sn *snapshot) UpdateBook(_ context.Context, b library.Book) error {
	for i := range sn.books {
		if sn.books[i].ID == b.ID {
			sn.books[i] = b
			sn.dirtyBooks = true
			break
		}
	}
	return nil
}

func (sn *snapshot) UpdateUser(_ context.Context, u library.User) error {
	for i := range sn.users {
		if sn.users[i].ID == u.ID {
			sn.users[i] = u
			sn.dirtyUsers = true
			break
		}
	}
	return nil
}

func (sn *snapshot) UpdateTransaction(_ context.Context, t library.Transaction) error {
	for i := range sn.transactions {
		if sn.transactions[i].ID == t.ID {
			sn.transactions[i] = t
			sn.dirtyTransactions = true
			break
		}
	}
	return nil
}

func (sn *snapshot) DeleteBook(_ context.Context, id string) error {
	kept := sn.books[:0]
	for _, b := range sn.books {
		if b.ID != id {
			kept = append(kept, b)
		}
	}
	if len(kept) != len(sn.books) {
		sn.dirtyBooks = true
	}
	sn.books = kept
	return nil
}

func (sn *snapshot) filterTransactions(keep func(library.Transaction) bool) []library.Transaction {
	out := []library.Transaction{}
	for _, t := range sn.transactions {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

func (sn *snapshot) QueryTransactionsByUser(_ context.Context, userID string, activeOnly bool) ([]library.Transaction, error) {
	return sn.filterTransactions(func(t library.Transaction) bool {
		return t.UserID == userID && (!activeOnly || t.Active())
	}), nil
}

func (sn *snapshot) QueryTransactionsByBook(_ context.Context, bookID string, activeOnly bool) ([]library.Transaction, error) {
	return sn.filterTransactions(func(t library.Transaction) bool {
		return t.BookID == bookID && (!activeOnly || t.Active())
	}), nil
}

func (sn *snapshot) QueryOverdueTransactions(_ context.Context, now time.Time) ([]library.Transaction, error) {
	return sn.filterTransactions(func(t library.Transaction) bool { return t.Overdue(now) }), nil
}

func (sn *snapshot) SearchBooks(_ context.Context, query string, field library.SearchField) ([]library.Book, error) {
	out := []library.Book{}
	for _, b := range sn.books {
		if field.MatchesBook(b, query) {
			out = append(out, b)
		}
	}
	return out, nil
}
