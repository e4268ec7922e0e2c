package library

import (
	"context"
	"errors"
	"fmt"
)

// TransferStats counts what Transfer wrote.
type TransferStats struct {
	Books, Users, Transactions int
	// SkippedUsers are usernames already taken by a different account in
	// the destination.
	SkippedUsers []string
}

// Transfer copies every record from src into dst in one destination
// transaction. Records whose id already exists in dst are replaced, so
// running it twice is harmless.
func Transfer(ctx context.Context, src, dst Store) (TransferStats, error) {
	var stats TransferStats

	books, err := src.ListBooks(ctx)
	if err != nil {
		return stats, fmt.Errorf("read books: %w", err)
	}
	users, err := src.ListUsers(ctx)
	if err != nil {
		return stats, fmt.Errorf("read users: %w", err)
	}
	txns, err := src.ListTransactions(ctx)
	if err != nil {
		return stats, fmt.Errorf("read transactions: %w", err)
	}

	err = dst.WithinTx(ctx, func(tx Store) error {
		stats = TransferStats{}
		for _, b := range books {
			if err := upsert(ctx, b.ID, tx.FindBookByID, func() error { return tx.AddBook(ctx, b) },
				func() error { return tx.UpdateBook(ctx, b) }); err != nil {
				return fmt.Errorf("book %s: %w", b.ID, err)
			}
			stats.Books++
		}
		for _, u := range users {
			existing, err := tx.FindUserByUsername(ctx, u.Username)
			switch {
			case err == nil && existing.ID != u.ID:
				stats.SkippedUsers = append(stats.SkippedUsers, u.Username)
				continue
			case err != nil && !errors.Is(err, ErrNoRecord):
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
			if err := upsert(ctx, u.ID, tx.FindUserByID, func() error { return tx.AddUser(ctx, u) },
				func() error { return tx.UpdateUser(ctx, u) }); err != nil {
				return fmt.Errorf("user %s: %w", u.ID, err)
			}
			stats.Users++
		}
		for _, t := range txns {
			if err := upsert(ctx, t.ID, tx.FindTransactionByID, func() error { return tx.AddTransaction(ctx, t) },
				func() error { return tx.UpdateTransaction(ctx, t) }); err != nil {
				return fmt.Errorf("transaction %s: %w", t.ID, err)
			}
			stats.Transactions++
		}
		return nil
	})
	return stats, err
}

func upsert[T any](ctx context.Context, id string, find func(context.Context, string) (T, error), add, update func() error) error {
	_, err := find(ctx, id)
	switch {
	case err == nil:
		return update()
	case errors.Is(err, ErrNoRecord):
		return add()
	default:
		return err
	}
}
