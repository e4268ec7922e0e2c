package library

import (
	"context"
	"time"
)

// EventType names a committed lending mutation.
type EventType string

const (
	EventBookAdded    EventType = "book.added"
	EventBookRemoved  EventType = "book.removed"
	EventBookIssued   EventType = "book.issued"
	EventBookReturned EventType = "book.returned"
)

// Event is published after a mutation commits. Publishing failures never
// undo the mutation.
type Event struct {
	Type          EventType  `json:"type"`
	BookID        string     `json:"book_id"`
	UserID        string     `json:"user_id,omitempty"`
	ActorID       string     `json:"actor_id,omitempty"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Copies        int        `json:"copies,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Fine          string     `json:"fine,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Notifier receives lending events.
type Notifier interface {
	Publish(ctx context.Context, e Event) error
}

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, Event) error { return nil }
