package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// DefaultLoanDays is the loan period used when the caller does not pick one.
	DefaultLoanDays = 14

	msgLoginToIssue  = "You must be logged in to issue a book."
	msgLoginToReturn = "You must be logged in to return a book."
	msgLoginToView   = "You must be logged in to view your books."
	msgBookNotFound  = "Book not found."
)

// DefaultFineRate is charged per whole day a loan is overdue.
var DefaultFineRate = decimal.RequireFromString("0.50")

// LibraryManager is the lending engine. It enforces borrowing and return
// rules, keeps availability counts consistent with transaction history and
// gates catalog mutation by role. The acting principal is passed to every
// call.
type LibraryManager struct {
	store    Store
	now      func() time.Time
	fineRate decimal.Decimal
	loanDays int
	logger   *slog.Logger
	notifier Notifier
}

// Option configures a LibraryManager.
type Option func(*LibraryManager)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(lm *LibraryManager) { lm.now = now }
}

// WithFineRate sets the fine charged per overdue day.
func WithFineRate(rate decimal.Decimal) Option {
	return func(lm *LibraryManager) { lm.fineRate = rate }
}

// WithLoanDays sets the loan period used when IssueBook gets loanDays <= 0.
func WithLoanDays(days int) Option {
	return func(lm *LibraryManager) {
		if days > 0 {
			lm.loanDays = days
		}
	}
}

// WithLogger sets the logger for committed mutations.
func WithLogger(logger *slog.Logger) Option {
	return func(lm *LibraryManager) { lm.logger = logger }
}

// WithNotifier sets where lending events are published.
func WithNotifier(n Notifier) Option {
	return func(lm *LibraryManager) { lm.notifier = n }
}

// NewLibraryManager builds a lending engine over store.
func NewLibraryManager(store Store, opts ...Option) *LibraryManager {
	lm := &LibraryManager{
		store:    store,
		now:      time.Now,
		fineRate: DefaultFineRate,
		loanDays: DefaultLoanDays,
		logger:   slog.Default(),
		notifier: nopNotifier{},
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying store.
func (lm *LibraryManager) Close() error { return lm.store.Close() }

// Store exposes the persistence provider the engine was built on.
func (lm *LibraryManager) Store() Store { return lm.store }

// FineRate returns the configured fine per overdue day.
func (lm *LibraryManager) FineRate() decimal.Decimal { return lm.fineRate }

// Outcome describes a successful operation.
type Outcome struct {
	Message     string
	Book        Book
	Transaction *Transaction
	Fine        decimal.Decimal
}

// NewBook carries catalog-add input. Copies must be at least 1; that is the
// caller's contract.
type NewBook struct {
	Title     string
	Author    string
	ISBN      string
	Publisher *string
	Year      *int
	Copies    int
}

// ------------------ Catalog ------------------

// AddBook adds copies to the catalog, merging into an existing book with
// the same ISBN.
func (lm *LibraryManager) AddBook(ctx context.Context, p Principal, nb NewBook) (Outcome, error) {
	if !p.Authenticated() || !p.Role.Satisfies(RoleLibrarian) {
		return Outcome{}, failure(ErrUnauthorized, "Only librarians can add books.")
	}
	nb.Title, nb.Author, nb.ISBN = strings.TrimSpace(nb.Title), strings.TrimSpace(nb.Author), strings.TrimSpace(nb.ISBN)
	if nb.Title == "" || nb.Author == "" || nb.ISBN == "" {
		return Outcome{}, failure(ErrValidation, "Title, author, and ISBN are required.")
	}

	var out Outcome
	err := lm.store.WithinTx(ctx, func(s Store) error {
		existing, found, err := findByISBN(ctx, s, nb.ISBN)
		if err != nil {
			return err
		}
		if found {
			existing.TotalCopies += nb.Copies
			existing.AvailableCopies += nb.Copies
			if err := s.UpdateBook(ctx, existing); err != nil {
				return err
			}
			out = Outcome{Message: fmt.Sprintf("Added %d copies of existing book: %s", nb.Copies, existing.Title), Book: existing}
			return nil
		}

		book := Book{
			ID:              uuid.NewString(),
			Title:           nb.Title,
			Author:          nb.Author,
			ISBN:            nb.ISBN,
			Publisher:       nb.Publisher,
			Year:            nb.Year,
			TotalCopies:     nb.Copies,
			AvailableCopies: nb.Copies,
		}
		if err := s.AddBook(ctx, book); err != nil {
			return err
		}
		out = Outcome{Message: fmt.Sprintf("Added new book: %s", book.Title), Book: book}
		return nil
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("add book: %w", err)
	}

	lm.logger.Info("book added", "book_id", out.Book.ID, "isbn", out.Book.ISBN, "copies", nb.Copies, "by", p.Username)
	lm.publish(ctx, Event{Type: EventBookAdded, BookID: out.Book.ID, ActorID: p.UserID, Copies: nb.Copies})
	return out, nil
}

func findByISBN(ctx context.Context, s Store, isbn string) (Book, bool, error) {
	candidates, err := s.SearchBooks(ctx, isbn, SearchISBN)
	if err != nil {
		return Book{}, false, err
	}
	for _, b := range candidates {
		if strings.EqualFold(strings.TrimSpace(b.ISBN), isbn) {
			return b, true, nil
		}
	}
	return Book{}, false, nil
}

// RemoveBook deletes a book that has no copy on loan. Historical
// transactions for it are kept.
func (lm *LibraryManager) RemoveBook(ctx context.Context, p Principal, bookID string) (Outcome, error) {
	if !p.Authenticated() || !p.Role.Satisfies(RoleLibrarian) {
		return Outcome{}, failure(ErrUnauthorized, "Only librarians can remove books.")
	}

	var book Book
	err := lm.store.WithinTx(ctx, func(s Store) error {
		var err error
		if book, err = s.FindBookByID(ctx, bookID); err != nil {
			return notFound(err)
		}
		active, err := s.QueryTransactionsByBook(ctx, bookID, true)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return failure(ErrBookInUse, "Cannot remove book that is currently issued.")
		}
		return s.DeleteBook(ctx, bookID)
	})
	if err != nil {
		return Outcome{}, wrapStorage("remove book", err)
	}

	lm.logger.Info("book removed", "book_id", book.ID, "by", p.Username)
	lm.publish(ctx, Event{Type: EventBookRemoved, BookID: book.ID, ActorID: p.UserID})
	return Outcome{Message: fmt.Sprintf("Book removed: %s", book.Title), Book: book}, nil
}

// SearchBooks matches query case-insensitively as a substring of the chosen
// field, or of any of title, author and ISBN when field is SearchAny.
func (lm *LibraryManager) SearchBooks(ctx context.Context, query string, field SearchField) ([]Book, error) {
	books, err := lm.store.SearchBooks(ctx, query, field)
	if err != nil {
		return nil, fmt.Errorf("search books: %w", err)
	}
	return books, nil
}

// AllBooks returns the catalog in insertion order.
func (lm *LibraryManager) AllBooks(ctx context.Context) ([]Book, error) {
	books, err := lm.store.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// ------------------ Circulation ------------------

// IssueBook lends one copy of a book to p for loanDays (the configured
// default when loanDays <= 0).
func (lm *LibraryManager) IssueBook(ctx context.Context, p Principal, bookID string, loanDays int) (Outcome, error) {
	if !p.Authenticated() {
		return Outcome{}, failure(ErrUnauthorized, msgLoginToIssue)
	}
	if loanDays <= 0 {
		loanDays = lm.loanDays
	}

	now := lm.timestamp()
	var (
		book Book
		txn  Transaction
	)
	err := lm.store.WithinTx(ctx, func(s Store) error {
		var err error
		if book, err = s.FindBookByID(ctx, bookID); err != nil {
			return notFound(err)
		}
		if book.AvailableCopies <= 0 {
			return failure(ErrNoCopiesAvailable, "No copies of this book are available.")
		}
		held, err := s.QueryTransactionsByUser(ctx, p.UserID, true)
		if err != nil {
			return err
		}
		for _, t := range held {
			if t.BookID == bookID {
				return failure(ErrAlreadyIssued, "You already have this book issued.")
			}
		}

		due := now.AddDate(0, 0, loanDays)
		txn = Transaction{
			ID:              uuid.NewString(),
			BookID:          bookID,
			UserID:          p.UserID,
			Type:            TransactionIssue,
			TransactionDate: now,
			DueDate:         &due,
			Fine:            decimal.Zero,
		}
		if err := s.AddTransaction(ctx, txn); err != nil {
			return err
		}
		book.AvailableCopies--
		return s.UpdateBook(ctx, book)
	})
	if err != nil {
		return Outcome{}, wrapStorage("issue book", err)
	}

	lm.logger.Info("book issued", "book_id", book.ID, "user_id", p.UserID, "due", FormatTime(*txn.DueDate))
	lm.publish(ctx, Event{Type: EventBookIssued, BookID: book.ID, UserID: p.UserID, ActorID: p.UserID, TransactionID: txn.ID, DueDate: txn.DueDate})
	return Outcome{Message: fmt.Sprintf("Book issued: %s", book.Title), Book: book, Transaction: &txn}, nil
}

// ReturnBook closes p's active loan of the book and freezes its fine.
func (lm *LibraryManager) ReturnBook(ctx context.Context, p Principal, bookID string) (Outcome, error) {
	if !p.Authenticated() {
		return Outcome{}, failure(ErrUnauthorized, msgLoginToReturn)
	}

	now := lm.timestamp()
	var (
		book Book
		txn  Transaction
	)
	err := lm.store.WithinTx(ctx, func(s Store) error {
		var err error
		if book, err = s.FindBookByID(ctx, bookID); err != nil {
			return notFound(err)
		}
		held, err := s.QueryTransactionsByUser(ctx, p.UserID, true)
		if err != nil {
			return err
		}
		found := false
		for _, t := range held {
			if t.BookID == bookID {
				txn, found = t, true
				break
			}
		}
		if !found {
			return failure(ErrNotIssuedToUser, "You do not have this book issued.")
		}

		// The fine is computed at the moment of return and never again.
		txn.Fine = txn.AccruedFine(now, lm.fineRate)
		txn.ReturnDate = &now
		if err := s.UpdateTransaction(ctx, txn); err != nil {
			return err
		}
		if book.AvailableCopies < book.TotalCopies {
			book.AvailableCopies++
		} else {
			lm.logger.Warn("return would exceed total copies", "book_id", book.ID, "total", book.TotalCopies)
		}
		return s.UpdateBook(ctx, book)
	})
	if err != nil {
		return Outcome{}, wrapStorage("return book", err)
	}

	lm.logger.Info("book returned", "book_id", book.ID, "user_id", p.UserID, "fine", txn.Fine.StringFixed(2))
	lm.publish(ctx, Event{Type: EventBookReturned, BookID: book.ID, UserID: p.UserID, ActorID: p.UserID, TransactionID: txn.ID, Fine: txn.Fine.StringFixed(2)})

	msg := fmt.Sprintf("Book returned: %s", book.Title)
	if txn.Fine.IsPositive() {
		msg = fmt.Sprintf("%s. Fine: $%s", msg, txn.Fine.StringFixed(2))
	}
	return Outcome{Message: msg, Book: book, Transaction: &txn, Fine: txn.Fine}, nil
}

// UserBooks lists p's active loans with overdue status and fine as of now.
func (lm *LibraryManager) UserBooks(ctx context.Context, p Principal) ([]LoanView, error) {
	if !p.Authenticated() {
		return nil, failure(ErrUnauthorized, msgLoginToView)
	}
	active, err := lm.store.QueryTransactionsByUser(ctx, p.UserID, true)
	if err != nil {
		return nil, fmt.Errorf("user books: %w", err)
	}

	now := lm.timestamp()
	views := make([]LoanView, 0, len(active))
	for _, t := range active {
		book, err := lm.store.FindBookByID(ctx, t.BookID)
		if errors.Is(err, ErrNoRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("user books: %w", err)
		}
		v := LoanView{
			Book:        book,
			Transaction: t,
			IsOverdue:   t.Overdue(now),
			Fine:        t.AccruedFine(now, lm.fineRate),
		}
		if t.DueDate != nil {
			v.DueDate = *t.DueDate
		}
		views = append(views, v)
	}
	return views, nil
}

// OverdueBooks lists every overdue loan with its book, borrower and the
// fine accrued so far.
func (lm *LibraryManager) OverdueBooks(ctx context.Context, p Principal) ([]OverdueItem, error) {
	if !p.Authenticated() || !p.Role.Satisfies(RoleLibrarian) {
		return nil, failure(ErrUnauthorized, "Only librarians can view overdue books.")
	}

	now := lm.timestamp()
	overdue, err := lm.store.QueryOverdueTransactions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("overdue books: %w", err)
	}

	items := make([]OverdueItem, 0, len(overdue))
	for _, t := range overdue {
		book, err := lm.store.FindBookByID(ctx, t.BookID)
		if errors.Is(err, ErrNoRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("overdue books: %w", err)
		}
		user, err := lm.store.FindUserByID(ctx, t.UserID)
		if errors.Is(err, ErrNoRecord) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("overdue books: %w", err)
		}
		items = append(items, OverdueItem{
			Transaction: t,
			Book:        book,
			User:        user,
			DaysLate:    t.DaysOverdue(now),
			Fine:        t.AccruedFine(now, lm.fineRate),
		})
	}
	return items, nil
}

// ------------------ Helpers ------------------

func notFound(err error) error {
	if errors.Is(err, ErrNoRecord) {
		return failure(ErrNotFound, msgBookNotFound)
	}
	return err
}

// wrapStorage leaves lending failures untouched so callers can show their
// message directly.
func wrapStorage(op string, err error) error {
	if IsRecoverable(err) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (lm *LibraryManager) publish(ctx context.Context, e Event) {
	e.OccurredAt = lm.timestamp()
	if err := lm.notifier.Publish(ctx, e); err != nil {
		lm.logger.Warn("publish lending event failed", "type", e.Type, "error", err)
	}
}

// timestamp is the engine clock at the precision every provider stores.
func (lm *LibraryManager) timestamp() time.Time {
	return lm.now().UTC().Truncate(time.Second)
}
