package filestore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"library-lending/library"
)

// On-disk shapes. Field names match the data files written by earlier
// versions of the system, so existing directories load unchanged.

type bookRecord struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            string  `json:"isbn"`
	Publisher       *string `json:"publisher"`
	Year            *int    `json:"year"`
	TotalCopies     *int    `json:"total_copies"`
	AvailableCopies *int    `json:"available_copies"`
}

func newBookRecord(b library.Book) bookRecord {
	total, avail := b.TotalCopies, b.AvailableCopies
	return bookRecord{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		Publisher:       b.Publisher,
		Year:            b.Year,
		TotalCopies:     &total,
		AvailableCopies: &avail,
	}
}

func (r bookRecord) book() (library.Book, error) {
	if r.ID == "" {
		return library.Book{}, fmt.Errorf("book record without id")
	}
	total := 1
	if r.TotalCopies != nil {
		total = *r.TotalCopies
	}
	avail := total
	if r.AvailableCopies != nil {
		avail = *r.AvailableCopies
	}
	return library.Book{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		Publisher:       r.Publisher,
		Year:            r.Year,
		TotalCopies:     total,
		AvailableCopies: avail,
	}, nil
}

type userRecord struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Password       string  `json:"password"`
	Name           string  `json:"name"`
	Email          *string `json:"email"`
	Role           string  `json:"role"`
	RegisteredDate string  `json:"registered_date"`
}

func newUserRecord(u library.User) userRecord {
	return userRecord{
		ID:             u.ID,
		Username:       u.Username,
		Password:       u.PasswordHash,
		Name:           u.Name,
		Email:          u.Email,
		Role:           string(u.Role),
		RegisteredDate: u.RegisteredAt.UTC().Format(library.DateLayout),
	}
}

func (r userRecord) user() (library.User, error) {
	if r.ID == "" {
		return library.User{}, fmt.Errorf("user record without id")
	}
	role := library.RoleMember
	if r.Role != "" {
		var err error
		if role, err = library.ParseRole(r.Role); err != nil {
			return library.User{}, fmt.Errorf("user %s: %w", r.ID, err)
		}
	}
	var registered time.Time
	if r.RegisteredDate != "" {
		var err error
		if registered, err = time.Parse(library.DateLayout, r.RegisteredDate); err != nil {
			return library.User{}, fmt.Errorf("user %s registered_date: %w", r.ID, err)
		}
	}
	return library.User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.Password,
		Name:         r.Name,
		Email:        r.Email,
		Role:         role,
		RegisteredAt: registered,
	}, nil
}

type transactionRecord struct {
	ID              string  `json:"id"`
	BookID          string  `json:"book_id"`
	UserID          string  `json:"user_id"`
	TransactionType string  `json:"transaction_type"`
	TransactionDate string  `json:"transaction_date"`
	DueDate         *string `json:"due_date"`
	ReturnDate      *string `json:"return_date"`
	Fine            float64 `json:"fine"`
}

// Timestamps in transactions.json carry no zone. They are wall-clock times
// in the store's location, which is what earlier versions wrote.

func formatTime(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(library.TimeLayout)
}

func formatOptionalTime(t *time.Time, loc *time.Location) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t, loc)
	return &s
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(library.TimeLayout, s, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func parseOptionalTime(s *string, loc *time.Location) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := parseTime(*s, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func newTransactionRecord(t library.Transaction, loc *time.Location) transactionRecord {
	return transactionRecord{
		ID:              t.ID,
		BookID:          t.BookID,
		UserID:          t.UserID,
		TransactionType: string(t.Type),
		TransactionDate: formatTime(t.TransactionDate, loc),
		DueDate:         formatOptionalTime(t.DueDate, loc),
		ReturnDate:      formatOptionalTime(t.ReturnDate, loc),
		Fine:            t.Fine.InexactFloat64(),
	}
}

func (r transactionRecord) transaction(loc *time.Location) (library.Transaction, error) {
	if r.ID == "" {
		return library.Transaction{}, fmt.Errorf("transaction record without id")
	}
	date, err := parseTime(r.TransactionDate, loc)
	if err != nil {
		return library.Transaction{}, fmt.Errorf("transaction %s date: %w", r.ID, err)
	}
	due, err := parseOptionalTime(r.DueDate, loc)
	if err != nil {
		return library.Transaction{}, fmt.Errorf("transaction %s due_date: %w", r.ID, err)
	}
	returned, err := parseOptionalTime(r.ReturnDate, loc)
	if err != nil {
		return library.Transaction{}, fmt.Errorf("transaction %s return_date: %w", r.ID, err)
	}
	typ := library.TransactionType(r.TransactionType)
	if typ == "" {
		typ = library.TransactionIssue
	}
	return library.Transaction{
		ID:              r.ID,
		BookID:          r.BookID,
		UserID:          r.UserID,
		Type:            typ,
		TransactionDate: date,
		DueDate:         due,
		ReturnDate:      returned,
		Fine:            decimal.NewFromFloat(r.Fine).Round(2),
	}, nil
}
