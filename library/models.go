package library

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the fixed timestamp format used by every persistence provider.
const TimeLayout = "2006-01-02 15:04:05"

// DateLayout is used for the user registration date.
const DateLayout = "2006-01-02"

// Book represents catalog metadata and current availability of a title.
// Copies are counted, not tracked individually.
type Book struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Author          string  `json:"author"`
	ISBN            string  `json:"isbn"`
	Publisher       *string `json:"publisher"`
	Year            *int    `json:"year"`
	TotalCopies     int     `json:"total_copies"`
	AvailableCopies int     `json:"available_copies"`
}

func (b Book) String() string {
	return fmt.Sprintf("%s by %s (ISBN: %s)", b.Title, b.Author, b.ISBN)
}

// Role is the closed set of account roles.
type Role string

const (
	RoleMember    Role = "member"
	RoleLibrarian Role = "librarian"
	RoleAdmin     Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleMember:
		return 1
	case RoleLibrarian:
		return 2
	case RoleAdmin:
		return 3
	}
	return 0
}

// Satisfies reports whether r meets a check that requires the given role.
// admin satisfies librarian and member checks, librarian satisfies member checks.
func (r Role) Satisfies(required Role) bool {
	return r.rank() > 0 && r.rank() >= required.rank()
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool { return r.rank() > 0 }

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// User is a registered account. PasswordHash is never serialized to events.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Email        *string   `json:"email"`
	Role         Role      `json:"role"`
	RegisteredAt time.Time `json:"registered_date"`
}

func (u User) String() string { return fmt.Sprintf("%s (%s)", u.Name, u.Username) }

// TransactionType distinguishes issue records from return records.
type TransactionType string

const (
	TransactionIssue TransactionType = "issue"
	// TransactionReturn is declared for storage compatibility only. Returns
	// are recorded by setting ReturnDate on the issue record.
	TransactionReturn TransactionType = "return"
)

// Transaction is one loan of one copy of a book to one user.
type Transaction struct {
	ID              string          `json:"id"`
	BookID          string          `json:"book_id"`
	UserID          string          `json:"user_id"`
	Type            TransactionType `json:"transaction_type"`
	TransactionDate time.Time       `json:"transaction_date"`
	DueDate         *time.Time      `json:"due_date"`
	ReturnDate      *time.Time      `json:"return_date"`
	Fine            decimal.Decimal `json:"fine"`
}

// Active reports whether the book is still out with the user.
func (t Transaction) Active() bool {
	return t.Type == TransactionIssue && t.ReturnDate == nil
}

// Overdue is evaluated at now and never stored.
func (t Transaction) Overdue(now time.Time) bool {
	return t.Active() && t.DueDate != nil && now.After(*t.DueDate)
}

// DaysOverdue returns whole days between the due date and at, or 0.
func (t Transaction) DaysOverdue(at time.Time) int64 {
	if t.DueDate == nil || !at.After(*t.DueDate) {
		return 0
	}
	return int64(at.Sub(*t.DueDate) / (24 * time.Hour))
}

// AccruedFine returns the fine owed as of now, rounded to cents. Once the
// transaction is returned the stored fine is authoritative and is returned
// unchanged.
func (t Transaction) AccruedFine(now time.Time, ratePerDay decimal.Decimal) decimal.Decimal {
	if t.ReturnDate != nil {
		return t.Fine
	}
	if !t.Overdue(now) {
		return decimal.Zero
	}
	return ratePerDay.Mul(decimal.NewFromInt(t.DaysOverdue(now))).Round(2)
}

// Principal is the identity an operation is performed as. The zero value is
// anonymous.
type Principal struct {
	UserID   string
	Username string
	Name     string
	Role     Role
}

const systemPrincipalID = "system"

// SystemPrincipal acts as an administrator for bootstrap work such as seeding
// the catalog.
func SystemPrincipal() Principal {
	return Principal{UserID: systemPrincipalID, Username: systemPrincipalID, Name: "System", Role: RoleAdmin}
}

// Authenticated reports whether p represents a logged-in identity.
func (p Principal) Authenticated() bool { return p.UserID != "" && p.Role.Valid() }

// PrincipalFor builds the principal for a stored user.
func PrincipalFor(u User) Principal {
	return Principal{UserID: u.ID, Username: u.Username, Name: u.Name, Role: u.Role}
}

// LoanView is a user's active loan with values derived at query time.
type LoanView struct {
	Book        Book
	Transaction Transaction
	DueDate     time.Time
	IsOverdue   bool
	Fine        decimal.Decimal
}

// OverdueItem joins an overdue loan with its book and borrower.
type OverdueItem struct {
	Transaction Transaction
	Book        Book
	User        User
	DaysLate    int64
	Fine        decimal.Decimal
}

// SearchField restricts SearchBooks to a single column. The zero value
// searches title, author and ISBN together.
type SearchField string

const (
	SearchAny    SearchField = ""
	SearchTitle  SearchField = "title"
	SearchAuthor SearchField = "author"
	SearchISBN   SearchField = "isbn"
)

// Valid reports whether f names a searchable field.
func (f SearchField) Valid() bool {
	switch f {
	case SearchAny, SearchTitle, SearchAuthor, SearchISBN:
		return true
	}
	return false
}

// MatchesBook applies the search rule to a single book.
func (f SearchField) MatchesBook(b Book, query string) bool {
	q := strings.ToLower(query)
	contains := func(s string) bool { return strings.Contains(strings.ToLower(s), q) }
	switch f {
	case SearchAny:
		return contains(b.Title) || contains(b.Author) || contains(b.ISBN)
	case SearchTitle:
		return contains(b.Title)
	case SearchAuthor:
		return contains(b.Author)
	case SearchISBN:
		return contains(b.ISBN)
	}
	return false
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// FormatTime renders t in TimeLayout (UTC).
func FormatTime(t time.Time) string { return t.UTC().Format(TimeLayout) }

// ParseTime parses a TimeLayout timestamp as UTC.
func ParseTime(s string) (time.Time, error) { return time.Parse(TimeLayout, s) }

// FormatOptionalTime renders t, or returns nil when t is nil.
func FormatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

// ParseOptionalTime is the inverse of FormatOptionalTime.
func ParseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
