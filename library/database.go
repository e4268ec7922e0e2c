package library

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// driverName is go-sqlite3 with a fold(text) function that lowercases with
// Go's Unicode tables. SQLite's own lower() only folds ASCII.
const driverName = "sqlite3_library"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Deterministic, so it may back the username index.
			return conn.RegisterFunc("fold", strings.ToLower, true)
		},
	})
}

const (
	tableBooks        = "books"
	tableUsers        = "users"
	tableTransactions = "transactions"
	colSeq            = "seq"
	colID             = "id"
)

var (
	dialect = goqu.Dialect("sqlite3")

	bookColumns        = []any{"id", "title", "author", "isbn", "publisher", "year", "total_copies", "available_copies"}
	userColumns        = []any{"id", "username", "password", "name", "email", "role", "registered_date"}
	transactionColumns = []any{"id", "book_id", "user_id", "transaction_type", "transaction_date", "due_date", "return_date", "fine"}
)

// Database is the SQLite-backed Store. Every multi-write operation of the
// lending logic runs inside a single SQLite transaction.
type Database struct {
	queries
	db     *sqlx.DB
	logger *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*Database)

// WithDatabaseLogger sets the logger used for migrations and rollback failures.
func WithDatabaseLogger(logger *slog.Logger) DatabaseOption {
	return func(d *Database) { d.logger = logger }
}

// NewDatabase opens (or creates) the SQLite database at dbPath and applies
// schema migrations.
func NewDatabase(dbPath string, opts ...DatabaseOption) (*Database, error) {
	d := &Database{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	// Immediate transactions take the write lock up front, so two
	// read-check-write sequences can never interleave.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", dbPath)

	if err := applyMigrations(dsn, d.logger); err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	d.db = db
	d.queries = queries{ext: db}
	return d, nil
}

// Close closes the DB.
func (d *Database) Close() error { return d.db.Close() }

// WithinTx runs fn inside a SQLite transaction, committing when fn returns
// nil and rolling back on error or panic.
func (d *Database) WithinTx(ctx context.Context, fn func(Store) error) (err error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				d.logger.Error("rollback failed", "error", rbErr)
			}
		}
	}()

	if err = fn(txStore{queries{ext: tx}}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// txStore is the Store handed to WithinTx callbacks.
type txStore struct{ queries }

// WithinTx joins the enclosing transaction.
func (t txStore) WithinTx(_ context.Context, fn func(Store) error) error { return fn(t) }

func (txStore) Close() error { return errors.New("close called on a transaction-scoped store") }

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

func applyMigrations(dsn string, logger *slog.Logger) error {
	// The migrate driver closes the connection it is given, so it gets its own.
	conn, err := sql.Open(driverName, dsn)
	if err != nil {
		return fmt.Errorf("open sqlite for migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		conn.Close()
		return fmt.Errorf("migration driver: %w", err)
	}
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		driver.Close()
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("migration init: %w", err)
	}
	defer m.Close()
	m.Log = migrateLogger{logger: logger}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

type migrateLogger struct{ logger *slog.Logger }

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return false }

// ---------------------------------------------------------------------------
// Rows
// ---------------------------------------------------------------------------

type bookRow struct {
	ID              string  `db:"id"`
	Title           string  `db:"title"`
	Author          string  `db:"author"`
	ISBN            string  `db:"isbn"`
	Publisher       *string `db:"publisher"`
	Year            *int    `db:"year"`
	TotalCopies     int     `db:"total_copies"`
	AvailableCopies int     `db:"available_copies"`
}

func (r bookRow) book() Book { return Book(r) }

type userRow struct {
	ID             string  `db:"id"`
	Username       string  `db:"username"`
	Password       string  `db:"password"`
	Name           string  `db:"name"`
	Email          *string `db:"email"`
	Role           string  `db:"role"`
	RegisteredDate string  `db:"registered_date"`
}

func newUserRow(u User) userRow {
	return userRow{
		ID:             u.ID,
		Username:       u.Username,
		Password:       u.PasswordHash,
		Name:           u.Name,
		Email:          u.Email,
		Role:           string(u.Role),
		RegisteredDate: u.RegisteredAt.UTC().Format(DateLayout),
	}
}

func (r userRow) user() (User, error) {
	role, err := ParseRole(r.Role)
	if err != nil {
		return User{}, fmt.Errorf("user %s: %w", r.ID, err)
	}
	registered, err := time.Parse(DateLayout, r.RegisteredDate)
	if err != nil {
		return User{}, fmt.Errorf("user %s registered_date: %w", r.ID, err)
	}
	return User{
		ID:           r.ID,
		Username:     r.Username,
		PasswordHash: r.Password,
		Name:         r.Name,
		Email:        r.Email,
		Role:         role,
		RegisteredAt: registered,
	}, nil
}

type transactionRow struct {
	ID              string  `db:"id"`
	BookID          string  `db:"book_id"`
	UserID          string  `db:"user_id"`
	Type            string  `db:"transaction_type"`
	TransactionDate string  `db:"transaction_date"`
	DueDate         *string `db:"due_date"`
	ReturnDate      *string `db:"return_date"`
	Fine            string  `db:"fine"`
}

func newTransactionRow(t Transaction) transactionRow {
	return transactionRow{
		ID:              t.ID,
		BookID:          t.BookID,
		UserID:          t.UserID,
		Type:            string(t.Type),
		TransactionDate: FormatTime(t.TransactionDate),
		DueDate:         FormatOptionalTime(t.DueDate),
		ReturnDate:      FormatOptionalTime(t.ReturnDate),
		Fine:            t.Fine.String(),
	}
}

func (r transactionRow) transaction() (Transaction, error) {
	date, err := ParseTime(r.TransactionDate)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s date: %w", r.ID, err)
	}
	due, err := ParseOptionalTime(r.DueDate)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s due_date: %w", r.ID, err)
	}
	returned, err := ParseOptionalTime(r.ReturnDate)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s return_date: %w", r.ID, err)
	}
	fine, err := decimal.NewFromString(r.Fine)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s fine: %w", r.ID, err)
	}
	return Transaction{
		ID:              r.ID,
		BookID:          r.BookID,
		UserID:          r.UserID,
		Type:            TransactionType(r.Type),
		TransactionDate: date,
		DueDate:         due,
		ReturnDate:      returned,
		Fine:            fine,
	}, nil
}

// ---------------------------------------------------------------------------
// Queries shared by the database and its transactions
// ---------------------------------------------------------------------------

type queries struct {
	ext sqlx.ExtContext
}

type sqlBuilder interface {
	ToSQL() (string, []any, error)
}

func (q queries) exec(ctx context.Context, what string, b sqlBuilder) error {
	query, args, err := b.ToSQL()
	if err != nil {
		return fmt.Errorf("build %s: %w", what, err)
	}
	if _, err := q.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func booksQuery() *goqu.SelectDataset {
	return dialect.From(tableBooks).Select(bookColumns...).Order(goqu.C(colSeq).Asc())
}

func usersQuery() *goqu.SelectDataset {
	return dialect.From(tableUsers).Select(userColumns...).Order(goqu.C(colSeq).Asc())
}

func transactionsQuery() *goqu.SelectDataset {
	return dialect.From(tableTransactions).Select(transactionColumns...).Order(goqu.C(colSeq).Asc())
}

func activeLoan() exp.Expression {
	return goqu.And(
		goqu.C("transaction_type").Eq(string(TransactionIssue)),
		goqu.C("return_date").IsNull(),
	)
}

func (q queries) selectBooks(ctx context.Context, ds *goqu.SelectDataset) ([]Book, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build book query: %w", err)
	}
	var rows []bookRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	books := make([]Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.book())
	}
	return books, nil
}

func (q queries) selectUsers(ctx context.Context, ds *goqu.SelectDataset) ([]User, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build user query: %w", err)
	}
	var rows []userRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	users := make([]User, 0, len(rows))
	for _, r := range rows {
		u, err := r.user()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

func (q queries) selectTransactions(ctx context.Context, ds *goqu.SelectDataset) ([]Transaction, error) {
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build transaction query: %w", err)
	}
	var rows []transactionRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select transactions: %w", err)
	}
	txs := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		t, err := r.transaction()
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, nil
}

func (q queries) ListBooks(ctx context.Context) ([]Book, error) {
	return q.selectBooks(ctx, booksQuery())
}

func (q queries) ListUsers(ctx context.Context) ([]User, error) {
	return q.selectUsers(ctx, usersQuery())
}

func (q queries) ListTransactions(ctx context.Context) ([]Transaction, error) {
	return q.selectTransactions(ctx, transactionsQuery())
}

func (q queries) FindBookByID(ctx context.Context, id string) (Book, error) {
	books, err := q.selectBooks(ctx, booksQuery().Where(goqu.C(colID).Eq(id)).Limit(1))
	if err != nil {
		return Book{}, err
	}
	if len(books) == 0 {
		return Book{}, fmt.Errorf("book %s: %w", id, ErrNoRecord)
	}
	return books[0], nil
}

func (q queries) FindUserByID(ctx context.Context, id string) (User, error) {
	users, err := q.selectUsers(ctx, usersQuery().Where(goqu.C(colID).Eq(id)).Limit(1))
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNoRecord)
	}
	return users[0], nil
}

func (q queries) FindUserByUsername(ctx context.Context, username string) (User, error) {
	users, err := q.selectUsers(ctx, usersQuery().Where(goqu.L("fold(username) = ?", strings.ToLower(username))).Limit(1))
	if err != nil {
		return User{}, err
	}
	if len(users) == 0 {
		return User{}, fmt.Errorf("username %q: %w", username, ErrNoRecord)
	}
	return users[0], nil
}

func (q queries) FindTransactionByID(ctx context.Context, id string) (Transaction, error) {
	txs, err := q.selectTransactions(ctx, transactionsQuery().Where(goqu.C(colID).Eq(id)).Limit(1))
	if err != nil {
		return Transaction{}, err
	}
	if len(txs) == 0 {
		return Transaction{}, fmt.Errorf("transaction %s: %w", id, ErrNoRecord)
	}
	return txs[0], nil
}

func (q queries) AddBook(ctx context.Context, b Book) error {
	return q.exec(ctx, "insert book", dialect.Insert(tableBooks).Rows(bookRow(b)).Prepared(true))
}

func (q queries) AddUser(ctx context.Context, u User) error {
	return q.exec(ctx, "insert user", dialect.Insert(tableUsers).Rows(newUserRow(u)).Prepared(true))
}

func (q queries) AddTransaction(ctx context.Context, t Transaction) error {
	return q.exec(ctx, "insert transaction", dialect.Insert(tableTransactions).Rows(newTransactionRow(t)).Prepared(true))
}

func (q queries) UpdateBook(ctx context.Context, b Book) error {
	return q.exec(ctx, "update book",
		dialect.Update(tableBooks).Set(bookRow(b)).Where(goqu.C(colID).Eq(b.ID)).Prepared(true))
}

func (q queries) UpdateUser(ctx context.Context, u User) error {
	return q.exec(ctx, "update user",
		dialect.Update(tableUsers).Set(newUserRow(u)).Where(goqu.C(colID).Eq(u.ID)).Prepared(true))
}

func (q queries) UpdateTransaction(ctx context.Context, t Transaction) error {
	return q.exec(ctx, "update transaction",
		dialect.Update(tableTransactions).Set(newTransactionRow(t)).Where(goqu.C(colID).Eq(t.ID)).Prepared(true))
}

func (q queries) DeleteBook(ctx context.Context, id string) error {
	return q.exec(ctx, "delete book", dialect.Delete(tableBooks).Where(goqu.C(colID).Eq(id)).Prepared(true))
}

func (q queries) QueryTransactionsByUser(ctx context.Context, userID string, activeOnly bool) ([]Transaction, error) {
	ds := transactionsQuery().Where(goqu.C("user_id").Eq(userID))
	if activeOnly {
		ds = ds.Where(activeLoan())
	}
	return q.selectTransactions(ctx, ds)
}

func (q queries) QueryTransactionsByBook(ctx context.Context, bookID string, activeOnly bool) ([]Transaction, error) {
	ds := transactionsQuery().Where(goqu.C("book_id").Eq(bookID))
	if activeOnly {
		ds = ds.Where(activeLoan())
	}
	return q.selectTransactions(ctx, ds)
}

func (q queries) QueryOverdueTransactions(ctx context.Context, now time.Time) ([]Transaction, error) {
	// Stored timestamps have second precision; the final comparison is
	// done on parsed values so both providers agree.
	candidates, err := q.selectTransactions(ctx, transactionsQuery().Where(
		activeLoan(),
		goqu.C("due_date").IsNotNull(),
		goqu.C("due_date").Lte(FormatTime(now)),
	))
	if err != nil {
		return nil, err
	}
	overdue := candidates[:0]
	for _, t := range candidates {
		if t.Overdue(now) {
			overdue = append(overdue, t)
		}
	}
	return overdue, nil
}

func (q queries) SearchBooks(ctx context.Context, query string, field SearchField) ([]Book, error) {
	if !field.Valid() {
		return []Book{}, nil
	}
	needle := strings.ToLower(query)
	contains := func(col string) exp.Expression {
		return goqu.L("instr(fold("+col+"), ?) > 0", needle)
	}

	var cond exp.Expression
	if field == SearchAny {
		cond = goqu.Or(contains("title"), contains("author"), contains("isbn"))
	} else {
		cond = contains(string(field))
	}
	return q.selectBooks(ctx, booksQuery().Where(cond))
}
