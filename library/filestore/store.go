// Package filestore keeps the library in three JSON files: books.json,
// users.json and transactions.json. It is the format older installations
// wrote and remains a drop-in alternative to the SQLite database.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"library-lending/library"
)

const (
	booksFile        = "books.json"
	usersFile        = "users.json"
	transactionsFile = "transactions.json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Store is a library.Store over a data directory. A process-wide mutex
// serializes access; every call reads the files fresh so edits made by
// another tool between calls are picked up.
type Store struct {
	dir    string
	logger *slog.Logger
	loc    *time.Location
	mu     sync.Mutex
}

var _ library.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for unreadable-file warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithLocation sets the zone timestamps in transactions.json are read and
// written in. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.loc = loc }
}

// Open prepares dir, creating it and any missing data file as an empty
// array.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, logger: slog.Default(), loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	for _, name := range []string{booksFile, usersFile, transactionsFile} {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		if err == nil {
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		if err := writeFileAtomic(path, []byte("[]")); err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) Close() error { return nil }

// WithinTx loads a snapshot of all three files, runs fn against it and
// writes back the files fn changed. Transactions are written before books so
// an interrupted write leaves at worst a loan record without its count change.
func (s *Store) WithinTx(ctx context.Context, fn func(library.Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load()
	if err := fn(snap); err != nil {
		return err
	}
	return s.flush(snap)
}

func (s *Store) read(ctx context.Context, fn func(*snapshot) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.load())
}

func (s *Store) write(ctx context.Context, fn func(library.Store) error) error {
	return s.WithinTx(ctx, fn)
}

// ------------------ Loading and flushing ------------------

func (s *Store) load() *snapshot {
	snap := &snapshot{}
	for _, r := range readArray[bookRecord](s, booksFile) {
		b, err := r.book()
		if err != nil {
			s.logger.Warn("skipping book record", "file", booksFile, "error", err)
			continue
		}
		snap.books = append(snap.books, b)
	}
	for _, r := range readArray[userRecord](s, usersFile) {
		u, err := r.user()
		if err != nil {
			s.logger.Warn("skipping user record", "file", usersFile, "error", err)
			continue
		}
		snap.users = append(snap.users, u)
	}
	for _, r := range readArray[transactionRecord](s, transactionsFile) {
		t, err := r.transaction(s.loc)
		if err != nil {
			s.logger.Warn("skipping transaction record", "file", transactionsFile, "error", err)
			continue
		}
		snap.transactions = append(snap.transactions, t)
	}
	return snap
}

// readArray decodes one data file. Missing or malformed content is treated
// as an empty collection.
func readArray[R any](s *Store, name string) []R {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("unreadable data file, treating as empty", "file", name, "error", err)
		}
		return nil
	}
	var out []R
	if err := json.Unmarshal(data, &out); err != nil {
		s.logger.Warn("malformed data file, treating as empty", "file", name, "error", err)
		return nil
	}
	return out
}

func (s *Store) flush(snap *snapshot) error {
	if snap.dirtyTransactions {
		recs := make([]transactionRecord, 0, len(snap.transactions))
		for _, t := range snap.transactions {
			recs = append(recs, newTransactionRecord(t, s.loc))
		}
		if err := s.writeArray(transactionsFile, recs); err != nil {
			return err
		}
	}
	if snap.dirtyBooks {
		recs := make([]bookRecord, 0, len(snap.books))
		for _, b := range snap.books {
			recs = append(recs, newBookRecord(b))
		}
		if err := s.writeArray(booksFile, recs); err != nil {
			return err
		}
	}
	if snap.dirtyUsers {
		recs := make([]userRecord, 0, len(snap.users))
		for _, u := range snap.users {
			recs = append(recs, newUserRecord(u))
		}
		if err := s.writeArray(usersFile, recs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) writeArray(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// writeFileAtomic replaces path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ------------------ library.Store ------------------

func (s *Store) ListBooks(ctx context.Context) (out []library.Book, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.ListBooks(ctx); return err })
	return out, err
}

func (s *Store) ListUsers(ctx context.Context) (out []library.User, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.ListUsers(ctx); return err })
	return out, err
}

func (s *Store) ListTransactions(ctx context.Context) (out []library.Transaction, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.ListTransactions(ctx); return err })
	return out, err
}

func (s *Store) FindBookByID(ctx context.Context, id string) (out library.Book, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.FindBookByID(ctx, id); return err })
	return out, err
}

func (s *Store) FindUserByID(ctx context.Context, id string) (out library.User, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.FindUserByID(ctx, id); return err })
	return out, err
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (out library.User, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.FindUserByUsername(ctx, username); return err })
	return out, err
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (out library.Transaction, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.FindTransactionByID(ctx, id); return err })
	return out, err
}

func (s *Store) AddBook(ctx context.Context, b library.Book) error {
	return s.write(ctx, func(st library.Store) error { return st.AddBook(ctx, b) })
}

func (s *Store) AddUser(ctx context.Context, u library.User) error {
	return s.write(ctx, func(st library.Store) error { return st.AddUser(ctx, u) })
}

func (s *Store) AddTransaction(ctx context.Context, t library.Transaction) error {
	return s.write(ctx, func(st library.Store) error { return st.AddTransaction(ctx, t) })
}

func (s *Store) UpdateBook(ctx context.Context, b library.Book) error {
	return s.write(ctx, func(st library.Store) error { return st.UpdateBook(ctx, b) })
}

func (s *Store) UpdateUser(ctx context.Context, u library.User) error {
	return s.write(ctx, func(st library.Store) error { return st.UpdateUser(ctx, u) })
}

func (s *Store) UpdateTransaction(ctx context.Context, t library.Transaction) error {
	return s.write(ctx, func(st library.Store) error { return st.UpdateTransaction(ctx, t) })
}

func (s *Store) DeleteBook(ctx context.Context, id string) error {
	return s.write(ctx, func(st library.Store) error { return st.DeleteBook(ctx, id) })
}

func (s *Store) QueryTransactionsByUser(ctx context.Context, userID string, activeOnly bool) (out []library.Transaction, err error) {
	err = s.read(ctx, func(sn *snapshot) error {
		out, err = sn.QueryTransactionsByUser(ctx, userID, activeOnly)
		return err
	})
	return out, err
}

func (s *Store) QueryTransactionsByBook(ctx context.Context, bookID string, activeOnly bool) (out []library.Transaction, err error) {
	err = s.read(ctx, func(sn *snapshot) error {
		out, err = sn.QueryTransactionsByBook(ctx, bookID, activeOnly)
		return err
	})
	return out, err
}

func (s *Store) QueryOverdueTransactions(ctx context.Context, now time.Time) (out []library.Transaction, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.QueryOverdueTransactions(ctx, now); return err })
	return out, err
}

func (s *Store) SearchBooks(ctx context.Context, query string, field library.SearchField) (out []library.Book, err error) {
	err = s.read(ctx, func(sn *snapshot) error { out, err = sn.SearchBooks(ctx, query, field); return err })
	return out, err
}
