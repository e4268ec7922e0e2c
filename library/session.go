package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Session tracks the single logged-in identity of an interactive process.
// It lives until Logout or process exit.
type Session struct {
	store      Store
	bcryptCost int
	now        func() time.Time
	logger     *slog.Logger

	mu      sync.RWMutex
	current *Principal
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithBcryptCost sets the cost used for new password hashes.
func WithBcryptCost(cost int) SessionOption {
	return func(s *Session) {
		if cost != 0 {
			s.bcryptCost = cost
		}
	}
}

// WithSessionClock replaces time.Now for registration dates.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithSessionLogger sets the logger for account events.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func NewSession(store Store, opts ...SessionOption) *Session {
	s := &Session{
		store:      store,
		bcryptCost: bcrypt.DefaultCost,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterParams is the input to Register. Role defaults to member.
type RegisterParams struct {
	Username string
	Password string
	Name     string
	Email    string
	Role     Role
}

// Register creates an account. Usernames are unique regardless of case.
func (s *Session) Register(ctx context.Context, p RegisterParams) (User, error) {
	p.Username = strings.TrimSpace(p.Username)
	p.Name = strings.TrimSpace(p.Name)
	if p.Username == "" || p.Password == "" || p.Name == "" {
		return User{}, failure(ErrValidation, "Username, password, and name are required.")
	}
	if p.Role == "" {
		p.Role = RoleMember
	}
	if !p.Role.Valid() {
		return User{}, failure(ErrValidation, "Unknown role %q.", string(p.Role))
	}

	hash, err := HashPassword(p.Password, s.bcryptCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	u := User{
		ID:           uuid.NewString(),
		Username:     p.Username,
		PasswordHash: hash,
		Name:         p.Name,
		Email:        stringPtr(strings.TrimSpace(p.Email)),
		Role:         p.Role,
		RegisteredAt: s.now().UTC().Truncate(24 * time.Hour),
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		_, err := tx.FindUserByUsername(ctx, u.Username)
		switch {
		case err == nil:
			return failure(ErrUsernameTaken, "Username already exists.")
		case !errors.Is(err, ErrNoRecord):
			return err
		}
		return tx.AddUser(ctx, u)
	})
	if err != nil {
		return User{}, wrapStorage("register user", err)
	}

	s.logger.Info("user registered", "user_id", u.ID, "username", u.Username, "role", u.Role)
	return u, nil
}

// Login verifies credentials and binds the user to the session. Legacy
// password hashes are replaced with bcrypt on success.
func (s *Session) Login(ctx context.Context, username, password string) (Principal, error) {
	u, err := s.store.FindUserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrNoRecord) {
		return Principal{}, failure(ErrUserNotFound, "User not found.")
	}
	if err != nil {
		return Principal{}, fmt.Errorf("find user: %w", err)
	}

	ok, legacy := VerifyPassword(u.PasswordHash, password)
	if !ok {
		return Principal{}, failure(ErrIncorrectPassword, "Incorrect password.")
	}
	if legacy {
		if err := s.rehash(ctx, u, password); err != nil {
			s.logger.Warn("upgrade legacy password hash failed", "user_id", u.ID, "error", err)
		}
	}

	p := PrincipalFor(u)
	s.mu.Lock()
	s.current = &p
	s.mu.Unlock()
	s.logger.Info("user logged in", "user_id", u.ID, "username", u.Username)
	return p, nil
}

func (s *Session) rehash(ctx context.Context, u User, password string) error {
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return s.store.WithinTx(ctx, func(tx Store) error { return tx.UpdateUser(ctx, u) })
}

// Logout clears the bound identity. It is a no-op when nobody is logged in.
func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.logger.Info("user logged out", "user_id", s.current.UserID)
	}
	s.current = nil
}

// Current returns the bound principal, or the anonymous principal and false.
func (s *Session) Current() (Principal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Principal{}, false
	}
	return *s.current, true
}

// ChangePassword replaces the bound user's password after verifying the
// current one.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	p, ok := s.Current()
	if !ok {
		return failure(ErrUnauthorized, "No user is logged in.")
	}
	if next == "" {
		return failure(ErrValidation, "New password must not be empty.")
	}
	hash, err := HashPassword(next, s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	err = s.store.WithinTx(ctx, func(tx Store) error {
		u, err := tx.FindUserByID(ctx, p.UserID)
		if errors.Is(err, ErrNoRecord) {
			return failure(ErrUserNotFound, "User not found.")
		}
		if err != nil {
			return err
		}
		if ok, _ := VerifyPassword(u.PasswordHash, current); !ok {
			return failure(ErrIncorrectPassword, "Current password is incorrect.")
		}
		u.PasswordHash = hash
		return tx.UpdateUser(ctx, u)
	})
	if err != nil {
		return wrapStorage("change password", err)
	}
	s.logger.Info("password changed", "user_id", p.UserID)
	return nil
}
