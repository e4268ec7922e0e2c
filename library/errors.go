package library

import (
	"errors"
	"fmt"
)

// Kind sentinels for lending failures. Every failure returned by
// LibraryManager and Session matches exactly one of these via errors.Is.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrNotFound          = errors.New("not found")
	ErrNoCopiesAvailable = errors.New("no copies available")
	ErrAlreadyIssued     = errors.New("already issued")
	ErrNotIssuedToUser   = errors.New("not issued to user")
	ErrBookInUse         = errors.New("book in use")
	ErrValidation        = errors.New("validation error")

	ErrUsernameTaken     = errors.New("username taken")
	ErrUserNotFound      = errors.New("user not found")
	ErrIncorrectPassword = errors.New("incorrect password")
)

// ErrNoRecord is returned by Store lookups that match nothing.
var ErrNoRecord = errors.New("record not found")

// Error is a recoverable, user-facing failure. Message is suitable for
// display as-is; Kind is one of the package sentinels.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool { return errors.Is(e.Kind, target) }

func (e *Error) Unwrap() error { return e.Kind }

func failure(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsRecoverable reports whether err is a user-facing lending failure rather
// than a storage fault.
func IsRecoverable(err error) bool {
	var le *Error
	return errors.As(err, &le)
}
