package swrcache

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrCanceled is returned to query waiters whose fetch was canceled by key.
	ErrCanceled = errors.New("swrcache: fetch canceled")
	// ErrClosed is returned by operations on a closed store or pager.
	ErrClosed = errors.New("swrcache: closed")
	// ErrPrecondition matches every *PreconditionError via errors.Is.
	ErrPrecondition = errors.New("swrcache: precondition failed")
)

// FetchError reports a failed read. The entry keeps its last good value.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError reports a rejected remote write. The entry was rolled back
// to its pre-mutation value before the error was delivered.
type MutationError struct {
	Key        string
	MutationID uuid.UUID
	Err        error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutate %q (%s): %v", e.Key, e.MutationID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// PreconditionError is a rejected call that left all state untouched
// (negative page index, malformed key, missing fetcher).
type PreconditionError struct {
	Op     string
	Key    string
	Reason string
}

func (e *PreconditionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Op, e.Key, e.Reason)
}

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }

func precondition(op, key, format string, args ...any) error {
	return &PreconditionError{Op: op, Key: key, Reason: fmt.Sprintf(format, args...)}
}
