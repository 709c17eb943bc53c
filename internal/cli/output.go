package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/unkn0wn-root/swrcache"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // fetch failed, mutation rejected, channel lost
	ExitCommandError = 2 // bad flags or config, unreachable endpoint
)

// ExitError carries the process exit code for an error.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from err; ExitFailure if it has none.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// EntryView is the JSON rendering of a cache entry.
type EntryView struct {
	Key         string           `json:"key"`
	Value       json.RawMessage  `json:"value,omitempty"`
	Revision    uint64           `json:"revision"`
	Status      string           `json:"status"`
	Stale       bool             `json:"stale"`
	Paging      *swrcache.Paging `json:"paging,omitempty"`
	UpdatedAt   *time.Time       `json:"updated_at,omitempty"`
	Subscribers int              `json:"subscribers"`
	Error       string           `json:"error,omitempty"`
}

func newEntryView(e swrcache.Entry[json.RawMessage]) EntryView {
	v := EntryView{
		Key:         e.Key.String(),
		Revision:    e.Revision,
		Status:      e.Status.String(),
		Stale:       e.Stale,
		Paging:      e.Paging,
		Subscribers: e.Subscribers,
	}
	if e.HasValue {
		v.Value = e.Value
	}
	if !e.UpdatedAt.IsZero() {
		t := e.UpdatedAt
		v.UpdatedAt = &t
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
