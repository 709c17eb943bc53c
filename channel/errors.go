package channel

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is wrapped by emit/listen calls made while disconnected.
	ErrNotConnected = errors.New("channel: not connected")
	// ErrConnectionLost is used when a transport closed without reporting why.
	ErrConnectionLost = errors.New("channel: connection lost")
)

// ChannelError reports a transport failure. After one the binding is
// Disconnected until the caller reconnects.
type ChannelError struct {
	Op    string // connect, listen, read, emit
	Event string
	Err   error
}

func (e *ChannelError) Error() string {
	if e.Event == "" {
		return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("channel %s %q: %v", e.Op, e.Event, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
