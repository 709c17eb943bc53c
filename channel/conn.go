// Package channel binds a duplex, event-named message channel to a cache.
//
// A Binding owns one connection produced by a Transport. Inbound messages are
// handed to a caller-supplied Translator, which decides which cache keys to
// mark stale or update, and then to the handlers registered with On. The
// binding itself knows nothing about cache keys.
//
// Connection recovery is manual: when the transport closes, the binding moves
// to Disconnected and stays there until Connect or Reconnect is called.
package channel

import "context"

// Message is one inbound or outbound event.
type Message struct {
	Event   string
	Payload []byte
}

// Conn is one live transport connection. Implementations must be safe for
// concurrent use. Messages must be closed, or Done closed, when the
// connection ends.
type Conn interface {
	Emit(ctx context.Context, event string, payload []byte) error
	// Listen starts delivering event on Messages. Unlisten stops it.
	Listen(event string) error
	Unlisten(event string) error
	Messages() <-chan Message
	Done() <-chan struct{}
	// Err reports why the connection ended; nil while it is open or after Close.
	Err() error
	Close() error
}

// Transport dials connections.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context) (Conn, error)

func (f TransportFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// Translator turns an inbound message into cache operations.
type Translator interface {
	Translate(ctx context.Context, msg Message) error
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, msg Message) error

func (f TranslatorFunc) Translate(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Handler receives inbound messages for one event.
type Handler func(ctx context.Context, msg Message)
