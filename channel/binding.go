package channel

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/swrcache"
)

// State is the connection state of a Binding.
type State uint8

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Registration is one On call. Pass it to Off to remove exactly that handler.
type Registration struct {
	ID    uuid.UUID
	Event string

	handler Handler
}

type Options struct {
	// Translator receives every inbound message before the handlers.
	Translator Translator

	// Events are listened to for the whole connection lifetime, independent
	// of registered handlers. Typically the events the Translator understands.
	Events []string

	Logger swrcache.Logger // if nil, NopLogger is used

	// OnStateChange is called outside the binding lock on every transition.
	// err is the *ChannelError that caused a drop to Disconnected, if any.
	OnStateChange func(from, to State, err error)

	DialTimeout time.Duration // 0 => bounded only by the Connect ctx
}

// Binding maintains one connection to a realtime endpoint.
type Binding struct {
	transport Transport
	opts      Options
	log       swrcache.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	gen      uint64 // bumped on every connect/disconnect; stale read loops exit quietly
	err      error
	handlers map[string][]*Registration
}

func New(t Transport, opts Options) (*Binding, error) {
	if t == nil {
		return nil, errors.New("channel: transport is required")
	}
	log := opts.Logger
	if log == nil {
		log = swrcache.NopLogger{}
	}
	return &Binding{
		transport: t,
		opts:      opts,
		log:       log,
		handlers:  make(map[string][]*Registration),
	}, nil
}

type transition struct {
	from, to State
	err      error
}

func (b *Binding) setStateLocked(to State, err error) transition {
	tr := transition{from: b.state, to: to, err: err}
	b.state = to
	return tr
}

func (b *Binding) fire(tr transition) {
	if tr.from == tr.to {
		return
	}
	b.log.Debug("channel state", swrcache.Fields{"from": tr.from.String(), "to": tr.to.String()})
	if b.opts.OnStateChange != nil {
		b.opts.OnStateChange(tr.from, tr.to, tr.err)
	}
}

// Connect dials the transport and listens to every known event. It is a
// no-op when already connected or connecting.
func (b *Binding) Connect(ctx context.Context) error {
	b.mu.Lock()
	if b.state != Disconnected {
		b.mu.Unlock()
		return nil
	}
	b.gen++
	gen := b.gen
	tr := b.setStateLocked(Connecting, nil)
	b.mu.Unlock()
	b.fire(tr)

	if b.opts.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.DialTimeout)
		defer cancel()
	}
	conn, err := b.transport.Dial(ctx)

	b.mu.Lock()
	if gen != b.gen {
		// Disconnect ran while dialing
		b.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return &ChannelError{Op: "connect", Err: ErrNotConnected}
	}
	if err != nil {
		return b.failConnectLocked(&ChannelError{Op: "connect", Err: err})
	}
	for _, ev := range b.eventsLocked() {
		if lerr := conn.Listen(ev); lerr != nil {
			_ = conn.Close()
			return b.failConnectLocked(&ChannelError{Op: "listen", Event: ev, Err: lerr})
		}
	}
	b.conn = conn
	b.err = nil
	tr = b.setStateLocked(Connected, nil)
	go b.readLoop(gen, conn)
	b.mu.Unlock()

	b.fire(tr)
	b.log.Info("channel connected", nil)
	return nil
}

func (b *Binding) failConnectLocked(cerr *ChannelError) error {
	b.err = cerr
	tr := b.setStateLocked(Disconnected, cerr)
	b.mu.Unlock()

	b.fire(tr)
	b.log.Warn("channel connect failed", swrcache.Fields{"err": cerr})
	return cerr
}

// Disconnect closes the connection. Handlers stay registered.
func (b *Binding) Disconnect() {
	b.mu.Lock()
	b.gen++
	conn := b.conn
	b.conn = nil
	tr := b.setStateLocked(Disconnected, nil)
	b.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			b.log.Debug("channel close", swrcache.Fields{"err": err})
		}
	}
	b.fire(tr)
}

// Reconnect is Disconnect followed by Connect.
func (b *Binding) Reconnect(ctx context.Context) error {
	b.Disconnect()
	return b.Connect(ctx)
}

func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the *ChannelError behind the last drop to Disconnected; nil
// after a successful connect.
func (b *Binding) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Emit publishes payload under event.
func (b *Binding) Emit(ctx context.Context, event string, payload []byte) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return &ChannelError{Op: "emit", Event: event, Err: ErrNotConnected}
	}
	if err := conn.Emit(ctx, event, payload); err != nil {
		return &ChannelError{Op: "emit", Event: event, Err: err}
	}
	return nil
}

// On adds h for event. Several handlers may be registered for one event; they
// run in registration order and each is removed only by its own Off. When the
// live connection refuses to listen, the registration is dropped and a
// *ChannelError is returned.
func (b *Binding) On(event string, h Handler) (*Registration, error) {
	if event == "" {
		return nil, errors.New("channel: empty event name")
	}
	if h == nil {
		return nil, errors.New("channel: nil handler")
	}
	reg := &Registration{ID: uuid.New(), Event: event, handler: h}

	b.mu.Lock()
	first := len(b.handlers[event]) == 0 && !b.static(event)
	b.handlers[event] = append(b.handlers[event], reg)
	conn := b.conn
	b.mu.Unlock()

	if !first || conn == nil {
		return reg, nil
	}
	if err := conn.Listen(event); err != nil {
		b.mu.Lock()
		b.removeLocked(reg)
		b.mu.Unlock()
		return nil, &ChannelError{Op: "listen", Event: event, Err: err}
	}
	return reg, nil
}

// Off removes one registration. It reports whether reg was registered.
func (b *Binding) Off(reg *Registration) bool {
	if reg == nil {
		return false
	}
	b.mu.Lock()
	found, last := b.removeLocked(reg)
	conn := b.conn
	b.mu.Unlock()

	if last && !b.static(reg.Event) && conn != nil {
		if err := conn.Unlisten(reg.Event); err != nil {
			b.log.Warn("channel unlisten failed", swrcache.Fields{"event": reg.Event, "err": err})
		}
	}
	return found
}

// removeLocked drops reg and reports whether it was found and whether it
// was the last handler for its event.
func (b *Binding) removeLocked(reg *Registration) (found, last bool) {
	regs := b.handlers[reg.Event]
	for i, r := range regs {
		if r != reg {
			continue
		}
		regs = append(regs[:i:i], regs[i+1:]...)
		if len(regs) > 0 {
			b.handlers[reg.Event] = regs
			return true, false
		}
		delete(b.handlers, reg.Event)
		return true, true
	}
	return false, false
}

// Events returns every event the binding listens to, sorted.
func (b *Binding) Events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventsLocked()
}

func (b *Binding) eventsLocked() []string {
	seen := make(map[string]struct{}, len(b.opts.Events)+len(b.handlers))
	for _, ev := range b.opts.Events {
		seen[ev] = struct{}{}
	}
	for ev := range b.handlers {
		seen[ev] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ev := range seen {
		out = append(out, ev)
	}
	sort.Strings(out)
	return out
}

func (b *Binding) static(event string) bool {
	for _, ev := range b.opts.Events {
		if ev == event {
			return true
		}
	}
	return false
}

func (b *Binding) readLoop(gen uint64, conn Conn) {
	msgs, done := conn.Messages(), conn.Done()
	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				b.lost(gen, conn)
				return
			}
			b.dispatch(msg)
		case <-done:
			b.lost(gen, conn)
			return
		}
	}
}

func (b *Binding) dispatch(msg Message) {
	ctx := context.Background()
	if b.opts.Translator != nil {
		if err := b.opts.Translator.Translate(ctx, msg); err != nil {
			b.log.Warn("channel translate failed", swrcache.Fields{"event": msg.Event, "err": err})
		}
	}

	b.mu.Lock()
	regs := append([]*Registration(nil), b.handlers[msg.Event]...)
	b.mu.Unlock()
	for _, r := range regs {
		r.handler(ctx, msg)
	}
}

func (b *Binding) lost(gen uint64, conn Conn) {
	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	cause := conn.Err()
	if cause == nil {
		cause = ErrConnectionLost
	}
	cerr := &ChannelError{Op: "read", Err: cause}
	b.conn = nil
	b.err = cerr
	tr := b.setStateLocked(Disconnected, cerr)
	b.mu.Unlock()

	_ = conn.Close()
	b.log.Warn("channel connection lost", swrcache.Fields{"err": cause})
	b.fire(tr)
}
