// Package redischan is a channel.Transport over Redis Pub/Sub. Event e maps to
// the Redis channel Prefix+e.
//
// The connection is read with PubSub.Receive rather than PubSub.Channel, which
// reconnects and resubscribes on its own. The first read error ends the
// connection; recovery is left to the binding's caller.
package redischan

import (
	"context"
	"errors"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/swrcache/channel"
)

const DefaultPrefix = "swr:"

var ErrNilClient = errors.New("redischan: nil client")

type Config struct {
	Client goredis.UniversalClient
	Prefix string // "" => DefaultPrefix
	Buffer int    // inbound message buffer; 0 => 64
}

type Transport struct {
	rdb    goredis.UniversalClient
	prefix string
	buffer int
}

var _ channel.Transport = (*Transport)(nil)

func New(cfg Config) (*Transport, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	return &Transport{rdb: cfg.Client, prefix: cfg.Prefix, buffer: cfg.Buffer}, nil
}

func (t *Transport) channelName(event string) string { return t.prefix + event }

func (t *Transport) eventName(ch string) (string, bool) {
	if !strings.HasPrefix(ch, t.prefix) {
		return "", false
	}
	return strings.TrimPrefix(ch, t.prefix), true
}

// Dial opens a Pub/Sub connection and pings it so an unreachable server fails
// the dial instead of the first Listen.
func (t *Transport) Dial(ctx context.Context) (channel.Conn, error) {
	ps := t.rdb.Subscribe(ctx)
	if err := ps.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	c := &conn{
		t:    t,
		ps:   ps,
		msgs: make(chan channel.Message, t.buffer),
		done: make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

type conn struct {
	t    *Transport
	ps   *goredis.PubSub
	msgs chan channel.Message
	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	err    error
	closed bool
}

func (c *conn) pump() {
	defer close(c.msgs)
	for {
		v, err := c.ps.Receive(context.Background())
		var rerr goredis.Error
		if errors.As(err, &rerr) {
			continue // server error reply; the link is still up
		}
		if err != nil {
			c.finish(err)
			return
		}
		m, ok := v.(*goredis.Message)
		if !ok {
			continue // subscription confirmations and pongs
		}
		ev, ok := c.t.eventName(m.Channel)
		if !ok {
			continue
		}
		select {
		case c.msgs <- channel.Message{Event: ev, Payload: []byte(m.Payload)}:
		case <-c.done:
			return
		}
	}
}

// finish closes Done. A read error not caused by Close is kept as Err.
func (c *conn) finish(cause error) {
	c.once.Do(func() {
		c.mu.Lock()
		if !c.closed {
			if cause == nil || errors.Is(cause, goredis.ErrClosed) {
				cause = channel.ErrConnectionLost
			}
			c.err = cause
		}
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *conn) Emit(ctx context.Context, event string, payload []byte) error {
	return c.t.rdb.Publish(ctx, c.t.channelName(event), payload).Err()
}

func (c *conn) Listen(event string) error {
	return c.ps.Subscribe(context.Background(), c.t.channelName(event))
}

func (c *conn) Unlisten(event string) error {
	return c.ps.Unsubscribe(context.Background(), c.t.channelName(event))
}

func (c *conn) Messages() <-chan channel.Message { return c.msgs }
func (c *conn) Done() <-chan struct{}            { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *conn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	err := c.ps.Close()
	c.finish(nil)
	return err
}
