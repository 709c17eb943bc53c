package channel

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/swrcache/codec"
)

// EmitEncoded encodes v with c and emits it under event.
func EmitEncoded[T any](ctx context.Context, b *Binding, c codec.Codec[T], event string, v T) error {
	payload, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("channel: encode %q: %w", event, err)
	}
	return b.Emit(ctx, event, payload)
}

// Decode decodes the payload of msg with c.
func Decode[T any](c codec.Codec[T], msg Message) (T, error) {
	v, err := c.Decode(msg.Payload)
	if err != nil {
		return v, fmt.Errorf("channel: decode %q: %w", msg.Event, err)
	}
	return v, nil
}
