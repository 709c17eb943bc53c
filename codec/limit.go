package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge matches every *SizeError via errors.Is.
var ErrTooLarge = errors.New("codec: payload too large")

// SizeError reports a payload over a Limit bound.
type SizeError struct {
	Op    string // "encode" or "decode"
	Size  int
	Limit int
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("codec: %s payload %d bytes exceeds limit %d", e.Op, e.Size, e.Limit)
}

func (e *SizeError) Is(target error) bool { return target == ErrTooLarge }

// Limit bounds the payloads another codec produces and accepts. A store that
// retains entries in a shared provider should decode through a Limit so a
// hostile or corrupt frame cannot force a large allocation. Bounds <= 0 are off.
type Limit[V any] struct {
	Codec     Codec[V]
	MaxEncode int
	MaxDecode int
}

var _ Codec[struct{}] = Limit[struct{}]{}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Codec.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, &SizeError{Op: "encode", Size: len(b), Limit: c.MaxEncode}
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, &SizeError{Op: "decode", Size: len(b), Limit: c.MaxDecode}
	}
	return c.Codec.Decode(b)
}
