package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf is a Codec for generated protobuf messages. Construct with
// NewProtobuf. Encoding is deterministic so equal messages frame identically.
type Protobuf[T proto.Message] struct {
	new func() T
}

// NewProtobuf takes a constructor for an empty message, e.g.
// func() *todopb.Todo { return new(todopb.Todo) }.
func NewProtobuf[T proto.Message](ctor func() T) (Protobuf[T], error) {
	if ctor == nil {
		return Protobuf[T]{}, errors.New("codec: protobuf constructor is nil")
	}
	return Protobuf[T]{new: ctor}, nil
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.MarshalOptions{Deterministic: true}.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}
