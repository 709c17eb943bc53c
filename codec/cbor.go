package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOROptions tune a CBOR codec.
type CBOROptions struct {
	// Deterministic selects RFC 8949 core deterministic encoding, so equal
	// values give equal bytes. Otherwise preferred unsorted encoding is used.
	Deterministic bool

	// MaxNestedLevels bounds decode depth; 0 => library default (32).
	MaxNestedLevels int
}

// CBOR is a Codec backed by fxamacker/cbor. Construct with NewCBOR.
//
// Decoding rejects duplicate map keys: retained frames can come back from a
// shared provider and are not trusted to be well-formed. Times are encoded as
// RFC3339Nano strings.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

func NewCBOR[V any](opts CBOROptions) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if opts.Deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}

	do := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels: opts.MaxNestedLevels,
	}
	dm, err := do.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

// MustCBOR is NewCBOR that panics; for package-level vars and tests.
func MustCBOR[V any](opts CBOROptions) CBOR[V] {
	c, err := NewCBOR[V](opts)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.enc.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dec.Unmarshal(b, &v)
	return v, err
}
