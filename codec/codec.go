// Package codec converts cache values to bytes and back. A store uses its
// codec to deep-copy mutation snapshots and to frame entries for the retained
// tier; the channel package uses one for event payloads.
package codec

// Codec encodes/decodes values V to []byte.
// Decode(Encode(v)) must yield a value equal to v.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
