package codec

// Bytes is an identity codec for []byte values. Note that Encode does not
// copy, so a store using Bytes snapshots mutations by reference; use it only
// when optimistic updates build a new slice instead of editing in place.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String is a trivial codec for Go string values. By convention this assumes
// UTF-8 and performs no validation.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
