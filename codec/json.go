package codec

import "encoding/json"

// JSON is a Codec backed by encoding/json. The zero value is ready to use.
// Channel payloads and the HTTP envelope use JSON, so it is the natural
// choice when V already carries json tags.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }

func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}
