package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/unkn0wn-root/swrcache"
	"github.com/unkn0wn-root/swrcache/channel"
	"github.com/unkn0wn-root/swrcache/codec"
)

// stalePayload is the optional body of an invalidation event.
type stalePayload struct {
	Key  string   `json:"key"`
	Keys []string `json:"keys"`
}

// NewStaleTranslator maps inbound events onto the store:
//
//   - a payload {"key": "todo:1"} or {"keys": [...]} invalidates those keys
//     (every window of a paginated key);
//   - anything else marks the resource named by the event prefix stale,
//     e.g. "todo.updated" => MarkStale("todo").
func NewStaleTranslator(store *swrcache.Store[json.RawMessage], log swrcache.Logger) channel.Translator {
	c := codec.JSON[stalePayload]{}
	return channel.TranslatorFunc(func(_ context.Context, msg channel.Message) error {
		var p stalePayload
		if len(msg.Payload) > 0 {
			// non-object payloads carry no keys
			p, _ = channel.Decode(c, msg)
		}
		keys := p.Keys
		if p.Key != "" {
			keys = append(keys, p.Key)
		}

		if len(keys) == 0 {
			resource, _, _ := strings.Cut(msg.Event, ".")
			n := store.MarkStale(resource)
			log.Debug("event marked entries stale", swrcache.Fields{"event": msg.Event, "resource": resource, "matched": n})
			return nil
		}
		for _, ks := range keys {
			k, err := swrcache.ParseKey(ks)
			if err != nil {
				return fmt.Errorf("event %q: %w", msg.Event, err)
			}
			n := store.Invalidate(k.Parts()...)
			log.Debug("event invalidated entries", swrcache.Fields{"event": msg.Event, "key": ks, "matched": n})
		}
		return nil
	})
}
