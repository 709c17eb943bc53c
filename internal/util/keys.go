package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// maxPlainKey bounds the cache-key length stored verbatim in a provider key.
// Longer keys are replaced by a hash so every provider accepts them.
const maxPlainKey = 200

// StorageKey returns the provider key for a cache key inside namespace ns:
//
//	swr:<ns>:<key>         - short keys
//	swr:<ns>:#<sha256/16>  - keys longer than maxPlainKey bytes
func StorageKey(ns, key string) string {
	prefix := "swr:" + ns + ":"
	if len(key) <= maxPlainKey {
		return prefix + key
	}
	sum := sha256.Sum256([]byte(key))
	return prefix + "#" + hex.EncodeToString(sum[:16])
}
