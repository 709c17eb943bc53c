package swrcache

import "time"

const (
	defaultFetchTimeout      = 30 * time.Second
	defaultSweepInterval     = time.Minute
	defaultRevisionRetention = 24 * time.Hour
	defaultRetainTTL         = 10 * time.Minute
	defaultNamespace         = "default"
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
