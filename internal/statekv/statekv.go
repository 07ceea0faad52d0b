// Package statekv defines the pluggable key/value backend for the
// derivation watermarks (last_sessionized_ts, last_routine_ts), generalizing
// ELIDA's internal/session Store/RedisStore split (a Store interface with a
// default embedded backend and an optional Redis backend) to this module's
// flat string watermark keys.
package statekv

import "context"

// Store is the watermark key/value interface. Get returns "" for an unset
// key, never an error, so callers can treat "never run before" uniformly.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
