// Package storage defines the abstract K/V persistence interface (spec
// §4.1) that every other component is built against, grounded on the
// teacher's engine/simple.Store but widened from a single JSON blob into
// typed hash/set/pipeline/increment primitives so callers never need to
// know whether the backend is in-memory or SQLite.
package storage

import "context"

// Store is the persistence interface. Every method that mutates state is
// expected to be atomic with respect to other calls on the same key.
type Store interface {
	// Hash operations. A hash is a named map of field -> string value.
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HSet(ctx context.Context, key, field, value string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key, field string) error
	// HIncrByFloat atomically adds delta to field (creating it at 0 if
	// absent) and returns the new value.
	HIncrByFloat(ctx context.Context, key, field string, delta float64) (float64, error)

	// Set operations. A set is a named collection of distinct members.
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// ScanKeys returns every top-level key matching prefix (e.g. "sym_").
	ScanKeys(ctx context.Context, prefix string) ([]string, error)

	// Unlink deletes keys (hashes or sets) in a non-blocking, best-effort
	// manner; missing keys are not an error.
	Unlink(ctx context.Context, keys ...string) error

	// Pipeline runs fn against a Pipeliner whose queued operations all
	// apply atomically (or not at all) when fn returns nil.
	Pipeline(ctx context.Context, fn func(p Pipeliner) error) error

	// SetNX sets field to value only if key/field is absent, with a TTL in
	// seconds; used for the leader-election lock. Returns true if this call
	// won the lock.
	SetNX(ctx context.Context, key, field, value string, ttlSeconds int64) (bool, error)
	// Refresh extends the TTL of an existing key/field/value triple it
	// still owns; returns false if the lock was lost (value changed or
	// expired).
	Refresh(ctx context.Context, key, field, value string, ttlSeconds int64) (bool, error)

	// Close releases backend resources.
	Close() error
}

// Pipeliner accumulates operations queued inside Store.Pipeline.
type Pipeliner interface {
	HSet(key, field, value string)
	HDel(key, field string)
	HIncrByFloat(key, field string, delta float64)
	SAdd(key, member string)
	SRem(key, member string)
}
