// Package store defines the TTL key-value collaborator holding all ephemeral
// protocol state (challenges, session keys, round state, payloads, pool slots).
//
// Expiry is the protocol timeout mechanism: a key that has lapsed is reported as
// absent, and callers treat "not found" as a first-class outcome rather than a
// fault. There is no cancellation token anywhere in the protocol core.
package store

import (
	"context"
	"time"
)

// Store is the ephemeral key-value contract.
//
// Values cross the interface as ordinary Go values and are serialized by the
// implementation; Get decodes into dst which must be a pointer.
type Store interface {
	// Get loads the value stored under key into dst.
	// The bool flag is false if key is absent or expired.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// SetTTL stores value under key. The entry lapses after ttl.
	SetTTL(ctx context.Context, key string, value any, ttl time.Duration) error

	// Delete removes key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Incr atomically increments the integer counter stored under key and returns
	// the new value. An absent or expired counter restarts from zero; ttl renews
	// the entry lifetime on each call.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// CompareAndSwap atomically replaces the value under key with next when the
	// stored value equals prev. It returns false without writing when the stored
	// value differs or the key is absent.
	CompareAndSwap(ctx context.Context, key string, prev, next any) (bool, error)
}
