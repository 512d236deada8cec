// Package store defines the shared key-value store the game clients
// coordinate through. All multi-writer state transitions go through
// Transact, an optimistic read-modify-write that retries on conflict, so
// exactly one of several racing clients commits any given transition.
package store

import (
	"context"
	"errors"
)

// ErrAbort is returned by a TxFunc to abandon a transaction on purpose
// (stale click, claim already taken, deadline already handled). Transact
// reports it as not committed with a nil error.
var ErrAbort = errors.New("store: transaction aborted")

// TxFunc computes the replacement value for a key inside Transact.
// current is nil when the key does not exist; returning a nil value
// deletes the key.
type TxFunc func(current []byte) ([]byte, error)

// Store is one client's view of the shared store. Values are opaque JSON
// documents and are never empty. Subscriptions fire once with the current
// value and then on every subsequent change; delivery is asynchronous and
// coalesces to the latest value, so intermediate states may be skipped.
type Store interface {
	// Read returns the value at key, or nil when the key does not exist.
	Read(ctx context.Context, key string) ([]byte, error)

	// ReadAll returns every key/value pair whose key starts with prefix.
	ReadAll(ctx context.Context, prefix string) (map[string][]byte, error)

	// Write replaces the value at key. A nil value deletes the key.
	Write(ctx context.Context, key string, value []byte) error

	// WriteMulti applies several writes in one call. Nil values delete.
	// It is a fan-out, not a transaction: it is not conflict-checked
	// against concurrent writers.
	WriteMulti(ctx context.Context, updates map[string][]byte) error

	// Transact runs fn against the current value and commits its result
	// only if the key is unchanged since the read, retrying the whole
	// cycle on conflict. It reports whether the transaction committed.
	Transact(ctx context.Context, key string, fn TxFunc) (bool, error)

	// Subscribe delivers the current value at key and every later change
	// to fn until the returned cancel function is called. A nil value
	// means the key does not exist.
	Subscribe(ctx context.Context, key string, fn func(value []byte)) (func(), error)

	// SubscribePrefix is Subscribe over the set of keys under prefix,
	// delivering a snapshot of the whole set on every change.
	SubscribePrefix(ctx context.Context, prefix string, fn func(values map[string][]byte)) (func(), error)

	Close() error
}
