package roomstore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long an untouched room survives in the store.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned by Get when the key does not exist (or has expired).
var ErrNotFound = errors.New("roomstore: key not found")

// Version is the opaque CAS token attached to every stored value. Versions are
// drawn from a store-wide sequence, so a key that is deleted and created again
// never hands out a version seen before.
type Version uint64

// Entry is a value together with the version it was read at.
type Entry struct {
	Value   []byte
	Version Version
}

// Store is a shared key-value store with optimistic concurrency.
//
// Every successful write refreshes the key's TTL. A false result from
// CreateIfAbsent, CompareAndSwap or CompareAndDelete means another writer got
// there first; errors are reserved for I/O failures.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	CreateIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndSwap(ctx context.Context, key string, value []byte, expected Version, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, expected Version) (bool, error)
}
