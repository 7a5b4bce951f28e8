package persistence

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by a Store for missing or expired keys.
var ErrNotFound = errors.New("key not found")

// Store is the key-value seam the repository is written against.
// A ttl of zero means no expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Keys returns every live key with the given prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
	// Update runs fn atomically over the watched keys. Reads inside fn see the
	// state from before the transaction; writes are applied only if fn
	// returns nil.
	Update(ctx context.Context, keys []string, fn func(tx Tx) error) error
	Close() error
}

// Tx is the view of a Store inside Update.
type Tx interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

// maxTxRetries 是乐观事务冲突时的重试次数
const maxTxRetries = 5
