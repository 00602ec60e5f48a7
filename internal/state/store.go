package state

import "context"

// Store is a small string key-value store shared by the nonce source and the
// quote snapshot.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}
