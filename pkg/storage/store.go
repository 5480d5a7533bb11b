package storage

import "context"

// Store is a minimal string key-value store.
//
// GetItem returns the empty string for an absent key. SetItem overwrites any
// existing value. RemoveItem is a no-op for an absent key.
type Store interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}
