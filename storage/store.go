package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get for keys that hold no value.
	ErrNotFound = errors.New("storage: key not found")

	// ErrInvalidKey is returned for keys the store cannot address, e.g. the empty key.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// Update describes a change to one key. Value is nil when the key was deleted.
type Update struct {
	Key     []byte
	Value   []byte
	Deleted bool
}

type Store interface {
	Set(ctx context.Context, key, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Del removes keys and returns how many of them existed.
	Del(ctx context.Context, keys ...[]byte) (int, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
