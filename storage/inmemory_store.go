package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UpdateBufferSize is the capacity of every channel returned by ListenToUpdates.
const UpdateBufferSize = 255

// InmemoryStore keeps every key as a string member of a single JSON object.
type InmemoryStore struct {
	valuesMu sync.RWMutex
	values   []byte

	mu          sync.Mutex
	updateChans []chan *Update

	// stop will be closed when Close() is called
	stop     chan struct{}
	stopOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte("{}"),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.stopOnce.Do(func() {
		close(i.stop)
	})

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, updateChan := range i.updateChans {
		close(updateChan)
	}
	i.updateChans = nil

	return nil
}

func (i *InmemoryStore) Set(ctx context.Context, key, value []byte) error {
	path, err := keyPath(key)
	if err != nil {
		return err
	}

	i.valuesMu.Lock()
	values, err := sjson.SetBytes(i.values, path, string(value))
	if err == nil {
		i.values = values
	}
	i.valuesMu.Unlock()

	if err != nil {
		return fmt.Errorf("storage: failed to set %q: %w", key, err)
	}

	i.publish(&Update{
		Key:   append([]byte(nil), key...),
		Value: append([]byte(nil), value...),
	})

	return nil
}

func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	path, err := keyPath(key)
	if err != nil {
		return nil, err
	}

	i.valuesMu.RLock()
	result := gjson.GetBytes(i.values, path)
	i.valuesMu.RUnlock()

	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.String()), nil
}

func (i *InmemoryStore) Del(ctx context.Context, keys ...[]byte) (int, error) {
	deleted := make([][]byte, 0, len(keys))

	i.valuesMu.Lock()
	for _, key := range keys {
		path, err := keyPath(key)
		if err != nil {
			i.valuesMu.Unlock()
			return 0, err
		}

		if !gjson.GetBytes(i.values, path).Exists() {
			continue
		}

		values, err := sjson.DeleteBytes(i.values, path)
		if err != nil {
			i.valuesMu.Unlock()
			return 0, fmt.Errorf("storage: failed to delete %q: %w", key, err)
		}

		i.values = values
		deleted = append(deleted, append([]byte(nil), key...))
	}
	i.valuesMu.Unlock()

	for _, key := range deleted {
		i.publish(&Update{Key: key, Deleted: true})
	}

	return len(deleted), nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

// Restore replaces the whole keyspace with values, a JSON object of string members.
func (i *InmemoryStore) Restore(values []byte) error {
	if !gjson.ValidBytes(values) || !gjson.ParseBytes(values).IsObject() {
		return fmt.Errorf("storage: restore expects a JSON object, got %q", values)
	}

	i.valuesMu.Lock()
	i.values = append([]byte(nil), values...)
	i.valuesMu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.valuesMu.RLock()
	defer i.valuesMu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) publish(update *Update) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.isRunning() {
		return
	}

	for _, updateChan := range i.updateChans {
		updateChan <- update
	}
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// keyPath escapes the characters gjson and sjson give a meaning to, so every key addresses a
// single member of the top level object.
func keyPath(key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrInvalidKey
	}

	path := make([]byte, 0, len(key)+4)
	for _, c := range key {
		switch c {
		case '.', '*', '?', '|', '#', '@', '\\', '!', '=', '<', '>', '%', '(', ')', '[', ']', '{', '}', ',', ':':
			path = append(path, '\\')
		}
		path = append(path, c)
	}

	return string(path), nil
}

var _ Store = (*InmemoryStore)(nil)
