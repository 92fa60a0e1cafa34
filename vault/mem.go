package vault

import (
	"context"
	"sync"
)

// Mem is an in-memory vault for tests.
type Mem struct {
	mu      sync.Mutex
	objects map[string][]byte
}

var _ Client = (*Mem)(nil)

// NewMem returns an empty in-memory vault.
func NewMem() *Mem {
	return &Mem{objects: make(map[string][]byte)}
}

func (v *Mem) Put(_ context.Context, key string, content []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	stored := make([]byte, len(content))
	copy(stored, content)
	v.objects[key] = stored
	return nil
}

func (v *Mem) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	content, ok := v.objects[key]
	if !ok {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	out := make([]byte, len(content))
	copy(out, content)
	return out, nil
}

func (v *Mem) Exists(_ context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.objects[key]
	return ok, nil
}

func (v *Mem) Close() error { return nil }

// Len reports how many objects are stored.
func (v *Mem) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.objects)
}
