package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FS is a filesystem vault. Objects live in directories sharded by the
// first two characters of the key, so a populated vault does not pile
// millions of entries into one directory.
type FS struct {
	root string
}

var _ Client = (*FS)(nil)

// NewFS opens a filesystem vault rooted at dir, creating it if needed.
func NewFS(dir string) (*FS, error) {
	if dir == "" {
		return nil, errors.New("filesystem vault requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StorageError{Op: "init", Key: dir, Err: err}
	}
	return &FS{root: dir}, nil
}

func (v *FS) path(key string) string {
	shard := key
	if len(key) > 2 {
		shard = key[:2]
	}
	return filepath.Join(v.root, shard, key)
}

// Put writes content through a temp file and renames it into place, so
// a crashed writer never leaves a truncated object behind.
func (v *FS) Put(_ context.Context, key string, content []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	dst := v.path(key)
	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return &StorageError{Op: "put", Key: key, Err: err}
	}
	return nil
}

func (v *FS) Get(_ context.Context, key string) ([]byte, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(v.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, &StorageError{Op: "get", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Key: key, Err: err}
	}
	return content, nil
}

func (v *FS) Exists(_ context.Context, key string) (bool, error) {
	if err := validKey(key); err != nil {
		return false, err
	}
	_, err := os.Stat(v.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

func (v *FS) Close() error { return nil }

// String identifies the backend in logs.
func (v *FS) String() string {
	return fmt.Sprintf("file://%s", v.root)
}
