package vault

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested key is not stored.
// Use errors.Is(err, ErrNotFound) for typed assertions.
var ErrNotFound = errors.New("object not found")

// StorageError wraps an underlying error with the failed operation and
// key. It preserves the original error in the chain for inspection via
// errors.Is/errors.As.
type StorageError struct {
	// Op is the operation that failed (e.g. "put", "get").
	Op string
	// Key is the object key involved, if any.
	Key string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("vault %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *StorageError) Unwrap() error {
	return e.Err
}
