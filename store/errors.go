package store

import "errors"

// Sentinel errors for store failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCorrupted indicates the database contents violate an invariant
	// the rest of the pipeline relies on, such as a bot whose tracker
	// row is missing or a config column that does not decode.
	ErrCorrupted = errors.New("database corrupted")
)
