package store

import "errors"

// ErrNotFound is returned when a concept has no stored record.
var ErrNotFound = errors.New("concept not found")

// MutateFunc receives the stored workspace (nil when the concept has none yet)
// and returns the document to write back. Returning an error aborts the write.
type MutateFunc func(current []byte) ([]byte, error)
