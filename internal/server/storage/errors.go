package storage

import "errors"

// Sentinel errors for the object store.
var (
	// ErrNotFound covers ids that never existed and ids that have expired;
	// callers cannot tell the two apart.
	ErrNotFound          = errors.New("object not found or expired")
	ErrSizeLimitExceeded = errors.New("content exceeds maximum allowed size")
	ErrIDSpaceExhausted  = errors.New("could not allocate a free id")
	ErrCorruptObject     = errors.New("stored object is corrupt")
	ErrIO                = errors.New("storage I/O failure")
	ErrEmptyCollection   = errors.New("collection has no members")
)
