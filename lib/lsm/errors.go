package lsm

import "errors"

var (
	// ErrClosed is returned by any operation attempted after Close.
	ErrClosed = errors.New("lsm: engine is closed")

	// ErrCorruptSSTable is returned when an on-disk segment fails its
	// structural checks on open (truncated index, bad magic).
	ErrCorruptSSTable = errors.New("lsm: corrupt sstable")

	// ErrEmptyKey is returned by Upsert for a zero-length key. The HTTP
	// surface rejects empty keys earlier, but the engine enforces the
	// invariant too since it has no length cap otherwise.
	ErrEmptyKey = errors.New("lsm: key must not be empty")
)
