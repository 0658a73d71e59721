package lsmforge

import "errors"

// Error definitions for the engine, collected in one place so they're
// easy to find and compare against with errors.Is.
var (
	// ErrNotFound is returned when a key has no live value.
	ErrNotFound = errors.New("key not found")

	// ErrClosed is returned when operating on a closed Engine.
	ErrClosed = errors.New("engine is closed")

	// ErrInvalidKey is returned when a key fails keys.Valid.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidValue is returned when a value fails keys.ValidValue.
	ErrInvalidValue = errors.New("invalid value")

	// ErrInvalidRange is returned when a Range has Limit <= Start.
	ErrInvalidRange = errors.New("invalid range")

	// Configuration validation errors.
	ErrInvalidWriteBufferSize     = errors.New("invalid write buffer size")
	ErrInvalidMaxMemtables        = errors.New("invalid max memtables")
	ErrInvalidMaxLevels           = errors.New("invalid max levels")
	ErrInvalidL0CompactionTrigger = errors.New("invalid L0 compaction trigger")
	ErrInvalidL0StopWritesTrigger = errors.New("invalid L0 stop writes trigger")
	ErrInvalidWorkerCount         = errors.New("invalid worker count")
)
