package shard

import (
	"errors"
	"fmt"

	"github.com/hyperjump/crmrecall/internal/vector"
)

var (
	// ErrLengthMismatch matches any *LengthMismatchError.
	ErrLengthMismatch = errors.New("vector and metadata counts differ")
	// ErrDimensionMismatch matches any *vector.DimensionMismatchError.
	ErrDimensionMismatch = vector.ErrDimensionMismatch
	// ErrCorruptShard matches any *CorruptShardError.
	ErrCorruptShard = errors.New("corrupt shard")
)

// ConfigurationError reports an invalid construction parameter.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// LengthMismatchError is returned when an append supplies differing numbers of vectors and metadata.
type LengthMismatchError struct {
	Vectors  int
	Metadata int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("length mismatch: %d vectors, %d metadata entries", e.Vectors, e.Metadata)
}

func (e *LengthMismatchError) Is(target error) bool { return target == ErrLengthMismatch }

// PersistenceError reports an I/O failure while saving, loading, or deleting one shard.
type PersistenceError struct {
	Date string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("shard %s: %s: %v", e.Date, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptShardError reports a shard whose index artifact is missing or cannot be decoded.
// The shard is skipped at load time.
type CorruptShardError struct {
	Date string
	Err  error
}

func (e *CorruptShardError) Error() string {
	return fmt.Sprintf("corrupt shard %s: %v", e.Date, e.Err)
}

func (e *CorruptShardError) Unwrap() error { return e.Err }

func (e *CorruptShardError) Is(target error) bool { return target == ErrCorruptShard }
