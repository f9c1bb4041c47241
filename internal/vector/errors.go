package vector

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidK is returned when a search asks for fewer than one neighbor.
	ErrInvalidK = errors.New("k must be positive")
	// ErrCorruptIndex is returned when an index file cannot be decoded.
	ErrCorruptIndex = errors.New("corrupt index file")
	// ErrDimensionMismatch matches any *DimensionMismatchError.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// DimensionMismatchError indicates a vector or query whose length differs from the index dimension.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// InvalidDimensionError indicates a non-positive configured dimension.
type InvalidDimensionError struct {
	Dimension int
}

func (e *InvalidDimensionError) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}
