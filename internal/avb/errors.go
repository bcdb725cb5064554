package avb

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFooter is returned when an image does not end with an AVB footer.
	ErrNoFooter = errors.New("avb: footer not found")
	// ErrBadMagic is returned when a structure has an unexpected magic.
	ErrBadMagic = errors.New("avb: magic mismatch")
	// ErrTruncated is returned when a buffer is shorter than a structure requires.
	ErrTruncated = errors.New("avb: truncated data")
	// ErrUnsupported is returned for unknown algorithms or versions.
	ErrUnsupported = errors.New("avb: unsupported")
	// ErrMalformed is returned when offsets or sizes inside a structure are inconsistent.
	ErrMalformed = errors.New("avb: malformed structure")
)

// MismatchError reports the descriptor that failed during chain verification.
type MismatchError struct {
	// Index is the position of the descriptor in the vbmeta descriptor list.
	Index int
	// Partition is the partition name bound by the descriptor.
	Partition string
	// Err is the underlying taxonomy error.
	Err error
}

// Error implements error.
func (e *MismatchError) Error() string {
	return fmt.Sprintf("descriptor %d (%s): %v", e.Index, e.Partition, e.Err)
}

// Unwrap returns the underlying error.
func (e *MismatchError) Unwrap() error {
	return e.Err
}
