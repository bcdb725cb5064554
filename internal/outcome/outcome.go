package outcome

import (
	"errors"
)

var (
	// ErrBaselineMissing is returned when no canonical backup set exists yet.
	// Callers treat it as the first-backup path, not as a failure.
	ErrBaselineMissing = errors.New("baseline missing")
	// ErrNoChange is returned when a candidate set is identical to the baseline.
	ErrNoChange = errors.New("no change detected")
	// ErrDigestMismatch is returned when recomputed content does not match a stored digest.
	ErrDigestMismatch = errors.New("digest mismatch")
	// ErrSignatureInvalid is returned for any signature, parse or format failure of a vbmeta structure.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrUnknownTrustKey is returned when an image is signed by a key other than the expected one.
	ErrUnknownTrustKey = errors.New("unknown trust key")
	// ErrChainBindingMissing is returned when an image cannot be bound to a top-level vbmeta.
	ErrChainBindingMissing = errors.New("chain binding missing")
	// ErrCapacityOverflow is returned when a signed image does not fit its target partition.
	ErrCapacityOverflow = errors.New("capacity overflow")
	// ErrWriteFailure is returned when a block device write fails.
	ErrWriteFailure = errors.New("write failure")
	// ErrUserDeclined is returned when the operator declines a confirmation.
	ErrUserDeclined = errors.New("user declined")
)

// Status is the overall result reported by an operation.
type Status int

const (
	// StatusSuccess means the operation completed.
	StatusSuccess Status = iota
	// StatusNoOp means there was nothing to do.
	StatusNoOp
	// StatusDeclined means the operator aborted before any destructive step.
	StatusDeclined
	// StatusVerificationFailure is fatal and must not be retried.
	StatusVerificationFailure
	// StatusSizeOverflow is fatal: an image does not fit its partition.
	StatusSizeOverflow
	// StatusIOFailure is fatal and may leave partial device state behind.
	StatusIOFailure
	// StatusError covers everything else (bad configuration, missing files).
	StatusError
)

// Exit codes returned by the CLI for each status.
const (
	exitSuccess             = 0
	exitError               = 1
	exitNoOp                = 2
	exitDeclined            = 3
	exitVerificationFailure = 10
	exitSizeOverflow        = 11
	exitIOFailure           = 12
)

// Classify maps an error returned by an operation onto a Status.
func Classify(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrNoChange):
		return StatusNoOp
	case errors.Is(err, ErrUserDeclined):
		return StatusDeclined
	case errors.Is(err, ErrDigestMismatch),
		errors.Is(err, ErrSignatureInvalid),
		errors.Is(err, ErrUnknownTrustKey),
		errors.Is(err, ErrChainBindingMissing):
		return StatusVerificationFailure
	case errors.Is(err, ErrCapacityOverflow):
		return StatusSizeOverflow
	case errors.Is(err, ErrWriteFailure):
		return StatusIOFailure
	default:
		return StatusError
	}
}

// ExitCode returns the process exit code for the status.
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return exitSuccess
	case StatusNoOp:
		return exitNoOp
	case StatusDeclined:
		return exitDeclined
	case StatusVerificationFailure:
		return exitVerificationFailure
	case StatusSizeOverflow:
		return exitSizeOverflow
	case StatusIOFailure:
		return exitIOFailure
	default:
		return exitError
	}
}

// String returns a short human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNoOp:
		return "no-op"
	case StatusDeclined:
		return "declined"
	case StatusVerificationFailure:
		return "verification-failure"
	case StatusSizeOverflow:
		return "size-overflow"
	case StatusIOFailure:
		return "io-failure"
	default:
		return "error"
	}
}

// IsCritical reports whether the status must be surfaced as a non-retryable failure.
func (s Status) IsCritical() bool {
	return s == StatusVerificationFailure || s == StatusIOFailure || s == StatusSizeOverflow
}
