// Package outcome defines the error taxonomy shared by every boot-chain
// operation and maps those errors onto the process exit surface.
//
// Verification-layer errors are always fatal. ErrNoChange and
// ErrBaselineMissing describe distinct, non-failing paths.
package outcome
