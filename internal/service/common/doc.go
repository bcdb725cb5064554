// Package common holds helpers shared by several services.
//
// It detects the current system actor for backup manifests, asks the
// operator for confirmation and keeps a single tool instance per work
// directory.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
