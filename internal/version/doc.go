// Package version exposes build metadata for avbguard.
//
// Version, Commit and BuildTime are injected with -ldflags at build time.
// Tool is stamped into every backup manifest so a set can be traced back to
// the release that captured it.
package version
