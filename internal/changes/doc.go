// Package changes diffs a candidate partition set against a baseline.
//
// Comparison uses content digests only. File names, sizes on disk and
// modification times are never consulted.
package changes
