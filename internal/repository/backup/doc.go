// Package backup persists backup sets on disk.
//
// The work directory holds at most one canonical set ("backups"), one
// staging set ("new_backups") and any number of timestamped archives
// ("backups_<timestamp>"). Each set directory contains the six partition
// images and a manifest.yaml recording their payload lengths, digests and
// an RFC 6962 Merkle root over the whole set.
//
// Only Promote writes to the canonical directory, and it does so by
// renaming whole directories.
package backup
