// Package backupset contains the domain model of a boot-chain backup.
//
// A BackupSet is an immutable, named and timestamped collection of the six
// boot-chain images. Its State follows the lifecycle
// EMPTY → STAGED → VERIFIED → CANONICAL → ARCHIVED, enforced by Transition.
package backupset
