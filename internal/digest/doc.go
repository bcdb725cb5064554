// Package digest computes content digests of partition payloads.
//
// A Digest covers payload[0:length] only. The declared length is
// authoritative: trailing padding of a block device never contributes
// to the digest.
package digest
