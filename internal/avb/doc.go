// Package avb implements the Android Verified Boot structures needed to
// verify and rebuild boot-chain images: the vbmeta header, the partition
// footer, hash/hashtree/chain/property descriptors and the AVB public key
// encoding, together with signing and verification against a pinned
// TrustRoot.
//
// All multi-byte integers are big-endian, as in libavb.
package avb
