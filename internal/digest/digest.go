package digest

import (
	"crypto"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	// Ensure SHA512 is available for salted AVB digests.
	_ "crypto/sha512"
)

// Size is the length of a Digest in bytes.
const Size = sha256.Size

var (
	// ErrLengthExceedsSource is returned when the declared length is larger than the data available.
	ErrLengthExceedsSource = errors.New("declared length exceeds source size")
	// ErrNegativeLength is returned for a negative declared length.
	ErrNegativeLength = errors.New("declared length is negative")
	// errHashUnavailable is returned when a hash function is not linked into the binary.
	errHashUnavailable = errors.New("hash function unavailable")
	// errBadDigest is returned when a textual digest cannot be decoded.
	errBadDigest = errors.New("malformed digest")
)

// Digest is a 256-bit content hash.
type Digest [Size]byte

// Sum returns the digest of payload[0:length].
func Sum(payload []byte, length int64) (Digest, error) {
	if length < 0 {
		return Digest{}, ErrNegativeLength
	}

	if length > int64(len(payload)) {
		return Digest{}, fmt.Errorf("length %d, source %d: %w", length, len(payload), ErrLengthExceedsSource)
	}

	return sha256.Sum256(payload[:length]), nil
}

// Salted returns hash(salt || data) using the provided hash function.
// AVB hash descriptors store digests in this form.
func Salted(h crypto.Hash, salt, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("%v: %w", h, errHashUnavailable)
	}

	hasher := h.New()
	hasher.Write(salt)
	hasher.Write(data)

	return hasher.Sum(nil), nil
}

// Parse decodes a hex-encoded digest.
func Parse(s string) (Digest, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("%w: %w", errBadDigest, err)
	}

	if len(raw) != Size {
		return Digest{}, fmt.Errorf("%w: got %d bytes", errBadDigest, len(raw))
	}

	var d Digest

	copy(d[:], raw)

	return d, nil
}

// String returns the lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}
