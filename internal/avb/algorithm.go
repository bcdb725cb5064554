package avb

import (
	"crypto"
	"fmt"
	"strings"

	// Ensure SHA512 is linked for SHA512_RSA* algorithms.
	_ "crypto/sha512"
)

// Algorithm is the vbmeta signature algorithm type.
type Algorithm uint32

// Algorithm values as stored in the vbmeta header.
const (
	AlgorithmNone Algorithm = iota
	AlgorithmSHA256RSA2048
	AlgorithmSHA256RSA4096
	AlgorithmSHA256RSA8192
	AlgorithmSHA512RSA2048
	AlgorithmSHA512RSA4096
	AlgorithmSHA512RSA8192
)

type algorithmInfo struct {
	name    string
	hash    crypto.Hash
	keyBits int
}

//nolint:gochecknoglobals // Static lookup table.
var algorithms = map[Algorithm]algorithmInfo{
	AlgorithmNone:          {name: "NONE"},
	AlgorithmSHA256RSA2048: {name: "SHA256_RSA2048", hash: crypto.SHA256, keyBits: 2048},
	AlgorithmSHA256RSA4096: {name: "SHA256_RSA4096", hash: crypto.SHA256, keyBits: 4096},
	AlgorithmSHA256RSA8192: {name: "SHA256_RSA8192", hash: crypto.SHA256, keyBits: 8192},
	AlgorithmSHA512RSA2048: {name: "SHA512_RSA2048", hash: crypto.SHA512, keyBits: 2048},
	AlgorithmSHA512RSA4096: {name: "SHA512_RSA4096", hash: crypto.SHA512, keyBits: 4096},
	AlgorithmSHA512RSA8192: {name: "SHA512_RSA8192", hash: crypto.SHA512, keyBits: 8192},
}

// ParseAlgorithm converts an avbtool algorithm name such as "SHA256_RSA4096".
func ParseAlgorithm(name string) (Algorithm, error) {
	name = strings.ToUpper(strings.TrimSpace(name))

	for alg, info := range algorithms {
		if info.name == name {
			return alg, nil
		}
	}

	return 0, fmt.Errorf("algorithm %q: %w", name, ErrUnsupported)
}

// AlgorithmFor returns the algorithm matching a hash and an RSA key size.
func AlgorithmFor(h crypto.Hash, keyBits int) (Algorithm, error) {
	for alg, info := range algorithms {
		if alg != AlgorithmNone && info.hash == h && info.keyBits == keyBits {
			return alg, nil
		}
	}

	return 0, fmt.Errorf("%v with %d-bit key: %w", h, keyBits, ErrUnsupported)
}

// Valid reports whether the algorithm is known.
func (a Algorithm) Valid() bool {
	_, ok := algorithms[a]
	return ok
}

// String returns the avbtool name of the algorithm.
func (a Algorithm) String() string {
	if info, ok := algorithms[a]; ok {
		return info.name
	}

	return fmt.Sprintf("UNKNOWN(%d)", uint32(a))
}

// Hash returns the digest function, or 0 for AlgorithmNone.
func (a Algorithm) Hash() crypto.Hash {
	return algorithms[a].hash
}

// KeyBits returns the RSA modulus size, or 0 for AlgorithmNone.
func (a Algorithm) KeyBits() int {
	return algorithms[a].keyBits
}

// HashSize returns the number of bytes in the authentication hash.
func (a Algorithm) HashSize() int {
	if a == AlgorithmNone || !a.Valid() {
		return 0
	}

	return a.Hash().Size()
}

// SignatureSize returns the number of bytes in the signature.
func (a Algorithm) SignatureSize() int {
	return a.KeyBits() / 8
}

// hashByName resolves descriptor hash algorithm names ("sha256", "sha512").
func hashByName(name string) (crypto.Hash, error) {
	switch strings.ToLower(name) {
	case "sha256":
		return crypto.SHA256, nil
	case "sha512":
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("hash algorithm %q: %w", name, ErrUnsupported)
	}
}

// hashName is the inverse of hashByName.
func hashName(h crypto.Hash) string {
	if h == crypto.SHA512 {
		return "sha512"
	}

	return "sha256"
}
