package avb

import (
	"crypto/rsa"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/avb-guard/internal/digest"
)

var (
	// ErrNoSigningKey is returned when signing is requested with a public-only trust root.
	ErrNoSigningKey = errors.New("avb: trust root has no private key")
	// ErrKeyFormat is returned when a key file cannot be decoded.
	ErrKeyFormat = errors.New("avb: unrecognised key format")
)

// TrustRoot is the single key pinned for an installation. The private half
// is only present when the root is used for signing.
type TrustRoot struct {
	public      *rsa.PublicKey
	private     *rsa.PrivateKey
	blob        []byte
	fingerprint digest.Digest
}

// NewTrustRoot builds a trust root from a private key.
func NewTrustRoot(key *rsa.PrivateKey) (*TrustRoot, error) {
	root, err := NewPublicTrustRoot(&key.PublicKey)
	if err != nil {
		return nil, err
	}

	root.private = key

	return root, nil
}

// NewPublicTrustRoot builds a verification-only trust root.
func NewPublicTrustRoot(pub *rsa.PublicKey) (*TrustRoot, error) {
	blob, err := EncodePublicKey(pub)
	if err != nil {
		return nil, err
	}

	fingerprint, err := digest.Sum(blob, int64(len(blob)))
	if err != nil {
		return nil, err
	}

	return &TrustRoot{
		public:      pub,
		blob:        blob,
		fingerprint: fingerprint,
	}, nil
}

// LoadTrustRoot reads a key from path. See ParseTrustRoot for accepted formats.
func LoadTrustRoot(path string) (*TrustRoot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trust key: %w", err)
	}

	root, err := ParseTrustRoot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return root, nil
}

// ParseTrustRoot decodes a PEM private key (PKCS#1 or PKCS#8), a PEM public
// key (PKIX or PKCS#1) or a raw AVB public key blob as produced by
// "avbtool extract_public_key".
func ParseTrustRoot(data []byte) (*TrustRoot, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		pub, err := DecodePublicKey(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
		}

		return NewPublicTrustRoot(pub)
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
		}

		return NewTrustRoot(key)
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
		}

		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrKeyFormat, parsed)
		}

		return NewTrustRoot(key)
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
		}

		pub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not an RSA key", ErrKeyFormat, parsed)
		}

		return NewPublicTrustRoot(pub)
	case "RSA PUBLIC KEY":
		pub, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFormat, err)
		}

		return NewPublicTrustRoot(pub)
	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrKeyFormat, block.Type)
	}
}

// PublicKey returns the RSA public key.
func (t *TrustRoot) PublicKey() *rsa.PublicKey {
	return t.public
}

// KeyBlob returns the AVB encoding of the public key.
func (t *TrustRoot) KeyBlob() []byte {
	return t.blob
}

// Fingerprint returns the digest of the AVB-encoded public key.
func (t *TrustRoot) Fingerprint() digest.Digest {
	return t.fingerprint
}

// KeyBits returns the modulus size.
func (t *TrustRoot) KeyBits() int {
	return t.public.N.BitLen()
}

// CanSign reports whether the private key is available.
func (t *TrustRoot) CanSign() bool {
	return t.private != nil
}

// Matches reports whether blob is exactly this root's AVB public key.
func (t *TrustRoot) Matches(blob []byte) bool {
	return subtle.ConstantTimeCompare(t.blob, blob) == 1
}

// signer returns the private key or ErrNoSigningKey.
func (t *TrustRoot) signer() (*rsa.PrivateKey, error) {
	if t.private == nil {
		return nil, ErrNoSigningKey
	}

	return t.private, nil
}
