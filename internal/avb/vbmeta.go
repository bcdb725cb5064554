package avb

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/subtle"
	"fmt"
	"io"
)

// Vbmeta is a parsed or to-be-signed vbmeta structure. It owns its descriptor list.
type Vbmeta struct {
	Algorithm             Algorithm
	RollbackIndex         uint64
	RollbackIndexLocation uint32
	Flags                 uint32
	RequiredLibavbMinor   uint32
	ReleaseString         string
	Descriptors           []Descriptor
	// PublicKey is the AVB-encoded key embedded in the auxiliary block.
	PublicKey []byte
	// PublicKeyMetadata is opaque metadata stored next to the key.
	PublicKeyMetadata []byte
	// Hash and Signature are populated by ParseVbmeta.
	Hash      []byte
	Signature []byte

	// header and aux are the exact signed bytes of a parsed blob.
	header []byte
	aux    []byte
}

// ParseVbmeta decodes a vbmeta blob. Trailing bytes after the blob are ignored.
func ParseVbmeta(blob []byte) (*Vbmeta, error) {
	h, err := parseHeader(blob)
	if err != nil {
		return nil, err
	}

	if err = h.validate(); err != nil {
		return nil, err
	}

	if uint64(len(blob)) < h.blobSize() {
		return nil, fmt.Errorf("vbmeta blob: %w", ErrTruncated)
	}

	var (
		auth = blob[HeaderSize : HeaderSize+h.AuthBlockSize]
		aux  = blob[HeaderSize+h.AuthBlockSize : h.blobSize()]
	)

	descriptors, err := parseDescriptors(aux[h.DescriptorsOffset : h.DescriptorsOffset+h.DescriptorsSize])
	if err != nil {
		return nil, err
	}

	return &Vbmeta{
		Algorithm:             h.Algorithm,
		RollbackIndex:         h.RollbackIndex,
		RollbackIndexLocation: h.RollbackIndexLocation,
		Flags:                 h.Flags,
		RequiredLibavbMinor:   h.RequiredLibavbMinor,
		ReleaseString:         h.ReleaseString,
		Descriptors:           descriptors,
		PublicKey:             bytes.Clone(aux[h.PublicKeyOffset : h.PublicKeyOffset+h.PublicKeySize]),
		PublicKeyMetadata:     bytes.Clone(aux[h.PublicKeyMetadataOffset : h.PublicKeyMetadataOffset+h.PublicKeyMetadataSize]),
		Hash:                  bytes.Clone(auth[h.HashOffset : h.HashOffset+h.HashSize]),
		Signature:             bytes.Clone(auth[h.SignatureOffset : h.SignatureOffset+h.SignatureSize]),
		header:                bytes.Clone(blob[:HeaderSize]),
		aux:                   bytes.Clone(aux),
	}, nil
}

// BlobSize returns the size of the vbmeta blob at the start of b without
// parsing descriptors. It is used to find the payload length of a bare
// vbmeta partition.
func BlobSize(b []byte) (uint64, error) {
	h, err := parseHeader(b)
	if err != nil {
		return 0, err
	}

	if err = h.checkSize(); err != nil {
		return 0, err
	}

	return h.blobSize(), nil
}

// Encode serialises v and signs it with key. key may be nil only for AlgorithmNone.
// The embedded public key is derived from key and overrides v.PublicKey.
func (v *Vbmeta) Encode(key *rsa.PrivateKey) ([]byte, error) {
	return v.encode(key, rand.Reader)
}

func (v *Vbmeta) encode(key *rsa.PrivateKey, random io.Reader) ([]byte, error) {
	if !v.Algorithm.Valid() {
		return nil, fmt.Errorf("algorithm %d: %w", uint32(v.Algorithm), ErrUnsupported)
	}

	publicKey := v.PublicKey

	if v.Algorithm != AlgorithmNone {
		if key == nil {
			return nil, fmt.Errorf("%s requires a signing key: %w", v.Algorithm, ErrUnsupported)
		}

		if key.N.BitLen() != v.Algorithm.KeyBits() {
			return nil, fmt.Errorf("%d-bit key for %s: %w", key.N.BitLen(), v.Algorithm, ErrUnsupported)
		}

		encoded, err := EncodePublicKey(&key.PublicKey)
		if err != nil {
			return nil, err
		}

		publicKey = encoded
	} else {
		publicKey = nil
	}

	descriptors := encodeDescriptors(v.Descriptors)

	var aux bytes.Buffer

	aux.Write(descriptors)
	aux.Write(publicKey)
	aux.Write(v.PublicKeyMetadata)
	aux.Write(make([]byte, alignUp(uint64(aux.Len()), blobAlignment)-uint64(aux.Len())))

	var (
		hashSize = uint64(v.Algorithm.HashSize())
		sigSize  = uint64(v.Algorithm.SignatureSize())
		release  = v.ReleaseString
	)

	if release == "" {
		release = DefaultReleaseString
	}

	h := Header{
		RequiredLibavbMajor:     LibavbVersionMajor,
		RequiredLibavbMinor:     v.RequiredLibavbMinor,
		AuthBlockSize:           alignUp(hashSize+sigSize, blobAlignment),
		AuxBlockSize:            uint64(aux.Len()),
		Algorithm:               v.Algorithm,
		HashOffset:              0,
		HashSize:                hashSize,
		SignatureOffset:         hashSize,
		SignatureSize:           sigSize,
		PublicKeyOffset:         uint64(len(descriptors)),
		PublicKeySize:           uint64(len(publicKey)),
		PublicKeyMetadataOffset: uint64(len(descriptors) + len(publicKey)),
		PublicKeyMetadataSize:   uint64(len(v.PublicKeyMetadata)),
		DescriptorsOffset:       0,
		DescriptorsSize:         uint64(len(descriptors)),
		RollbackIndex:           v.RollbackIndex,
		Flags:                   v.Flags,
		RollbackIndexLocation:   v.RollbackIndexLocation,
		ReleaseString:           release,
	}

	if err := h.checkSize(); err != nil {
		return nil, err
	}

	header := h.marshal()
	auth := make([]byte, h.AuthBlockSize)

	if v.Algorithm != AlgorithmNone {
		sum := signedDigest(v.Algorithm.Hash(), header, aux.Bytes())

		signature, err := rsa.SignPKCS1v15(random, key, v.Algorithm.Hash(), sum)
		if err != nil {
			return nil, fmt.Errorf("sign vbmeta: %w", err)
		}

		copy(auth, sum)
		copy(auth[hashSize:], signature)
	}

	blob := make([]byte, 0, h.blobSize())
	blob = append(blob, header...)
	blob = append(blob, auth...)

	return append(blob, aux.Bytes()...), nil
}

// signedDigest hashes the header and auxiliary block, the data covered by the signature.
func signedDigest(h crypto.Hash, header, aux []byte) []byte {
	hasher := h.New()
	hasher.Write(header)
	hasher.Write(aux)

	return hasher.Sum(nil)
}

// checkSignature verifies the authentication block of a parsed vbmeta with pub.
func (v *Vbmeta) checkSignature(pub *rsa.PublicKey) error {
	if v.Algorithm == AlgorithmNone {
		return fmt.Errorf("vbmeta is unsigned: %w", ErrUnsupported)
	}

	if v.header == nil {
		return fmt.Errorf("vbmeta was not parsed from a blob: %w", ErrMalformed)
	}

	if pub.N.BitLen() != v.Algorithm.KeyBits() {
		return fmt.Errorf("%d-bit key for %s: %w", pub.N.BitLen(), v.Algorithm, ErrMalformed)
	}

	sum := signedDigest(v.Algorithm.Hash(), v.header, v.aux)
	if subtle.ConstantTimeCompare(sum, v.Hash) != 1 {
		return fmt.Errorf("authentication hash: %w", ErrMalformed)
	}

	if err := rsa.VerifyPKCS1v15(pub, v.Algorithm.Hash(), sum, v.Signature); err != nil {
		return fmt.Errorf("signature: %w", err)
	}

	return nil
}

// HashDescriptorFor returns the first hash descriptor bound to partition, if any.
func (v *Vbmeta) HashDescriptorFor(partition string) (*HashDescriptor, int, bool) {
	for i, d := range v.Descriptors {
		if hd, ok := d.(*HashDescriptor); ok && hd.PartitionName == partition {
			return hd, i, true
		}
	}

	return nil, -1, false
}

// Binds reports whether any hash, hashtree or chain descriptor names partition.
func (v *Vbmeta) Binds(partition string) bool {
	for _, d := range v.Descriptors {
		if d.Tag() != TagProperty && d.Partition() == partition {
			return true
		}
	}

	return false
}

// Properties returns the property descriptors in order.
func (v *Vbmeta) Properties() []*PropertyDescriptor {
	var props []*PropertyDescriptor

	for _, d := range v.Descriptors {
		if p, ok := d.(*PropertyDescriptor); ok {
			props = append(props, p)
		}
	}

	return props
}
