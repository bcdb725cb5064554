package avb

import (
	"crypto/subtle"
	"fmt"

	"github.com/oshokin/avb-guard/internal/digest"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// VerifyStandalone checks the vbmeta carried by image, either a bare vbmeta
// partition or a footed leaf, against root. Anything that cannot be parsed
// is reported as outcome.ErrSignatureInvalid. A valid signature by a key other
// than root is outcome.ErrUnknownTrustKey.
func VerifyStandalone(image []byte, root *TrustRoot) (*Vbmeta, error) {
	return verifyWithKey(image, root.KeyBlob())
}

// verifyWithKey checks that image is signed by exactly the AVB key blob expected.
func verifyWithKey(image, expected []byte) (*Vbmeta, error) {
	parsed, err := ParseImage(image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	vb := parsed.Vbmeta
	if vb == nil {
		return nil, fmt.Errorf("%w: image carries no vbmeta", outcome.ErrSignatureInvalid)
	}

	if vb.Algorithm == AlgorithmNone {
		return nil, fmt.Errorf("%w: vbmeta is not signed", outcome.ErrSignatureInvalid)
	}

	if subtle.ConstantTimeCompare(vb.PublicKey, expected) != 1 {
		return nil, fmt.Errorf("%w: embedded key does not match the expected key", outcome.ErrUnknownTrustKey)
	}

	pub, err := DecodePublicKey(expected)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if err = vb.checkSignature(pub); err != nil {
		return nil, fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	return vb, nil
}

// VerifyDescriptorChain checks every descriptor of vb whose partition is in
// related, keyed by partition name without slot suffix. Descriptors naming
// partitions that are not supplied are skipped. Hash and hashtree
// descriptors are recomputed over the related image. Chain descriptors
// require the related image to be signed by exactly the key pinned in the
// descriptor; its own descriptors are then checked against itself.
// The first failure is returned as a *MismatchError.
func VerifyDescriptorChain(vb *Vbmeta, related map[string][]byte, root *TrustRoot) error {
	for i, d := range vb.Descriptors {
		name := d.Partition()

		image, ok := related[name]
		if !ok || name == "" {
			continue
		}

		var err error

		switch desc := d.(type) {
		case *HashDescriptor:
			err = VerifyHashOnly(image, desc)
		case *HashtreeDescriptor:
			err = verifyHashtree(image, desc)
		case *ChainPartitionDescriptor:
			err = verifyChained(image, name, desc, root)
		}

		if err != nil {
			return &MismatchError{Index: i, Partition: name, Err: err}
		}
	}

	return nil
}

// verifyChained checks a partition that delegates trust through its own footer.
func verifyChained(image []byte, name string, desc *ChainPartitionDescriptor, root *TrustRoot) error {
	child, err := verifyWithKey(image, desc.PublicKey)
	if err != nil {
		return err
	}

	// A chained partition must not chain to itself.
	for _, d := range child.Descriptors {
		if _, ok := d.(*ChainPartitionDescriptor); ok && d.Partition() == name {
			return fmt.Errorf("%w: %s chains to itself", outcome.ErrSignatureInvalid, name)
		}
	}

	return VerifyDescriptorChain(child, map[string][]byte{name: image}, root)
}

// VerifyHashOnly recomputes hash(salt||image[:ImageSize]) and requires it
// to equal the digest stored in desc.
func VerifyHashOnly(image []byte, desc *HashDescriptor) error {
	h, err := hashByName(desc.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if desc.ImageSize > uint64(len(image)) {
		return fmt.Errorf("%w: image is %d bytes, descriptor covers %d",
			outcome.ErrDigestMismatch, len(image), desc.ImageSize)
	}

	sum, err := digest.Salted(h, desc.Salt, image[:desc.ImageSize])
	if err != nil {
		return fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if subtle.ConstantTimeCompare(sum, desc.Digest) != 1 {
		return fmt.Errorf("%w: %s hash", outcome.ErrDigestMismatch, desc.PartitionName)
	}

	return nil
}

// verifyHashtree recomputes the dm-verity root digest of image.
func verifyHashtree(image []byte, desc *HashtreeDescriptor) error {
	h, err := hashByName(desc.HashAlgorithm)
	if err != nil {
		return fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if desc.ImageSize > uint64(len(image)) {
		return fmt.Errorf("%w: image is %d bytes, descriptor covers %d",
			outcome.ErrDigestMismatch, len(image), desc.ImageSize)
	}

	root, err := hashtreeRoot(h, desc.Salt, image[:desc.ImageSize], int(desc.DataBlockSize), int(desc.HashBlockSize))
	if err != nil {
		return fmt.Errorf("%w: %w", outcome.ErrSignatureInvalid, err)
	}

	if subtle.ConstantTimeCompare(root, desc.RootDigest) != 1 {
		return fmt.Errorf("%w: %s hashtree root", outcome.ErrDigestMismatch, desc.PartitionName)
	}

	return nil
}
