package avb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// TestVerifyStandalone covers the valid, foreign-key, tampered and garbage cases.
func TestVerifyStandalone(t *testing.T) {
	t.Parallel()

	var (
		key    = avbtest.Key(t)
		root   = avbtest.TrustRoot(t, key)
		device = avbtest.NewDevice(t, key, 1)
		id     = partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}
	)

	vb, err := avb.VerifyStandalone(device.Images[id], root)
	require.NoError(t, err)
	require.Len(t, vb.Descriptors, 2)

	foreign := avbtest.NewDevice(t, avbtest.OtherKey(t), 1)
	_, err = avb.VerifyStandalone(foreign.Images[id], root)
	require.ErrorIs(t, err, outcome.ErrUnknownTrustKey)

	tampered := device.Clone()[id]
	tampered[avb.HeaderSize+avb.AlgorithmSHA256RSA2048.HashSize()+10] ^= 0xff
	_, err = avb.VerifyStandalone(tampered, root)
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)

	_, err = avb.VerifyStandalone(avbtest.Payload(3, 512), root)
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)

	_, err = avb.VerifyStandalone(device.Images[id][:avb.HeaderSize+4], root)
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)

	// An unsigned footer is not a signature.
	_, err = avb.VerifyStandalone(device.Images[partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}], root)
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)
}

// TestVerifyDescriptorChain checks hash bindings, skipped partitions and mismatch indexes.
func TestVerifyDescriptorChain(t *testing.T) {
	t.Parallel()

	var (
		key    = avbtest.Key(t)
		root   = avbtest.TrustRoot(t, key)
		device = avbtest.NewDevice(t, key, 10)
		images = device.Clone()
	)

	vb, err := avb.VerifyStandalone(images[partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotB}], root)
	require.NoError(t, err)

	related := map[string][]byte{
		"boot":      images[partition.ID{Kind: partition.KindBoot, Slot: partition.SlotB}],
		"init_boot": images[partition.ID{Kind: partition.KindInitBoot, Slot: partition.SlotB}],
	}
	require.NoError(t, avb.VerifyDescriptorChain(vb, related, root))

	// Absent partitions are skipped.
	require.NoError(t, avb.VerifyDescriptorChain(vb, map[string][]byte{}, root))

	// Slot A boot against slot B vbmeta must not match.
	related["init_boot"] = images[partition.ID{Kind: partition.KindInitBoot, Slot: partition.SlotA}]

	err = avb.VerifyDescriptorChain(vb, related, root)
	require.ErrorIs(t, err, outcome.ErrDigestMismatch)

	var mismatch *avb.MismatchError

	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, 1, mismatch.Index)
	require.Equal(t, "init_boot", mismatch.Partition)
}

// TestVerifyHashOnly flips one payload byte and shortens the image.
func TestVerifyHashOnly(t *testing.T) {
	t.Parallel()

	payload := avbtest.Payload(5, 6000)
	desc := avbtest.HashDescriptor(t, "init_boot", payload, avbtest.Salt(5))
	image := avbtest.Footed(t, "init_boot", payload, avbtest.Salt(5), nil)

	require.NoError(t, avb.VerifyHashOnly(image, desc))
	require.NoError(t, avb.VerifyHashOnly(payload, desc))

	image[100] ^= 1
	require.ErrorIs(t, avb.VerifyHashOnly(image, desc), outcome.ErrDigestMismatch)
	require.ErrorIs(t, avb.VerifyHashOnly(payload[:10], desc), outcome.ErrDigestMismatch)
}

// TestVerifyChainedPartition requires a chained leaf to be signed by exactly the pinned key.
func TestVerifyChainedPartition(t *testing.T) {
	t.Parallel()

	var (
		key     = avbtest.Key(t)
		other   = avbtest.OtherKey(t)
		root    = avbtest.TrustRoot(t, key)
		payload = avbtest.Payload(20, 7000)
	)

	otherBlob, err := avb.EncodePublicKey(&other.PublicKey)
	require.NoError(t, err)

	parent := avbtest.Vbmeta(t, key, &avb.ChainPartitionDescriptor{
		RollbackIndexLocation: 2,
		PartitionName:         "init_boot",
		PublicKey:             otherBlob,
	})

	vb, err := avb.VerifyStandalone(parent, root)
	require.NoError(t, err)

	good := avbtest.Footed(t, "init_boot", payload, avbtest.Salt(20), other)
	require.NoError(t, avb.VerifyDescriptorChain(vb, map[string][]byte{"init_boot": good}, root))

	// Valid signature, but by the top-level key rather than the pinned one.
	wrongKey := avbtest.Footed(t, "init_boot", payload, avbtest.Salt(20), key)
	err = avb.VerifyDescriptorChain(vb, map[string][]byte{"init_boot": wrongKey}, root)
	require.ErrorIs(t, err, outcome.ErrUnknownTrustKey)

	// Right key, but the payload no longer matches the child's hash descriptor.
	corrupt := append([]byte(nil), good...)
	corrupt[0] ^= 1
	err = avb.VerifyDescriptorChain(vb, map[string][]byte{"init_boot": corrupt}, root)
	require.ErrorIs(t, err, outcome.ErrDigestMismatch)
}

// TestParseTrustRootBlob loads a verification-only root from an AVB key blob.
func TestParseTrustRootBlob(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)

	blob, err := avb.EncodePublicKey(&key.PublicKey)
	require.NoError(t, err)

	root, err := avb.ParseTrustRoot(blob)
	require.NoError(t, err)
	require.False(t, root.CanSign())
	require.True(t, root.Matches(blob))
	require.Equal(t, avbtest.TrustRoot(t, key).Fingerprint(), root.Fingerprint())

	_, err = avb.ParseTrustRoot([]byte("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"))
	require.ErrorIs(t, err, avb.ErrKeyFormat)
}
