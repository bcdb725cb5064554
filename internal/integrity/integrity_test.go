package integrity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/outcome"
)

func toSet(t *testing.T, images map[partition.ID][]byte) *partition.Set {
	t.Helper()

	list := make([]*partition.Image, 0, len(images))

	for id, data := range images {
		length, err := avb.PayloadLength(data)
		require.NoError(t, err)

		img, err := partition.NewImage(id, data, length)
		require.NoError(t, err)

		list = append(list, img)
	}

	set, err := partition.NewSet(list...)
	require.NoError(t, err)

	return set
}

// TestVerifySetValid accepts a consistent dump signed by the trust root.
func TestVerifySetValid(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	device := avbtest.NewDevice(t, key, 1)

	report, err := VerifySet(context.Background(), toSet(t, device.Images), avbtest.TrustRoot(t, key))
	require.NoError(t, err)
	require.Len(t, report.Entries, 6)
	require.Empty(t, report.Failed())
	require.Equal(t, partition.AllIDs()[0], report.Entries[0].ID)
}

// TestVerifySetTamperedVbmeta fails the batch but still reports the healthy slot.
func TestVerifySetTamperedVbmeta(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	images := avbtest.NewDevice(t, key, 2).Clone()
	vbmetaA := partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}
	images[vbmetaA][avb.HeaderSize+40] ^= 0xff

	report, err := VerifySet(context.Background(), toSet(t, images), avbtest.TrustRoot(t, key))
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)
	require.Len(t, report.Failed(), 3)

	for _, e := range report.Entries {
		require.Equal(t, e.ID.Slot == partition.SlotB, e.OK(), "%s", e.ID)
	}
}

// TestVerifySetModifiedBoot reports a digest mismatch for the changed leaf only.
func TestVerifySetModifiedBoot(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	images := avbtest.NewDevice(t, key, 3).Clone()
	bootB := partition.ID{Kind: partition.KindBoot, Slot: partition.SlotB}
	images[bootB][17] ^= 1

	report, err := VerifySet(context.Background(), toSet(t, images), avbtest.TrustRoot(t, key))
	require.ErrorIs(t, err, outcome.ErrDigestMismatch)

	failed := report.Failed()
	require.Len(t, failed, 1)
	require.Equal(t, bootB, failed[0].ID)
}

// TestVerifySetUnboundLeaf rejects a leaf that the vbmeta does not mention and that is not self-signed.
func TestVerifySetUnboundLeaf(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	device := avbtest.NewDevice(t, key, 4)
	images := device.Clone()

	// vbmeta_a now binds boot only.
	bootA := partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}
	images[partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}] = avbtest.Vbmeta(t, key,
		avbtest.HashDescriptor(t, "boot", device.Payloads[bootA], avbtest.Salt(4)))

	_, err := VerifySet(context.Background(), toSet(t, images), avbtest.TrustRoot(t, key))
	require.ErrorIs(t, err, outcome.ErrChainBindingMissing)
}

// TestVerifySetIncomplete refuses to verify fewer than six images.
func TestVerifySetIncomplete(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	images := avbtest.NewDevice(t, key, 5).Clone()
	delete(images, partition.ID{Kind: partition.KindInitBoot, Slot: partition.SlotB})

	_, err := VerifySet(context.Background(), toSet(t, images), avbtest.TrustRoot(t, key))
	require.ErrorIs(t, err, partition.ErrIncompleteSet)
}

// TestVerifyRebuild validates both top-level and chained rebuild output.
func TestVerifyRebuild(t *testing.T) {
	t.Parallel()

	var (
		key    = avbtest.Key(t)
		root   = avbtest.TrustRoot(t, key)
		device = avbtest.NewDevice(t, avbtest.OtherKey(t), 6)
		bootA  = partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}
	)

	result, err := avb.Rebuild(avb.RebuildInput{
		Leaves: []avb.Leaf{{Name: "boot", Payload: device.Images[bootA]}},
		Vbmeta: device.Images[partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}],
	}, root, avb.RebuildOptions{})
	require.NoError(t, err)
	require.NoError(t, VerifyRebuild(context.Background(), result, root))

	// A leaf swapped after rebuilding must be caught.
	result.Images["boot"] = device.Images[partition.ID{Kind: partition.KindBoot, Slot: partition.SlotB}]
	require.ErrorIs(t, VerifyRebuild(context.Background(), result, root), outcome.ErrDigestMismatch)

	signed := avbtest.Footed(t, "boot", avbtest.Payload(9, 3000), avbtest.Salt(9), avbtest.OtherKey(t))

	chained, err := avb.Rebuild(avb.RebuildInput{
		Leaves: []avb.Leaf{{Name: "boot", Payload: signed}},
	}, root, avb.RebuildOptions{Mode: avb.ModeChained})
	require.NoError(t, err)
	require.NoError(t, VerifyRebuild(context.Background(), chained, root))
	require.ErrorIs(t, VerifyRebuild(context.Background(), chained, avbtest.TrustRoot(t, avbtest.OtherKey(t))),
		outcome.ErrUnknownTrustKey)
}
