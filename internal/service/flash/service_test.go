package flash

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/blockdev"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/flasher"
	"github.com/oshokin/avb-guard/internal/outcome"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// newDevice creates zero-filled partitions of the given sizes.
func newDevice(t *testing.T, sizes map[partition.ID]int) blockdev.Layout {
	t.Helper()

	layout := blockdev.Layout{Dir: t.TempDir()}

	for id, size := range sizes {
		require.NoError(t, os.WriteFile(layout.Path(id), make([]byte, size), 0o600))
	}

	return layout
}

func slotSizes(slot partition.Slot, size int) map[partition.ID]int {
	sizes := make(map[partition.ID]int)
	for _, id := range partition.IDsForSlot(slot) {
		sizes[id] = size
	}

	return sizes
}

// TestFlashWritesVerifiedSlot writes every image of the slot and nothing else.
func TestFlashWritesVerifiedSlot(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	images := avbtest.NewDevice(t, key, 30).Clone()
	layout := newDevice(t, slotSizes(partition.SlotA, avbtest.PartitionSize))

	s := &service{root: avbtest.TrustRoot(t, key), flasher: flasher.New(layout, common.AssumeYes{})}

	report, err := s.flash(context.Background(), partition.SlotA, images)
	require.NoError(t, err)
	require.Equal(t, partition.IDsForSlot(partition.SlotA), report.Written())

	for _, id := range partition.IDsForSlot(partition.SlotA) {
		got, err := os.ReadFile(layout.Path(id))
		require.NoError(t, err)
		require.Equal(t, images[id], got[:len(images[id])])
	}
}

// TestFlashRejectsForeignSignature writes nothing when the images are not ours.
func TestFlashRejectsForeignSignature(t *testing.T) {
	t.Parallel()

	images := avbtest.NewDevice(t, avbtest.OtherKey(t), 31).Clone()
	layout := newDevice(t, slotSizes(partition.SlotB, avbtest.PartitionSize))

	s := &service{root: avbtest.TrustRoot(t, avbtest.Key(t)), flasher: flasher.New(layout, common.AssumeYes{})}

	_, err := s.flash(context.Background(), partition.SlotB, images)
	require.ErrorIs(t, err, outcome.ErrUnknownTrustKey)

	for _, id := range partition.IDsForSlot(partition.SlotB) {
		got, err := os.ReadFile(layout.Path(id))
		require.NoError(t, err)
		require.Equal(t, make([]byte, avbtest.PartitionSize), got)
	}
}

// TestFlashOverflow rejects the batch when one partition is too small.
func TestFlashOverflow(t *testing.T) {
	t.Parallel()

	key := avbtest.Key(t)
	images := avbtest.NewDevice(t, key, 32).Clone()

	sizes := slotSizes(partition.SlotA, avbtest.PartitionSize)
	sizes[partition.ID{Kind: partition.KindInitBoot, Slot: partition.SlotA}] = avbtest.PartitionSize - avb.BlockSize

	layout := newDevice(t, sizes)
	s := &service{root: avbtest.TrustRoot(t, key), flasher: flasher.New(layout, common.AssumeYes{})}

	_, err := s.flash(context.Background(), partition.SlotA, images)
	require.ErrorIs(t, err, outcome.ErrCapacityOverflow)

	got, err := os.ReadFile(layout.Path(partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}))
	require.NoError(t, err)
	require.Equal(t, make([]byte, avbtest.PartitionSize), got)
}

// TestFlashNothing reports an empty slot.
func TestFlashNothing(t *testing.T) {
	t.Parallel()

	s := &service{root: avbtest.TrustRoot(t, avbtest.Key(t)), flasher: flasher.New(blockdev.Layout{}, nil)}

	_, err := s.flash(context.Background(), partition.SlotA, nil)
	require.ErrorIs(t, err, errNothingToFlash)
}
