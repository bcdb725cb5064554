package changes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/domain/partition"
)

func buildSet(t *testing.T, override map[partition.ID]byte) *partition.Set {
	t.Helper()

	images := make([]*partition.Image, 0, len(partition.AllIDs()))

	for i, id := range partition.AllIDs() {
		fill := byte(i)
		if v, ok := override[id]; ok {
			fill = v
		}

		data := make([]byte, 4096)
		for j := range data {
			data[j] = fill
		}

		img, err := partition.NewImage(id, data, 1000)
		require.NoError(t, err)

		images = append(images, img)
	}

	set, err := partition.NewSet(images...)
	require.NoError(t, err)

	return set
}

// TestCompareReflexive checks that a set compared with itself is unchanged.
func TestCompareReflexive(t *testing.T) {
	t.Parallel()

	set := buildSet(t, nil)
	result := Compare(set, set)

	require.Equal(t, StatusUnchanged, result.Status)
	require.Empty(t, result.Changed)
	require.False(t, result.HasChanges())
}

// TestCompareSingleChange reports exactly the partition whose digest differs.
func TestCompareSingleChange(t *testing.T) {
	t.Parallel()

	bootB := partition.ID{Kind: partition.KindBoot, Slot: partition.SlotB}
	result := Compare(buildSet(t, map[partition.ID]byte{bootB: 0xee}), buildSet(t, nil))

	require.Equal(t, StatusChanged, result.Status)
	require.Equal(t, []partition.ID{bootB}, result.Changed)
	require.Equal(t, []string{"boot_b"}, result.Names())
}

// TestCompareBaselineMissing reports every partition as changed.
func TestCompareBaselineMissing(t *testing.T) {
	t.Parallel()

	result := Compare(buildSet(t, nil), nil)

	require.Equal(t, StatusBaselineMissing, result.Status)
	require.Equal(t, partition.AllIDs(), result.Changed)
	require.True(t, result.HasChanges())
}

// TestComparePartialBaseline treats partitions absent from the baseline as changed.
func TestComparePartialBaseline(t *testing.T) {
	t.Parallel()

	full := buildSet(t, nil)

	vbmetaA, ok := full.Get(partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA})
	require.True(t, ok)

	partial, err := partition.NewSet(vbmetaA)
	require.NoError(t, err)

	result := Compare(full, partial)
	require.Equal(t, StatusChanged, result.Status)
	require.Len(t, result.Changed, 5)
	require.NotContains(t, result.Changed, vbmetaA.ID())
}

// TestCompareIgnoresPadding only digests the declared length.
func TestCompareIgnoresPadding(t *testing.T) {
	t.Parallel()

	id := partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}

	a, err := partition.NewImage(id, append(make([]byte, 100), 1, 2, 3), 100)
	require.NoError(t, err)

	b, err := partition.NewImage(id, append(make([]byte, 100), 9, 9), 100)
	require.NoError(t, err)

	left, err := partition.NewSet(a)
	require.NoError(t, err)

	right, err := partition.NewSet(b)
	require.NoError(t, err)

	require.Equal(t, StatusUnchanged, Compare(left, right).Status)
}
