package flasher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/outcome"
)

var (
	bootA     = partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}
	initBootA = partition.ID{Kind: partition.KindInitBoot, Slot: partition.SlotA}
	vbmetaA   = partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}
)

// fakeDevice records writes and can fail a chosen partition.
type fakeDevice struct {
	capacity map[partition.ID]uint64
	failOn   partition.ID
	writes   []partition.ID
}

func (d *fakeDevice) Capacity(id partition.ID) (uint64, error) {
	c, ok := d.capacity[id]
	if !ok {
		return 0, errors.New("no such partition")
	}

	return c, nil
}

func (d *fakeDevice) Write(_ context.Context, id partition.ID, _ []byte) error {
	if id == d.failOn {
		return errors.New("EIO")
	}

	d.writes = append(d.writes, id)

	return nil
}

type answer bool

func (a answer) Confirm(context.Context, string) (bool, error) { return bool(a), nil }

// sized returns a slice of n bytes without caring about content.
func sized(n int) []byte { return make([]byte, n) }

// TestFlashOverflowWritesNothing rejects the whole batch when one image does not fit.
func TestFlashOverflowWritesNothing(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{capacity: map[partition.ID]uint64{
		bootA:     67108864,
		initBootA: 8 << 20,
	}}

	report, err := New(dev, answer(true)).Flash(context.Background(), []Target{
		{ID: initBootA, Image: sized(4096)},
		{ID: bootA, Image: sized(68157440)},
	})
	require.ErrorIs(t, err, outcome.ErrCapacityOverflow)
	require.Equal(t, outcome.StatusSizeOverflow, outcome.Classify(err))
	require.Empty(t, dev.writes)

	require.NoError(t, report.Results[0].Err)
	require.ErrorIs(t, report.Results[1].Err, outcome.ErrCapacityOverflow)
	require.Equal(t, uint64(67108864), report.Results[1].Capacity)
	require.Equal(t, uint64(68157440), report.Results[1].Length)
}

// TestFlashDeclined aborts before any write.
func TestFlashDeclined(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{capacity: map[partition.ID]uint64{bootA: 4096}}

	_, err := New(dev, answer(false)).Flash(context.Background(), []Target{{ID: bootA, Image: sized(10)}})
	require.ErrorIs(t, err, outcome.ErrUserDeclined)
	require.Empty(t, dev.writes)
}

// TestFlashStopsOnFailure reports the failing partition and skips the rest.
func TestFlashStopsOnFailure(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{
		capacity: map[partition.ID]uint64{bootA: 4096, initBootA: 4096, vbmetaA: 4096},
		failOn:   initBootA,
	}

	report, err := New(dev, nil).Flash(context.Background(), []Target{
		{ID: bootA, Image: sized(10)},
		{ID: initBootA, Image: sized(10)},
		{ID: vbmetaA, Image: sized(10)},
	})
	require.ErrorIs(t, err, outcome.ErrWriteFailure)
	require.Equal(t, []partition.ID{bootA}, dev.writes)
	require.Equal(t, []partition.ID{bootA}, report.Written())
	require.Error(t, report.Results[1].Err)
	require.ErrorIs(t, report.Results[2].Err, errNotAttempted)
}

// TestFlashSuccess writes every partition in batch order.
func TestFlashSuccess(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{capacity: map[partition.ID]uint64{initBootA: 4096, vbmetaA: 4096}}

	report, err := New(dev, answer(true)).Flash(context.Background(), []Target{
		{ID: initBootA, Image: sized(4096)},
		{ID: vbmetaA, Image: sized(4096)},
	})
	require.NoError(t, err)
	require.Equal(t, []partition.ID{initBootA, vbmetaA}, dev.writes)
	require.Len(t, report.Written(), 2)
}

// TestPrecheckCapacityError surfaces devices whose size cannot be queried.
func TestPrecheckCapacityError(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{capacity: map[partition.ID]uint64{}}

	_, err := New(dev, nil).Flash(context.Background(), []Target{{ID: bootA, Image: sized(1)}})
	require.Error(t, err)
	require.Empty(t, dev.writes)
}
