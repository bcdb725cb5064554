package backup

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/changes"
	"github.com/oshokin/avb-guard/internal/domain/backupset"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/outcome"
	repo "github.com/oshokin/avb-guard/internal/repository/backup"
	"github.com/oshokin/avb-guard/internal/service/common"
)

var (
	bootB   = partition.ID{Kind: partition.KindBoot, Slot: partition.SlotB}
	vbmetaA = partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}
)

// memDevice serves partition dumps from memory.
type memDevice map[partition.ID][]byte

func (m memDevice) Read(_ context.Context, id partition.ID) ([]byte, error) {
	data, ok := m[id]
	if !ok {
		return nil, os.ErrNotExist
	}

	return bytes.Clone(data), nil
}

// chainedDevice signs boot on its own in each slot, so a new boot image does
// not touch vbmeta. init_boot stays hash-bound.
func chainedDevice(t *testing.T, bootSeed byte) memDevice {
	t.Helper()

	key := avbtest.Key(t)
	base := avbtest.NewDevice(t, key, 1)
	images := memDevice(base.Clone())

	for i, slot := range partition.Slots() {
		var (
			boot     = partition.ID{Kind: partition.KindBoot, Slot: slot}
			initBoot = partition.ID{Kind: partition.KindInitBoot, Slot: slot}
			seed     = bootSeed + byte(i)
		)

		images[boot] = avbtest.Footed(t, "boot", avbtest.Payload(seed, avbtest.PayloadSize), avbtest.Salt(seed), key)
		images[partition.ID{Kind: partition.KindVbmeta, Slot: slot}] = avbtest.Vbmeta(t, key,
			avbtest.HashDescriptor(t, "init_boot", base.Payloads[initBoot], avbtest.Salt(1+byte(i*2+1))))
	}

	return images
}

func newTestService(t *testing.T, device common.Reader, workDir string, at time.Time) *service {
	t.Helper()

	store := repo.NewStore(workDir, repo.WithClock(func() time.Time { return at }))
	s := newService(device, store, avbtest.TrustRoot(t, avbtest.Key(t)), &backupset.Actor{Hostname: "pixel", Username: "root"})
	s.now = func() time.Time { return at }

	return s
}

// TestBackupFirstRun promotes the first verified dump without an archive.
func TestBackupFirstRun(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	device := chainedDevice(t, 10)

	result, err := newTestService(t, device, workDir, time.Unix(1700000000, 0)).backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, changes.StatusBaselineMissing, result.Changes.Status)
	require.Len(t, result.Changes.Changed, 6)
	require.Empty(t, result.Archive)
	require.Equal(t, backupset.StateCanonical, result.Set.State)
	require.Empty(t, result.Report.Failed())

	canonical, err := repo.NewStore(workDir).Canonical(context.Background())
	require.NoError(t, err)
	require.True(t, canonical.Valid)
	require.Equal(t, "pixel", canonical.CreatedBy.Hostname)
	require.Equal(t, result.Set.Images.Digests(), canonical.Images.Digests())
}

// TestBackupUnchanged refuses to promote an identical dump and writes nothing.
func TestBackupUnchanged(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	device := chainedDevice(t, 10)

	_, err := newTestService(t, device, workDir, time.Unix(1700000000, 0)).backup(context.Background())
	require.NoError(t, err)

	result, err := newTestService(t, device, workDir, time.Unix(1700003600, 0)).backup(context.Background())
	require.ErrorIs(t, err, outcome.ErrNoChange)
	require.Equal(t, outcome.StatusNoOp, outcome.Classify(err))
	require.Equal(t, changes.StatusUnchanged, result.Changes.Status)
	require.Nil(t, result.Report)

	store := repo.NewStore(workDir)
	require.NoDirExists(t, store.StagingDir())

	archives, err := store.Archives()
	require.NoError(t, err)
	require.Empty(t, archives)
}

// TestBackupChangedBoot promotes a dump with a new boot_b and archives the old baseline.
func TestBackupChangedBoot(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	first := chainedDevice(t, 10)

	_, err := newTestService(t, first, workDir, time.Unix(1700000000, 0)).backup(context.Background())
	require.NoError(t, err)

	// Only slot b's boot differs: seeds 10/11 before, 10/40 after.
	second := chainedDevice(t, 10)
	second[bootB] = chainedDevice(t, 39)[bootB]

	result, err := newTestService(t, second, workDir, time.Unix(1700003600, 0)).backup(context.Background())
	require.NoError(t, err)
	require.Equal(t, changes.StatusChanged, result.Changes.Status)
	require.Equal(t, []partition.ID{bootB}, result.Changes.Changed)
	require.NotEmpty(t, result.Archive)
	require.DirExists(t, result.Archive)

	store := repo.NewStore(workDir)

	archived, err := store.Load(context.Background(), result.Archive)
	require.NoError(t, err)
	require.Equal(t, backupset.StateArchived, archived.State)

	canonical, err := store.Canonical(context.Background())
	require.NoError(t, err)

	img, ok := canonical.Images.Get(bootB)
	require.True(t, ok)
	require.Equal(t, second[bootB], img.Bytes())
}

// TestBackupTamperedVbmeta aborts with a signature error and keeps the baseline.
func TestBackupTamperedVbmeta(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	first := chainedDevice(t, 10)

	_, err := newTestService(t, first, workDir, time.Unix(1700000000, 0)).backup(context.Background())
	require.NoError(t, err)

	store := repo.NewStore(workDir)
	before, err := store.Canonical(context.Background())
	require.NoError(t, err)

	second := chainedDevice(t, 20)
	second[vbmetaA][avb.HeaderSize+40] ^= 0xff

	result, err := newTestService(t, second, workDir, time.Unix(1700003600, 0)).backup(context.Background())
	require.ErrorIs(t, err, outcome.ErrSignatureInvalid)
	require.True(t, outcome.Classify(err).IsCritical())
	require.NotEmpty(t, result.Report.Failed())
	require.Equal(t, backupset.StateEmpty, result.Set.State)
	require.NoDirExists(t, store.StagingDir())

	after, err := store.Canonical(context.Background())
	require.NoError(t, err)
	require.Equal(t, before.Images.Digests(), after.Images.Digests())
	require.Equal(t, backupset.StateCanonical, after.State)
}

// TestBackupDumpFailure stops before anything is staged.
func TestBackupDumpFailure(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	device := chainedDevice(t, 10)
	delete(device, vbmetaA)

	_, err := newTestService(t, device, workDir, time.Now()).backup(context.Background())
	require.ErrorIs(t, err, os.ErrNotExist)
	require.NoDirExists(t, repo.NewStore(workDir).StagingDir())
}
