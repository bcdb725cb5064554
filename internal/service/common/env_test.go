//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb/avbtest"
	"github.com/oshokin/avb-guard/internal/blockdev"
	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
)

// TestNewImageSet derives payload lengths from AVB metadata.
func TestNewImageSet(t *testing.T) {
	t.Parallel()

	images := avbtest.NewDevice(t, avbtest.Key(t), 40).Clone()
	bootA := partition.ID{Kind: partition.KindBoot, Slot: partition.SlotA}
	vbmetaA := partition.ID{Kind: partition.KindVbmeta, Slot: partition.SlotA}

	// A truncated footer is left for verification to reject.
	images[bootA] = images[bootA][:len(images[bootA])-1]

	set, err := NewImageSet(context.Background(), images)
	require.NoError(t, err)
	require.NoError(t, set.Complete())

	boot, _ := set.Get(bootA)
	require.Equal(t, boot.Size(), boot.Length())

	vbmeta, _ := set.Get(vbmetaA)
	require.Less(t, vbmeta.Length(), vbmeta.Size())
}

// TestLoadEnvAndDump wires settings, trust key and block devices together.
func TestLoadEnvAndDump(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	images := avbtest.NewDevice(t, avbtest.Key(t), 41).Clone()
	devices := filepath.Join(dir, "by-name")

	for id, data := range images {
		require.NoError(t, imagefile.Write(filepath.Join(devices, id.String()), data))
	}

	path := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, &config.Config{
		TrustKey:  avbtest.WriteKey(t, dir, avbtest.Key(t)),
		WorkDir:   "work",
		DeviceDir: devices,
		Slot:      "a",
	}))

	env, err := LoadEnv(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, blockdev.Layout{Dir: devices}, env.Device)
	require.Equal(t, filepath.Join(dir, "work", config.BackupsDirName), env.Store.CanonicalDir())

	state, err := env.SlotState(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, partition.SlotB, state.Target)

	set, err := Dump(context.Background(), env.Device)
	require.NoError(t, err)
	require.Equal(t, 6, set.Len())
}
