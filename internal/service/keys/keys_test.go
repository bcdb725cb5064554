package keys

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/config"
)

// TestGenerateAndExport creates a key, refuses to replace it and exports the blob.
func TestGenerateAndExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "keys", "avb.pem")

	root, err := Generate(context.Background(), keyPath, 2048)
	require.NoError(t, err)
	require.Equal(t, 2048, root.KeyBits())

	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(config.DefaultFilePermissions), info.Mode().Perm())

	_, err = Generate(context.Background(), keyPath, 2048)
	require.ErrorIs(t, err, os.ErrExist)

	settings := filepath.Join(dir, config.DefaultConfigFilename)
	require.NoError(t, config.Save(settings, &config.Config{TrustKey: keyPath, WorkDir: dir}))

	out := filepath.Join(dir, "avb_pkmd.bin")

	exported, err := ExportPublicKey(context.Background(), &ExportOptions{ConfigPath: settings, Output: out})
	require.NoError(t, err)
	require.Equal(t, root.Fingerprint(), exported.Fingerprint())

	blob, err := os.ReadFile(out)
	require.NoError(t, err)

	public, err := avb.ParseTrustRoot(blob)
	require.NoError(t, err)
	require.False(t, public.CanSign())
	require.True(t, public.Matches(root.KeyBlob()))
}

// TestGenerateBadBits rejects sizes without an AVB algorithm.
func TestGenerateBadBits(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "k.pem")

	_, err := Generate(context.Background(), path, 1024)
	require.ErrorIs(t, err, errKeyBits)
	require.NoFileExists(t, path)
}
