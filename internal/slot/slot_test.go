package slot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/avb-guard/internal/domain/partition"
)

func fakeRunner(outputs map[string]string) Runner {
	return func(_ context.Context, name string, _ ...string) ([]byte, error) {
		out, ok := outputs[name]
		if !ok {
			return nil, errors.New("not found")
		}

		return []byte(out), nil
	}
}

// TestResolveOrder uses the first probe that answers.
func TestResolveOrder(t *testing.T) {
	t.Parallel()

	run := fakeRunner(map[string]string{"getprop": "_b\n", "bootctl": "0\n"})

	state, err := Resolve(context.Background(), DefaultProbes("", run)...)
	require.NoError(t, err)
	require.Equal(t, partition.SlotB, state.Current)
	require.Equal(t, partition.SlotA, state.Target)

	// A configured slot wins over everything else.
	state, err = Resolve(context.Background(), DefaultProbes("a", run)...)
	require.NoError(t, err)
	require.Equal(t, partition.SlotA, state.Current)
}

// TestResolveFallbacks skips empty and failing probes.
func TestResolveFallbacks(t *testing.T) {
	t.Parallel()

	cmdline := filepath.Join(t.TempDir(), "cmdline")
	require.NoError(t, os.WriteFile(cmdline, []byte("console=ttyMSM0 androidboot.slot_suffix=_a quiet\n"), 0o600))

	run := fakeRunner(map[string]string{"getprop": "\n", "bootctl": "1"})

	state, err := Resolve(context.Background(), Property{Run: run}, Cmdline{Path: cmdline}, Bootctl{Run: run})
	require.NoError(t, err)
	require.Equal(t, partition.SlotA, state.Current)

	state, err = Resolve(context.Background(), Property{Run: run}, Cmdline{Path: cmdline + ".missing"}, Bootctl{Run: run})
	require.NoError(t, err)
	require.Equal(t, partition.SlotB, state.Current)
}

// TestResolveUndetected reports failure when nothing answers, including garbage values.
func TestResolveUndetected(t *testing.T) {
	t.Parallel()

	run := fakeRunner(map[string]string{"getprop": "_c"})

	_, err := Resolve(context.Background(), Fixed{}, Property{Run: run}, Bootctl{Run: run})
	require.ErrorIs(t, err, ErrUndetected)
}
