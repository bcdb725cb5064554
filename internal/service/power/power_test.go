package power

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestReboot issues the platform reboot command through the runner.
func TestReboot(t *testing.T) {
	t.Parallel()

	var calls [][]string

	run := func(_ context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))

		if name == "svc" {
			return errors.New("svc: not found")
		}

		return nil
	}

	err := Reboot(context.Background(), run)

	switch runtime.GOOS {
	case "android":
		require.NoError(t, err)
		require.Equal(t, [][]string{{"svc", "power", "reboot"}, {"reboot"}}, calls)
	case "linux":
		require.NoError(t, err)
		require.Equal(t, [][]string{{"reboot"}}, calls)
	default:
		require.ErrorIs(t, err, ErrUnsupportedOS)
		require.Empty(t, calls)
	}
}
