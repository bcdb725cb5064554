// Package power restarts the device once a new boot chain is in place.
package power

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
)

// ErrUnsupportedOS indicates the current OS is not supported for reboot.
var ErrUnsupportedOS = errors.New("unsupported operating system")

// Runner starts a command without waiting for it.
type Runner func(ctx context.Context, name string, args ...string) error

// StartCommand is the default Runner.
func StartCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Start()
}

// Reboot restarts the device:
// - Android: `svc power reboot`, falling back to `reboot`
// - Linux:   `reboot`
// The command is started asynchronously; the OS takes over the rest.
func Reboot(ctx context.Context, run Runner) error {
	if run == nil {
		run = StartCommand
	}

	switch runtime.GOOS {
	case "android":
		if err := run(ctx, "svc", "power", "reboot"); err == nil {
			return nil
		}

		return run(ctx, "reboot")
	case "linux":
		return run(ctx, "reboot")
	default:
		return fmt.Errorf("%s: %w", runtime.GOOS, ErrUnsupportedOS)
	}
}
