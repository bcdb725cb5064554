package flash

import (
	"context"
	"os"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/flasher"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
	"github.com/oshokin/avb-guard/internal/service/common"
	"github.com/oshokin/avb-guard/internal/service/power"
)

// Options are inputs accepted by the flash entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Slot overrides the target slot. Empty means the slot opposite to the running one.
	Slot string
	// Dir overrides the patched_signed directory.
	Dir string
	// Yes skips the confirmation prompt.
	Yes bool
	// Reboot restarts the device after a successful flash.
	Reboot bool
}

// Run flashes the rebuilt images of the target slot.
func Run(ctx context.Context, opts *Options) (*flasher.Report, error) {
	ctx = logger.WithName(ctx, "flash")

	env, err := common.LoadEnv(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	lock, err := common.AcquireLock(ctx, env.Config.WorkDir)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = lock.Release()
	}()

	var target partition.Slot

	if opts.Slot != "" {
		target, err = partition.ParseSlot(opts.Slot)
	} else {
		var state partition.SlotState

		state, err = env.SlotState(ctx, "")
		target = state.Target
	}

	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "slot", string(target))

	dir := opts.Dir
	if dir == "" {
		dir = env.Config.PatchedSignedDir()
	}

	images, err := imagefile.ReadSet(dir)
	if err != nil {
		return nil, err
	}

	var confirm flasher.Confirmer = common.Prompt{In: os.Stdin, Out: os.Stderr}
	if opts.Yes {
		confirm = common.AssumeYes{}
	}

	svc := &service{
		root:    env.Root,
		flasher: flasher.New(env.Device, confirm),
	}

	report, err := svc.flash(ctx, target, images)
	if err != nil {
		return report, err
	}

	if opts.Reboot {
		logger.Info(ctx, "Rebooting")

		if err = power.Reboot(ctx, nil); err != nil {
			return report, err
		}
	}

	return report, nil
}
