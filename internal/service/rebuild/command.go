package rebuild

import (
	"context"
	"fmt"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/patcher"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// Options are inputs accepted by the rebuild entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Slot overrides the target slot. Empty means the slot opposite to the running one.
	Slot string
	// InputDir replaces the canonical baseline as the image source.
	InputDir string
	// Mode overrides the configured rebuild mode.
	Mode string
	// RegenerateSalt forces fresh salts regardless of configuration.
	RegenerateSalt bool
}

// Run rebuilds the target slot into the patched_signed directory.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "rebuild")

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

	modeName := env.Config.RebuildMode
	if opts.Mode != "" {
		modeName = opts.Mode
	}

	mode, err := avb.ParseMode(modeName)
	if err != nil {
		return nil, err
	}

	target, err := targetSlot(ctx, env, opts.Slot)
	if err != nil {
		return nil, err
	}

	ctx = logger.WithKV(ctx, "slot", string(target))

	images, err := sourceImages(ctx, env, opts.InputDir)
	if err != nil {
		return nil, err
	}

	p, err := patcher.New(env.Config.Patcher, env.Config.PatchedDir())
	if err != nil {
		return nil, err
	}

	kind, err := partition.ParseKind(env.Config.PatchPartition)
	if err != nil {
		return nil, err
	}

	svc := &service{
		root:    env.Root,
		patcher: p,
		patch:   kind,
		options: avb.RebuildOptions{
			Mode:           mode,
			RegenerateSalt: opts.RegenerateSalt || env.Config.RegenerateSalt,
		},
		patchedDir: env.Config.PatchedDir(),
		outputDir:  env.Config.PatchedSignedDir(),
	}

	return svc.rebuild(ctx, target, images)
}

// targetSlot picks the explicit slot or the one opposite to the running system.
func targetSlot(ctx context.Context, env *common.Env, explicit string) (partition.Slot, error) {
	if explicit != "" {
		return partition.ParseSlot(explicit)
	}

	state, err := env.SlotState(ctx, "")
	if err != nil {
		return "", err
	}

	return state.Target, nil
}

// sourceImages reads dir, or the canonical baseline when dir is empty. The
// baseline is checked against its manifest while loading.
func sourceImages(ctx context.Context, env *common.Env, dir string) (map[partition.ID][]byte, error) {
	if dir != "" {
		return imagefile.ReadSet(dir)
	}

	baseline, err := env.Store.Canonical(ctx)
	if err != nil {
		return nil, fmt.Errorf("rebuild needs a baseline: %w", err)
	}

	images := make(map[partition.ID][]byte, baseline.Images.Len())
	for _, img := range baseline.Images.Images() {
		images[img.ID()] = img.Bytes()
	}

	logger.DebugKV(ctx, "Using baseline", "name", baseline.Name, "partitions", len(images))

	return images, nil
}
