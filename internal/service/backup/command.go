package backup

import (
	"context"
	"fmt"

	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// Options are inputs accepted by the backup entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
}

// Run dumps the device, compares it with the baseline and promotes it when
// it changed and verifies.
func Run(ctx context.Context, opts *Options) (*Result, error) {
	ctx = logger.WithName(ctx, "backup")

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

	actor, err := common.DetectActor()
	if err != nil {
		return nil, fmt.Errorf("detect actor: %w", err)
	}

	result, err := newService(env.Device, env.Store, env.Root, actor).backup(ctx)
	if err != nil {
		return result, err
	}

	logger.InfoKV(ctx, "Backup completed",
		"path", env.Store.CanonicalDir(),
		"archive", result.Archive,
		"changed", result.Changes.Names())

	return result, nil
}
