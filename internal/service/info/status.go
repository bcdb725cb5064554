package info

import (
	"context"
	"errors"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/repository/backup"
	"github.com/oshokin/avb-guard/internal/service/common"
	"github.com/oshokin/avb-guard/internal/slot"
)

// Status is a snapshot of the tool's view of the device.
type Status struct {
	// Slots is zero when the slot could not be detected.
	Slots partition.SlotState
	// TrustKey is the fingerprint of the pinned key.
	TrustKey string
	// KeyBits is the RSA modulus size of the pinned key.
	KeyBits int
	// CanSign is false for a public-only trust root.
	CanSign bool
	// Sets lists canonical, staging and archived sets.
	Sets []backup.Summary
}

// Options are inputs accepted by the status entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Slot overrides slot detection.
	Slot string
}

// Run gathers the status. An undetectable slot is reported, not fatal.
func Run(ctx context.Context, opts *Options) (*Status, error) {
	ctx = logger.WithName(ctx, "status")

	env, err := common.LoadEnv(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	status := &Status{
		TrustKey: env.Root.Fingerprint().String(),
		KeyBits:  env.Root.KeyBits(),
		CanSign:  env.Root.CanSign(),
	}

	status.Slots, err = env.SlotState(ctx, opts.Slot)
	if err != nil && !errors.Is(err, slot.ErrUndetected) {
		return nil, err
	}

	if status.Sets, err = env.Store.List(ctx); err != nil {
		return nil, err
	}

	return status, nil
}
