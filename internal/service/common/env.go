//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"fmt"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/blockdev"
	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/repository/backup"
	"github.com/oshokin/avb-guard/internal/slot"
)

// Env bundles the collaborators every command builds from the settings file.
type Env struct {
	Config *config.Config
	Root   *avb.TrustRoot
	Device blockdev.Layout
	Store  *backup.Store
}

// LoadEnv reads the settings and the pinned trust key.
func LoadEnv(ctx context.Context, configPath string) (*Env, error) {
	settings, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	root, err := avb.LoadTrustRoot(settings.TrustKey)
	if err != nil {
		return nil, fmt.Errorf("load trust key: %w", err)
	}

	logger.DebugKV(ctx, "Trust root loaded",
		"path", settings.TrustKey,
		"fingerprint", root.Fingerprint().String(),
		"bits", root.KeyBits(),
		"can_sign", root.CanSign())

	return &Env{
		Config: settings,
		Root:   root,
		Device: blockdev.Layout{Dir: settings.DeviceDir, Progress: settings.Progress},
		Store:  backup.NewStore(settings.WorkDir),
	}, nil
}

// SlotState resolves the running slot. A non-empty override wins over the
// settings file, which wins over probing the system.
func (e *Env) SlotState(ctx context.Context, override string) (partition.SlotState, error) {
	configured := e.Config.Slot
	if override != "" {
		configured = override
	}

	return slot.Resolve(ctx, slot.DefaultProbes(configured, slot.ExecRunner)...)
}

// NewImageSet wraps raw partition bytes into a set. The payload length of
// each image is derived from its AVB metadata. An image whose metadata cannot
// be parsed counts in full and is left for verification to reject.
func NewImageSet(ctx context.Context, raw map[partition.ID][]byte) (*partition.Set, error) {
	images := make([]*partition.Image, 0, len(raw))

	for _, id := range partition.AllIDs() {
		data, ok := raw[id]
		if !ok {
			continue
		}

		length, err := avb.PayloadLength(data)
		if err != nil {
			logger.WarnKV(ctx, "Unreadable AVB metadata", "partition", id.String(), "error", err)

			length = int64(len(data))
		}

		img, err := partition.NewImage(id, data, length)
		if err != nil {
			return nil, err
		}

		images = append(images, img)
	}

	return partition.NewSet(images...)
}

// Reader dumps one partition.
type Reader interface {
	Read(ctx context.Context, id partition.ID) ([]byte, error)
}

// Dump reads all six partitions one after another.
func Dump(ctx context.Context, device Reader) (*partition.Set, error) {
	raw := make(map[partition.ID][]byte, len(partition.AllIDs()))

	for _, id := range partition.AllIDs() {
		data, err := device.Read(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("dump %s: %w", id, err)
		}

		raw[id] = data
	}

	return NewImageSet(ctx, raw)
}
