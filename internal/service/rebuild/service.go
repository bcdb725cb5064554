package rebuild

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/integrity"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/patcher"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
)

// errNoLeaves is returned when the slot holds neither boot nor init_boot.
var errNoLeaves = errors.New("no boot or init_boot image to rebuild")

// Result describes a rebuilt slot.
type Result struct {
	Slot partition.Slot
	// Mode is the resolved rebuild mode.
	Mode avb.Mode
	// Dir holds the signed images.
	Dir string
	// Images lists the written partitions in canonical order.
	Images []partition.ID
}

// service turns stock images of one slot into patched, re-signed ones.
type service struct {
	root    *avb.TrustRoot
	patcher patcher.Patcher
	// patch is the leaf handed to the patcher.
	patch      partition.Kind
	options    avb.RebuildOptions
	patchedDir string
	outputDir  string
}

// rebuild patches, re-signs, verifies and writes the slot. images may hold
// both slots; only slot is used. Nothing is written unless the rebuilt set
// verifies against the trust root.
func (s *service) rebuild(ctx context.Context, slot partition.Slot, images map[partition.ID][]byte) (*Result, error) {
	in := avb.RebuildInput{}
	patched := make(map[partition.ID][]byte, 1)

	for _, id := range partition.IDsForSlot(slot) {
		original, ok := images[id]
		if !ok {
			continue
		}

		if id.Kind == partition.KindVbmeta {
			in.Vbmeta = original
			continue
		}

		payload, err := avb.StripFooter(original)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		if id.Kind == s.patch {
			if payload, err = s.patcher.Patch(ctx, string(id.Kind), payload); err != nil {
				return nil, fmt.Errorf("patch %s: %w", id, err)
			}

			patched[id] = payload

			logger.InfoKV(ctx, "Payload patched", "partition", id.String(), "patcher", s.patcher.Name(), "bytes", len(payload))
		}

		in.Leaves = append(in.Leaves, avb.Leaf{
			Name:     string(id.Kind),
			Payload:  payload,
			Original: original,
		})
	}

	if len(in.Leaves) == 0 {
		return nil, fmt.Errorf("slot %s: %w", slot, errNoLeaves)
	}

	if err := imagefile.WriteSet(s.patchedDir, patched); err != nil {
		return nil, fmt.Errorf("keep patched payload: %w", err)
	}

	rebuilt, err := avb.Rebuild(in, s.root, s.options)
	if err != nil {
		return nil, err
	}

	if err = integrity.VerifyRebuild(ctx, rebuilt, s.root); err != nil {
		return nil, err
	}

	out := make(map[partition.ID][]byte, len(rebuilt.Images)+1)

	for name, image := range rebuilt.Images {
		kind, err := partition.ParseKind(name)
		if err != nil {
			return nil, err
		}

		out[partition.ID{Kind: kind, Slot: slot}] = image
	}

	if rebuilt.Vbmeta != nil {
		out[partition.ID{Kind: partition.KindVbmeta, Slot: slot}] = rebuilt.Vbmeta
	}

	// Stale images from an earlier run must not be flashed with this one.
	if err = os.RemoveAll(s.outputDir); err != nil {
		return nil, fmt.Errorf("clear output: %w", err)
	}

	if err = imagefile.WriteSet(s.outputDir, out); err != nil {
		return nil, err
	}

	result := &Result{
		Slot: slot,
		Mode: rebuilt.Mode,
		Dir:  s.outputDir,
	}

	for _, id := range partition.IDsForSlot(slot) {
		if _, ok := out[id]; ok {
			result.Images = append(result.Images, id)
		}
	}

	logger.InfoKV(ctx, "Slot rebuilt", "slot", string(slot), "mode", rebuilt.Mode.String(), "dir", s.outputDir)

	return result, nil
}
