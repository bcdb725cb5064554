package integrity

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// errNotVerified marks leaves that were not checked because their slot's vbmeta failed.
var errNotVerified = errors.New("not verified, vbmeta of the slot failed")

// Entry is the verification result of one partition.
type Entry struct {
	ID  partition.ID
	Err error
}

// OK reports whether the partition passed.
func (e Entry) OK() bool {
	return e.Err == nil
}

// Report holds one entry per verified partition in canonical order.
type Report struct {
	Entries []Entry
}

// Failed returns the entries that did not pass.
func (r *Report) Failed() []Entry {
	var failed []Entry

	for _, e := range r.Entries {
		if !e.OK() {
			failed = append(failed, e)
		}
	}

	return failed
}

// Err returns the first failure, or nil.
func (r *Report) Err() error {
	for _, e := range r.Entries {
		if e.Err != nil {
			return fmt.Errorf("%s: %w", e.ID, e.Err)
		}
	}

	return nil
}

// VerifySet checks both slots of set against root. Every partition gets an
// entry so the operator sees the full picture, but the batch fails as a
// whole: the returned error is the first failure in canonical order.
//
// Per slot, vbmeta must be signed by root. boot and init_boot must then be
// bound by a descriptor in that vbmeta, or carry their own footer signed by
// root. A leaf bound by neither is outcome.ErrChainBindingMissing.
func VerifySet(ctx context.Context, set *partition.Set, root *avb.TrustRoot) (*Report, error) {
	if err := set.Complete(); err != nil {
		return nil, err
	}

	report := &Report{}

	for _, slot := range partition.Slots() {
		report.Entries = append(report.Entries, verifySlot(ctx, set, slot, root)...)
	}

	// Keep canonical order for display.
	ordered := make([]Entry, 0, len(report.Entries))

	for _, id := range partition.AllIDs() {
		for _, e := range report.Entries {
			if e.ID == id {
				ordered = append(ordered, e)
			}
		}
	}

	report.Entries = ordered

	for _, e := range report.Entries {
		if e.OK() {
			logger.DebugKV(ctx, "Partition verified", "partition", e.ID.String())
		} else {
			logger.ErrorKV(ctx, "Partition failed verification", "partition", e.ID.String(), "error", e.Err)
		}
	}

	return report, report.Err()
}

func verifySlot(ctx context.Context, set *partition.Set, slot partition.Slot, root *avb.TrustRoot) []Entry {
	vbmetaID := partition.ID{Kind: partition.KindVbmeta, Slot: slot}
	vbmetaImage, _ := set.Get(vbmetaID)

	leaves := make([]*partition.Image, 0, 2)

	for _, id := range partition.IDsForSlot(slot) {
		if id.Kind == partition.KindVbmeta {
			continue
		}

		img, _ := set.Get(id)
		leaves = append(leaves, img)
	}

	vb, err := avb.VerifyStandalone(vbmetaImage.Bytes(), root)
	if err != nil {
		entries := []Entry{{ID: vbmetaID, Err: err}}
		for _, leaf := range leaves {
			entries = append(entries, Entry{ID: leaf.ID(), Err: fmt.Errorf("%w: %w", errNotVerified, err)})
		}

		return entries
	}

	logger.DebugKV(ctx, "Vbmeta signature valid",
		"partition", vbmetaID.String(),
		"algorithm", vb.Algorithm.String(),
		"rollback_index", vb.RollbackIndex)

	entries := []Entry{{ID: vbmetaID}}

	for _, leaf := range leaves {
		entries = append(entries, Entry{ID: leaf.ID(), Err: verifyLeaf(vb, string(leaf.ID().Kind), leaf.Bytes(), root)})
	}

	return entries
}

// verifyLeaf checks one leaf through the parent vbmeta, or through its own
// footer when the parent does not mention it.
func verifyLeaf(parent *avb.Vbmeta, name string, image []byte, root *avb.TrustRoot) error {
	if parent.Binds(name) {
		return avb.VerifyDescriptorChain(parent, map[string][]byte{name: image}, root)
	}

	own, err := avb.VerifyStandalone(image, root)
	if err != nil {
		return fmt.Errorf("%w: %s is not bound by vbmeta: %w", outcome.ErrChainBindingMissing, name, err)
	}

	return avb.VerifyDescriptorChain(own, map[string][]byte{name: image}, root)
}

// VerifyRebuild re-validates rebuilder output before anything is promoted
// or flashed. With a top-level vbmeta every image must be bound by it. In
// chained mode each image must verify on its own.
func VerifyRebuild(ctx context.Context, result *avb.RebuildResult, root *avb.TrustRoot) error {
	if result.Vbmeta == nil {
		for name, image := range result.Images {
			vb, err := avb.VerifyStandalone(image, root)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			if err = avb.VerifyDescriptorChain(vb, map[string][]byte{name: image}, root); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
		}

		logger.InfoKV(ctx, "Chained images verified", "count", len(result.Images))

		return nil
	}

	vb, err := avb.VerifyStandalone(result.Vbmeta, root)
	if err != nil {
		return fmt.Errorf("vbmeta: %w", err)
	}

	for name, image := range result.Images {
		if err = verifyLeaf(vb, name, image, root); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	logger.InfoKV(ctx, "Rebuilt set verified",
		"images", len(result.Images),
		"descriptors", len(vb.Descriptors))

	return nil
}
