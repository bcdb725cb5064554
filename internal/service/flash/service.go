package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/flasher"
	"github.com/oshokin/avb-guard/internal/integrity"
	"github.com/oshokin/avb-guard/internal/logger"
)

// errNothingToFlash is returned when the directory holds no image for the slot.
var errNothingToFlash = errors.New("no images for the slot")

// service verifies and flashes one slot.
type service struct {
	root    *avb.TrustRoot
	flasher *flasher.Flasher
}

// flash verifies the slot's images and writes them in canonical order. No
// device is touched unless verification and the capacity precheck pass.
func (s *service) flash(ctx context.Context, slot partition.Slot, images map[partition.ID][]byte) (*flasher.Report, error) {
	var (
		targets []flasher.Target
		check   = &avb.RebuildResult{Images: make(map[string][]byte)}
	)

	for _, id := range partition.IDsForSlot(slot) {
		data, ok := images[id]
		if !ok {
			continue
		}

		if id.Kind == partition.KindVbmeta {
			check.Vbmeta = data
		} else {
			check.Images[string(id.Kind)] = data
		}

		targets = append(targets, flasher.Target{ID: id, Image: data})
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("slot %s: %w", slot, errNothingToFlash)
	}

	if err := integrity.VerifyRebuild(ctx, check, s.root); err != nil {
		return nil, err
	}

	report, err := s.flasher.Flash(ctx, targets)
	if err != nil {
		return report, err
	}

	logger.InfoKV(ctx, "Slot flashed", "slot", string(slot), "partitions", len(report.Written()))

	return report, nil
}
