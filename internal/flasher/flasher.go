package flasher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// errNotAttempted marks targets after a failed write.
var errNotAttempted = errors.New("not attempted")

// Device is the block device collaborator.
type Device interface {
	Capacity(id partition.ID) (uint64, error)
	Write(ctx context.Context, id partition.ID, data []byte) error
}

// Confirmer asks the operator before the first destructive step.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// Target is one image bound for one partition.
type Target struct {
	ID    partition.ID
	Image []byte
}

// Result is the per-partition outcome of a flash batch.
type Result struct {
	ID       partition.ID
	Length   uint64
	Capacity uint64
	Written  bool
	Err      error
}

// Report lists results in batch order.
type Report struct {
	Results []Result
}

// Written returns the partitions that were fully written.
func (r *Report) Written() []partition.ID {
	var ids []partition.ID

	for _, res := range r.Results {
		if res.Written {
			ids = append(ids, res.ID)
		}
	}

	return ids
}

// Flasher writes batches of images.
type Flasher struct {
	device  Device
	confirm Confirmer
}

// New creates a flasher. A nil confirmer means the operator already agreed.
func New(device Device, confirm Confirmer) *Flasher {
	return &Flasher{device: device, confirm: confirm}
}

// Precheck compares every image with its partition capacity.
// The returned error wraps outcome.ErrCapacityOverflow if any image does not fit.
func (f *Flasher) Precheck(targets []Target) (*Report, error) {
	report := &Report{Results: make([]Result, 0, len(targets))}

	var (
		overflow []string
		firstErr error
	)

	for _, t := range targets {
		res := Result{ID: t.ID, Length: uint64(len(t.Image))}

		capacity, err := f.device.Capacity(t.ID)
		switch {
		case err != nil:
			res.Err = fmt.Errorf("query capacity of %s: %w", t.ID, err)

			if firstErr == nil {
				firstErr = res.Err
			}
		case res.Length > capacity:
			res.Capacity = capacity
			res.Err = fmt.Errorf("%w: %s image is %d bytes, partition is %d bytes",
				outcome.ErrCapacityOverflow, t.ID, res.Length, capacity)

			overflow = append(overflow, t.ID.String())
		default:
			res.Capacity = capacity
		}

		report.Results = append(report.Results, res)
	}

	if len(overflow) > 0 {
		return report, fmt.Errorf("%w: %s", outcome.ErrCapacityOverflow, strings.Join(overflow, ", "))
	}

	return report, firstErr
}

// Flash prechecks, confirms and writes the batch in order.
func (f *Flasher) Flash(ctx context.Context, targets []Target) (*Report, error) {
	report, err := f.Precheck(targets)
	if err != nil {
		return report, err
	}

	if err = f.ask(ctx, targets); err != nil {
		return report, err
	}

	for i, t := range targets {
		res := &report.Results[i]

		logger.InfoKV(ctx, "Flashing partition", "partition", t.ID.String(), "bytes", res.Length)

		if err = f.device.Write(ctx, t.ID, t.Image); err != nil {
			res.Err = err

			for j := i + 1; j < len(report.Results); j++ {
				report.Results[j].Err = errNotAttempted
			}

			if !errors.Is(err, outcome.ErrWriteFailure) {
				err = fmt.Errorf("%w: %s: %w", outcome.ErrWriteFailure, t.ID, err)
			}

			logger.ErrorKV(ctx, "Flash stopped, restore from the archived backup set",
				"partition", t.ID.String(), "error", err)

			return report, err
		}

		res.Written = true
	}

	return report, nil
}

func (f *Flasher) ask(ctx context.Context, targets []Target) error {
	if f.confirm == nil {
		return nil
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.ID.String()
	}

	ok, err := f.confirm.Confirm(ctx, "Flash "+strings.Join(names, ", ")+"?")
	if err != nil {
		return err
	}

	if !ok {
		return outcome.ErrUserDeclined
	}

	return nil
}
