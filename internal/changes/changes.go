package changes

import (
	"github.com/oshokin/avb-guard/internal/domain/partition"
)

// Status is the outcome of a comparison.
type Status string

const (
	// StatusUnchanged means every candidate digest equals the baseline.
	StatusUnchanged Status = "unchanged"
	// StatusChanged means at least one partition differs or is new.
	StatusChanged Status = "changed"
	// StatusBaselineMissing means there is no baseline; every partition counts as changed.
	StatusBaselineMissing Status = "baseline-missing"
)

// Result lists the partitions that differ from the baseline.
type Result struct {
	Status Status
	// Changed is in canonical order.
	Changed []partition.ID
}

// Compare diffs candidate against baseline by digest. A nil baseline is the
// first-backup case. A partition missing from the baseline is reported as
// changed.
func Compare(candidate, baseline *partition.Set) Result {
	if baseline == nil {
		return Result{
			Status:  StatusBaselineMissing,
			Changed: candidate.IDs(),
		}
	}

	var (
		old     = baseline.Digests()
		changed []partition.ID
	)

	for _, img := range candidate.Images() {
		prev, ok := old[img.ID()]
		if !ok || prev != img.Digest() {
			changed = append(changed, img.ID())
		}
	}

	if len(changed) == 0 {
		return Result{Status: StatusUnchanged}
	}

	return Result{
		Status:  StatusChanged,
		Changed: changed,
	}
}

// HasChanges reports whether promotion of the candidate may proceed.
func (r Result) HasChanges() bool {
	return r.Status != StatusUnchanged
}

// Names returns the changed partition names, for logging.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Changed))
	for _, id := range r.Changed {
		names = append(names, id.String())
	}

	return names
}
