package backup

import (
	"context"
	"errors"
	"time"

	"github.com/oshokin/avb-guard/internal/avb"
	"github.com/oshokin/avb-guard/internal/changes"
	"github.com/oshokin/avb-guard/internal/domain/backupset"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/integrity"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
	repo "github.com/oshokin/avb-guard/internal/repository/backup"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// Result describes a backup run.
type Result struct {
	// Set is the captured set in its final state.
	Set *backupset.BackupSet
	// Changes is the diff against the previous baseline.
	Changes changes.Result
	// Report is nil when verification was never reached.
	Report *integrity.Report
	// Archive is the directory of the previous baseline, empty on the first backup.
	Archive string
}

// service drives a backup set through EMPTY → STAGED → VERIFIED → CANONICAL.
type service struct {
	device common.Reader
	store  *repo.Store
	root   *avb.TrustRoot
	actor  *backupset.Actor
	now    func() time.Time
}

func newService(device common.Reader, store *repo.Store, root *avb.TrustRoot, actor *backupset.Actor) *service {
	return &service{
		device: device,
		store:  store,
		root:   root,
		actor:  actor,
		now:    time.Now,
	}
}

// backup runs the whole lifecycle. Unchanged content is outcome.ErrNoChange
// and any verification failure is returned as is; in both cases the staging
// set is discarded and the baseline is left untouched.
func (s *service) backup(ctx context.Context) (*Result, error) {
	images, err := common.Dump(ctx, s.device)
	if err != nil {
		return nil, err
	}

	now := s.now()

	set := &backupset.BackupSet{
		Name:      now.UTC().Format(time.RFC3339),
		CreatedAt: now,
		CreatedBy: s.actor.Clone(),
		State:     backupset.StateEmpty,
		Images:    images,
	}

	result := &Result{Set: set}

	var baselineImages *partition.Set

	baseline, err := s.store.Canonical(ctx)

	switch {
	case err == nil:
		baselineImages = baseline.Images
	case errors.Is(err, outcome.ErrBaselineMissing):
		logger.Info(ctx, "No baseline yet, this is the first backup")
	default:
		return nil, err
	}

	if err = s.store.Stage(ctx, set); err != nil {
		return nil, err
	}

	result.Changes = changes.Compare(images, baselineImages)

	if !result.Changes.HasChanges() {
		logger.Info(ctx, "No OTA detected, every partition matches the baseline")

		return result, s.discard(ctx, set, outcome.ErrNoChange)
	}

	logger.InfoKV(ctx, "Changes detected", "status", string(result.Changes.Status), "partitions", result.Changes.Names())

	result.Report, err = integrity.VerifySet(ctx, images, s.root)
	if err != nil {
		logger.ErrorKV(ctx, "Candidate set failed verification, nothing promoted", "error", err)

		return result, s.discard(ctx, set, err)
	}

	if err = s.store.MarkVerified(ctx, set); err != nil {
		return result, s.discard(ctx, set, err)
	}

	result.Archive, err = s.store.Promote(ctx, set)
	if err != nil {
		return result, err
	}

	return result, nil
}

// discard drops staging and returns cause, joined with a discard failure if any.
func (s *service) discard(ctx context.Context, set *backupset.BackupSet, cause error) error {
	if err := s.store.Discard(ctx, set); err != nil {
		return errors.Join(cause, err)
	}

	return cause
}
