package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/domain/backupset"
	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
)

const (
	// archivePrefix starts the directory name of every archived set.
	archivePrefix = config.BackupsDirName + "_"
	// archiveTimeLayout is the timestamp suffix of archived sets.
	archiveTimeLayout = "20060102_150405"
)

var (
	// ErrPromotion is returned when the staging set could not replace the canonical one.
	ErrPromotion = errors.New("promotion failed")
	// ErrRestore is returned when a failed promotion could not put the previous baseline back.
	ErrRestore = errors.New("previous baseline could not be restored")
)

// Store manages the set directories inside a work directory.
type Store struct {
	workDir string
	now     func() time.Time
	rename  func(oldPath, newPath string) error
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the clock used to name archives.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithRename overrides the directory rename primitive. Tests use it to
// simulate a failure in the middle of a promotion.
func WithRename(rename func(oldPath, newPath string) error) Option {
	return func(s *Store) {
		s.rename = rename
	}
}

// NewStore creates a store rooted at workDir.
func NewStore(workDir string, options ...Option) *Store {
	s := &Store{
		workDir: filepath.Clean(workDir),
		now:     time.Now,
		rename:  os.Rename,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// CanonicalDir is the directory of the trusted baseline.
func (s *Store) CanonicalDir() string {
	return filepath.Join(s.workDir, config.BackupsDirName)
}

// StagingDir is the directory of the set being captured.
func (s *Store) StagingDir() string {
	return filepath.Join(s.workDir, config.StagingDirName)
}

// Canonical loads the baseline, or returns outcome.ErrBaselineMissing.
func (s *Store) Canonical(ctx context.Context) (*backupset.BackupSet, error) {
	if _, err := os.Stat(s.CanonicalDir()); errors.Is(err, os.ErrNotExist) {
		return nil, outcome.ErrBaselineMissing
	}

	set, err := s.Load(ctx, s.CanonicalDir())
	if err != nil {
		return nil, fmt.Errorf("canonical baseline: %w", err)
	}

	return set, nil
}

// Stage writes the images of an empty set into a fresh staging directory
// and moves it to STAGED. Leftovers of an interrupted run are removed first.
func (s *Store) Stage(ctx context.Context, set *backupset.BackupSet) error {
	if !backupset.CanTransition(set.State, backupset.StateStaged) {
		return fmt.Errorf("stage %s set: %w", set.State, backupset.ErrInvalidTransition)
	}

	dir := s.StagingDir()

	if _, err := os.Stat(dir); err == nil {
		logger.WarnKV(ctx, "Removing leftover staging directory", "path", dir)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear staging: %w", err)
	}

	images := make(map[partition.ID][]byte, set.Images.Len())
	for _, img := range set.Images.Images() {
		images[img.ID()] = img.Bytes()
	}

	staged := set.Clone()
	staged.State = backupset.StateStaged

	if err := imagefile.WriteSet(dir, images); err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("stage images: %w", err)
	}

	if err := writeManifest(dir, newManifest(staged)); err != nil {
		_ = os.RemoveAll(dir)
		return err
	}

	logger.InfoKV(ctx, "Backup set staged", "path", dir, "partitions", set.Images.Len())

	return set.Transition(backupset.StateStaged)
}

// MarkVerified records that change detection and verification passed.
func (s *Store) MarkVerified(_ context.Context, set *backupset.BackupSet) error {
	if err := set.Transition(backupset.StateVerified); err != nil {
		return err
	}

	set.Valid = true

	return writeManifest(s.StagingDir(), newManifest(set))
}

// Discard removes the staging directory and returns the set to EMPTY.
// The canonical baseline is never touched.
func (s *Store) Discard(ctx context.Context, set *backupset.BackupSet) error {
	if err := os.RemoveAll(s.StagingDir()); err != nil {
		return fmt.Errorf("discard staging: %w", err)
	}

	logger.InfoKV(ctx, "Staging discarded", "path", s.StagingDir())

	if set == nil || set.State == backupset.StateEmpty {
		return nil
	}

	return set.Transition(backupset.StateEmpty)
}

// Promote makes a verified staging set canonical. The current baseline,
// if any, is renamed to a timestamped archive first. If the staging set
// cannot take its place, the archive is renamed back and the staging set is
// discarded, so the directory layout is either fully old or fully new.
// It returns the archive directory, or "" on the first backup.
func (s *Store) Promote(ctx context.Context, set *backupset.BackupSet) (string, error) {
	if set.State != backupset.StateVerified {
		return "", fmt.Errorf("promote %s set: %w", set.State, backupset.ErrInvalidTransition)
	}

	var (
		canonical = s.CanonicalDir()
		staging   = s.StagingDir()
		archive   string
	)

	promoted := set.Clone()
	promoted.State = backupset.StateCanonical

	if err := writeManifest(staging, newManifest(promoted)); err != nil {
		return "", s.abort(ctx, set, err)
	}

	if _, err := os.Stat(canonical); err == nil {
		archive = s.archivePath()

		if err = s.rename(canonical, archive); err != nil {
			return "", s.abort(ctx, set, fmt.Errorf("archive baseline: %w", err))
		}
	}

	if err := s.rename(staging, canonical); err != nil {
		if archive != "" {
			if rerr := s.rename(archive, canonical); rerr != nil {
				logger.ErrorKV(ctx, "Previous baseline left in archive", "archive", archive, "error", rerr)

				return "", errors.Join(s.abort(ctx, set, err), fmt.Errorf("%w: %s: %w", ErrRestore, archive, rerr))
			}
		}

		return "", s.abort(ctx, set, err)
	}

	if err := set.Transition(backupset.StateCanonical); err != nil {
		return "", err
	}

	if archive != "" {
		s.markArchived(ctx, archive)
	}

	logger.InfoKV(ctx, "Backup set promoted", "path", canonical, "archive", archive)

	return archive, nil
}

// abort discards the staging set after a failed promotion.
func (s *Store) abort(ctx context.Context, set *backupset.BackupSet, cause error) error {
	if err := s.Discard(ctx, set); err != nil {
		logger.WarnKV(ctx, "Unable to discard staging", "error", err)
	}

	return fmt.Errorf("%w: %w", ErrPromotion, cause)
}

// markArchived rewrites the state in an archived manifest. A failure only
// affects the label, never the images.
func (s *Store) markArchived(ctx context.Context, dir string) {
	m, err := readManifest(dir)
	if err == nil {
		m.State = backupset.StateArchived
		err = writeManifest(dir, m)
	}

	if err != nil {
		logger.WarnKV(ctx, "Unable to label archived set", "archive", dir, "error", err)
	}
}

// archivePath returns a fresh archive directory name.
func (s *Store) archivePath() string {
	base := filepath.Join(s.workDir, archivePrefix+s.now().UTC().Format(archiveTimeLayout))
	path := base

	for i := 1; ; i++ {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return path
		}

		path = fmt.Sprintf("%s_%d", base, i)
	}
}

// Load reads a set directory and checks every image against the manifest.
// A digest or Merkle root that does not match is outcome.ErrDigestMismatch.
func (s *Store) Load(_ context.Context, dir string) (*backupset.BackupSet, error) {
	m, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	files, err := imagefile.ReadSet(dir)
	if err != nil {
		return nil, err
	}

	images := make([]*partition.Image, 0, len(m.Partitions))

	for _, record := range m.Partitions {
		id, err := partition.ParseID(record.Name)
		if err != nil {
			return nil, fmt.Errorf("manifest: %w", err)
		}

		data, ok := files[id]
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, os.ErrNotExist)
		}

		img, err := partition.NewImage(id, data, record.Length)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", outcome.ErrDigestMismatch, err)
		}

		want, err := record.digest()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		if img.Digest() != want {
			return nil, fmt.Errorf("%w: %s on disk is %s, manifest says %s",
				outcome.ErrDigestMismatch, id, img.Digest(), want)
		}

		images = append(images, img)
	}

	set, err := partition.NewSet(images...)
	if err != nil {
		return nil, err
	}

	if root := setRoot(set.Digests()); root != m.SetRoot {
		return nil, fmt.Errorf("%w: set root %s, manifest says %s", outcome.ErrDigestMismatch, root, m.SetRoot)
	}

	return &backupset.BackupSet{
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		CreatedBy: m.actor(),
		State:     m.State,
		Valid:     m.Valid,
		Images:    set,
	}, nil
}

// Summary describes a set directory without loading its images.
type Summary struct {
	Dir       string
	Name      string
	State     backupset.State
	CreatedAt time.Time
	Valid     bool
	SetRoot   string
}

// List returns the canonical, staging and archived sets, newest archive first.
// Directories without a readable manifest are skipped.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	archives, err := s.Archives()
	if err != nil {
		return nil, err
	}

	dirs := append([]string{s.CanonicalDir(), s.StagingDir()}, archives...)
	summaries := make([]Summary, 0, len(dirs))

	for _, dir := range dirs {
		m, err := readManifest(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			logger.WarnKV(ctx, "Skipping unreadable set", "path", dir, "error", err)
			continue
		}

		summaries = append(summaries, Summary{
			Dir:       dir,
			Name:      m.Name,
			State:     m.State,
			CreatedAt: m.CreatedAt,
			Valid:     m.Valid,
			SetRoot:   m.SetRoot,
		})
	}

	return summaries, nil
}

// Archives returns archived set directories, newest first.
func (s *Store) Archives() ([]string, error) {
	entries, err := os.ReadDir(s.workDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read work directory: %w", err)
	}

	var archives []string

	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), archivePrefix) {
			archives = append(archives, filepath.Join(s.workDir, entry.Name()))
		}
	}

	slices.Sort(archives)
	slices.Reverse(archives)

	return archives, nil
}
