package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/integrity"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/repository/imagefile"
	"github.com/oshokin/avb-guard/internal/service/common"
)

// Source selects what is verified.
type Source string

const (
	// SourceBaseline verifies the canonical backup, including manifest digests.
	SourceBaseline Source = "baseline"
	// SourceDevice verifies a fresh dump of the block devices.
	SourceDevice Source = "device"
	// SourceDir verifies loose <partition>_<slot>.img files in Options.Dir.
	SourceDir Source = "dir"
)

var (
	// errUnknownSource is returned for an unsupported Options.Source.
	errUnknownSource = errors.New("unknown verify source")
	// errNoDir is returned when SourceDir is selected without a directory.
	errNoDir = errors.New("no image directory given")
)

// Options are inputs accepted by the verify entry point.
type Options struct {
	// ConfigPath is the optional path to settings YAML file.
	ConfigPath string
	// Source defaults to SourceBaseline.
	Source Source
	// Dir is read when Source is SourceDir.
	Dir string
}

// Run verifies the selected set. The report is returned even on failure.
func Run(ctx context.Context, opts *Options) (*integrity.Report, error) {
	ctx = logger.WithName(ctx, "verify")

	env, err := common.LoadEnv(ctx, opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	var set *partition.Set

	switch opts.Source {
	case SourceBaseline, "":
		baseline, err := env.Store.Canonical(ctx)
		if err != nil {
			return nil, err
		}

		set = baseline.Images
	case SourceDevice:
		set, err = common.Dump(ctx, env.Device)
	case SourceDir:
		set, err = load(ctx, opts.Dir)
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownSource, opts.Source)
	}

	if err != nil {
		return nil, err
	}

	report, err := integrity.VerifySet(ctx, set, env.Root)
	if err != nil {
		return report, err
	}

	logger.InfoKV(ctx, "Set verified", "source", string(opts.Source), "partitions", len(report.Entries))

	return report, nil
}

func load(ctx context.Context, dir string) (*partition.Set, error) {
	if dir == "" {
		return nil, errNoDir
	}

	raw, err := imagefile.ReadSet(dir)
	if err != nil {
		return nil, err
	}

	return common.NewImageSet(ctx, raw)
}
