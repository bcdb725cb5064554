package blockdev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cheggaaa/pb/v3"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
	"github.com/oshokin/avb-guard/internal/outcome"
)

// BlockSize is the unit of every device read and write.
const BlockSize = 1 << 20

// progressTemplate renders a single line per partition.
const progressTemplate pb.ProgressBarTemplate = `{{string . "name"}} {{counters . }} {{bar . }} {{percent . }} {{speed . }}`

// errNotDevice is returned for paths that are neither block devices nor regular files.
var errNotDevice = errors.New("not a block device or regular file")

// Layout maps partition IDs onto device paths.
type Layout struct {
	// Dir is the by-name directory, e.g. /dev/block/by-name.
	Dir string
	// Progress enables progress bars on stderr.
	Progress bool
}

// Path returns the device path of the partition.
func (l Layout) Path(id partition.ID) string {
	return filepath.Join(l.Dir, id.String())
}

// Capacity returns the size of the partition in bytes.
func (l Layout) Capacity(id partition.ID) (uint64, error) {
	return Capacity(l.Path(id))
}

// Read dumps the whole partition.
func (l Layout) Read(ctx context.Context, id partition.ID) ([]byte, error) {
	return read(ctx, l.Path(id), id.String(), l.Progress)
}

// Write stores data at the start of the partition.
func (l Layout) Write(ctx context.Context, id partition.ID, data []byte) error {
	return write(ctx, l.Path(id), id.String(), data, l.Progress)
}

// Capacity returns the size of a block device or regular file.
func Capacity(path string) (uint64, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	return capacity(f)
}

func capacity(f *os.File) (uint64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", f.Name(), err)
	}

	switch mode := info.Mode(); {
	case mode.IsRegular():
		return uint64(info.Size()), nil //nolint:gosec // File sizes are never negative.
	case mode&os.ModeDevice != 0:
		return deviceCapacity(f)
	default:
		return 0, fmt.Errorf("%s: %w", f.Name(), errNotDevice)
	}
}

func read(ctx context.Context, path, name string, progress bool) ([]byte, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	size, err := capacity(f)
	if err != nil {
		return nil, err
	}

	bar := newBar(name, size, progress)
	defer bar.Finish()

	data := make([]byte, size)

	for off := uint64(0); off < size; {
		if err = ctx.Err(); err != nil {
			return nil, err
		}

		end := min(off+BlockSize, size)

		var n int

		n, err = io.ReadFull(f, data[off:end])
		if err != nil {
			return nil, fmt.Errorf("read %s at %d: %w", path, off, err)
		}

		off += uint64(n) //nolint:gosec // n is bounded by BlockSize.
		bar.Add(n)
	}

	logger.DebugKV(ctx, "Partition read", "partition", name, "bytes", size)

	return data, nil
}

// write never truncates: the bytes past len(data) keep their old content.
// Cancellation is honoured only before the first block.
func write(ctx context.Context, path, name string, data []byte, progress bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", outcome.ErrWriteFailure, path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	size, err := capacity(f)
	if err != nil {
		return fmt.Errorf("%w: %w", outcome.ErrWriteFailure, err)
	}

	if uint64(len(data)) > size {
		return fmt.Errorf("%w: %s needs %d bytes, has %d", outcome.ErrCapacityOverflow, name, len(data), size)
	}

	bar := newBar(name, uint64(len(data)), progress)
	defer bar.Finish()

	for off := 0; off < len(data); off += BlockSize {
		end := min(off+BlockSize, len(data))

		if _, err = f.Write(data[off:end]); err != nil {
			return fmt.Errorf("%w: write %s at %d: %w", outcome.ErrWriteFailure, path, off, err)
		}

		bar.Add(end - off)
	}

	if err = flush(f); err != nil {
		return fmt.Errorf("%w: sync %s: %w", outcome.ErrWriteFailure, path, err)
	}

	logger.DebugKV(ctx, "Partition written", "partition", name, "bytes", len(data))

	return nil
}

func newBar(name string, total uint64, enabled bool) *pb.ProgressBar {
	bar := pb.New64(int64(total)).SetTemplate(progressTemplate) //nolint:gosec // Partition sizes fit in int64.
	bar.Set("name", name)
	bar.Set(pb.Bytes, true)
	bar.SetWriter(os.Stderr)

	if enabled {
		bar.Start()
	}

	return bar
}
