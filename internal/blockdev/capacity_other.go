//go:build !linux

package blockdev

import (
	"fmt"
	"io"
	"os"
)

// deviceCapacity seeks to the end; most platforms report device size this way.
func deviceCapacity(f *os.File) (uint64, error) {
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek %s: %w", f.Name(), err)
	}

	if _, err = f.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek %s: %w", f.Name(), err)
	}

	return uint64(end), nil //nolint:gosec // Offsets are never negative.
}

func flush(f *os.File) error {
	return f.Sync()
}
