//go:build linux

package blockdev

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

func deviceCapacity(f *os.File) (uint64, error) {
	var size uint64

	//nolint:gosec // BLKGETSIZE64 writes a single uint64.
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("BLKGETSIZE64 %s: %w", f.Name(), errno)
	}

	return size, nil
}

// flush flushes written data without forcing a metadata update.
func flush(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
