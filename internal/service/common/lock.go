//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/logger"
)

// LockFilename marks that a tool instance owns the work directory.
const LockFilename = "avbguard.lock"

// ErrAlreadyRunning is returned when another live instance holds the lock.
var ErrAlreadyRunning = errors.New("another avbguard instance is running")

// Lock is a pid-file lock on a work directory.
type Lock struct {
	path string
}

// AcquireLock creates the lock file in dir. A lock left behind by a process
// that no longer runs is taken over.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	path := filepath.Join(dir, LockFilename)

	for range 2 {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, config.DefaultFilePermissions)
		if err == nil {
			_, err = f.WriteString(strconv.Itoa(os.Getpid()))
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}

			if err != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock: %w", err)
			}

			return &Lock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock: %w", err)
		}

		if holderAlive(path) {
			return nil, ErrAlreadyRunning
		}

		logger.Info(ctx, "Removing stale lock")

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, ErrAlreadyRunning
}

// Release removes the lock file.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("release lock: %w", err)
	}

	return nil
}

// holderAlive reports whether the pid recorded in the lock belongs to a
// running process with our executable name.
func holderAlive(path string) bool {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return false
	}

	self, err := ps.FindProcess(os.Getpid())
	if err != nil || self == nil {
		return true
	}

	return process.Executable() == self.Executable()
}
