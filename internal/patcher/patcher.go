package patcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oshokin/avb-guard/internal/config"
	"github.com/oshokin/avb-guard/internal/logger"
)

// Command placeholders substituted in external patcher arguments.
const (
	placeholderInput     = "{input}"
	placeholderOutput    = "{output}"
	placeholderPartition = "{partition}"
)

var (
	// ErrNoOutput is returned when an external patcher produced no image.
	ErrNoOutput = errors.New("patcher produced no output image")
	// errUnknownType is returned for unsupported patcher types.
	errUnknownType = errors.New("unknown patcher type")
)

// Patcher turns one payload image into another.
type Patcher interface {
	Name() string
	Patch(ctx context.Context, partition string, payload []byte) ([]byte, error)
}

// New returns the patcher selected by configuration. External patchers
// exchange files under tempDir.
//
//nolint:ireturn // The variant is chosen at runtime.
func New(cfg config.Patcher, tempDir string) (Patcher, error) {
	switch cfg.Type {
	case "", config.PatcherIdentity:
		return Identity{}, nil
	case config.PatcherExternal:
		return &External{
			Command: cfg.Command,
			Timeout: cfg.Timeout,
			TempDir: tempDir,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownType, cfg.Type)
	}
}

// Identity returns the payload unchanged. Stock GKI images need nothing else.
type Identity struct{}

// Name implements Patcher.
func (Identity) Name() string { return config.PatcherIdentity }

// Patch implements Patcher.
func (Identity) Patch(_ context.Context, _ string, payload []byte) ([]byte, error) {
	return bytes.Clone(payload), nil
}

// External runs a command that reads {input} and writes {output}.
type External struct {
	Command []string
	Timeout time.Duration
	// TempDir hosts the exchange files. Empty means the system default.
	TempDir string
}

// Name implements Patcher.
func (*External) Name() string { return config.PatcherExternal }

// Patch implements Patcher.
func (e *External) Patch(ctx context.Context, partition string, payload []byte) ([]byte, error) {
	if e.TempDir != "" {
		if err := os.MkdirAll(e.TempDir, config.DefaultDirPermissions); err != nil {
			return nil, fmt.Errorf("create patch directory: %w", err)
		}
	}

	dir, err := os.MkdirTemp(e.TempDir, "avbguard-patch-")
	if err != nil {
		return nil, fmt.Errorf("create patch directory: %w", err)
	}

	defer func() {
		_ = os.RemoveAll(dir)
	}()

	var (
		input  = filepath.Join(dir, partition+".img")
		output = filepath.Join(dir, partition+".patched.img")
	)

	if err = os.WriteFile(input, payload, config.DefaultFilePermissions); err != nil {
		return nil, fmt.Errorf("write patch input: %w", err)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = config.DefaultPatcherTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	replacer := strings.NewReplacer(
		placeholderInput, input,
		placeholderOutput, output,
		placeholderPartition, partition,
	)

	args := make([]string, len(e.Command))
	for i, arg := range e.Command {
		args[i] = replacer.Replace(arg)
	}

	logger.InfoKV(ctx, "Running patcher", "command", args[0], "partition", partition)

	//nolint:gosec // The command comes from the operator's own settings file.
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logger.DebugKV(ctx, "Patcher output", "output", string(out))
	}

	if err != nil {
		return nil, fmt.Errorf("run patcher: %w", err)
	}

	patched, err := os.ReadFile(output)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(patched) == 0) {
		return nil, ErrNoOutput
	}

	if err != nil {
		return nil, fmt.Errorf("read patch output: %w", err)
	}

	return patched, nil
}
