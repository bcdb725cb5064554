package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by every avbguard command.
type Config struct {
	// TrustKey is the path of the pinned key: a PEM private key for signing,
	// or a public key / AVB key blob for verification only.
	TrustKey string `yaml:"trust_key"`
	// WorkDir holds the backup, staging, archive and patch directories.
	WorkDir string `yaml:"work_dir"`
	// DeviceDir is where per-slot partition block devices live.
	DeviceDir string `yaml:"device_dir"`
	// Slot forces the current slot instead of probing the running system.
	Slot string `yaml:"slot,omitempty"`
	// RebuildMode is one of auto, top-level or chained.
	RebuildMode string `yaml:"rebuild_mode"`
	// RegenerateSalt replaces hash descriptor salts on rebuild.
	RegenerateSalt bool `yaml:"regenerate_salt"`
	// PatchPartition is the leaf handed to the patcher, boot or init_boot.
	PatchPartition string `yaml:"patch_partition"`
	// Patcher selects how payloads are transformed before re-signing.
	Patcher Patcher `yaml:"patcher"`
	// LogLevel is the zap level name.
	LogLevel string `yaml:"log_level"`
	// Progress enables progress bars for device reads and writes.
	Progress bool `yaml:"progress"`
}

// Patcher configures the external root-patching tool.
type Patcher struct {
	// Type is identity or external.
	Type string `yaml:"type"`
	// Command is the argv of the external tool. {input}, {output} and
	// {partition} are substituted.
	Command []string `yaml:"command,omitempty"`
	// Timeout bounds a single patcher run.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

const (
	// DefaultConfigFilename is the default settings file.
	DefaultConfigFilename = "avbguard.yaml"

	// DefaultDeviceDir is the by-name block device directory on most devices.
	DefaultDeviceDir = "/dev/block/by-name"

	// DefaultPatcherTimeout bounds an external patcher run.
	DefaultPatcherTimeout = 5 * time.Minute

	// DefaultFilePermissions is the permission of files written by the tool.
	DefaultFilePermissions = 0o600

	// DefaultDirPermissions is the permission of directories created by the tool.
	DefaultDirPermissions = 0o700

	// PatcherIdentity leaves payloads untouched (stock GKI).
	PatcherIdentity = "identity"
	// PatcherExternal runs Patcher.Command.
	PatcherExternal = "external"
)

// Directory names inside WorkDir.
const (
	BackupsDirName       = "backups"
	StagingDirName       = "new_backups"
	PatchedDirName       = "patched"
	PatchedSignedDirName = "patched_signed"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errTrustKeyRequired is returned when no trust key path is configured.
	errTrustKeyRequired = errors.New("trust_key must be provided")
	// errWorkDirRequired is returned when no work directory is configured.
	errWorkDirRequired = errors.New("work_dir must be provided")
	// errUnknownPatcher is returned for patcher types other than identity/external.
	errUnknownPatcher = errors.New("unknown patcher type")
	// errPatcherCommand is returned when an external patcher has no usable command.
	errPatcherCommand = errors.New("external patcher needs a command with {input} and {output}")
	// errPatchPartition is returned for a patch target other than boot/init_boot.
	errPatchPartition = errors.New("patch_partition must be boot or init_boot")
	// errRebuildMode is returned for an unknown rebuild mode.
	errRebuildMode = errors.New("rebuild_mode must be auto, top-level or chained")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	// Relative paths are anchored at the settings file.
	base := filepath.Dir(path)
	cfg.TrustKey = anchor(base, cfg.TrustKey)
	cfg.WorkDir = anchor(base, cfg.WorkDir)

	return &cfg, nil
}

// Save writes the settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults.
func Validate(settings *Config) error {
	if settings == nil {
		return errConfigIsNotSet
	}

	if settings.TrustKey == "" {
		return errTrustKeyRequired
	}

	if settings.WorkDir == "" {
		return errWorkDirRequired
	}

	if settings.DeviceDir == "" {
		settings.DeviceDir = DefaultDeviceDir
	}

	switch strings.ToLower(settings.RebuildMode) {
	case "":
		settings.RebuildMode = "auto"
	case "auto", "top-level", "chained":
	default:
		return fmt.Errorf("%w: %q", errRebuildMode, settings.RebuildMode)
	}

	switch settings.PatchPartition {
	case "":
		settings.PatchPartition = "init_boot"
	case "boot", "init_boot":
	default:
		return fmt.Errorf("%w: %q", errPatchPartition, settings.PatchPartition)
	}

	return validatePatcher(&settings.Patcher)
}

func validatePatcher(p *Patcher) error {
	switch p.Type {
	case "", PatcherIdentity:
		p.Type = PatcherIdentity
		return nil
	case PatcherExternal:
	default:
		return fmt.Errorf("%w: %q", errUnknownPatcher, p.Type)
	}

	joined := strings.Join(p.Command, " ")
	if len(p.Command) == 0 || !strings.Contains(joined, "{input}") || !strings.Contains(joined, "{output}") {
		return errPatcherCommand
	}

	if p.Timeout <= 0 {
		p.Timeout = DefaultPatcherTimeout
	}

	return nil
}

// BackupsDir is the canonical baseline directory.
func (c *Config) BackupsDir() string {
	return filepath.Join(c.WorkDir, BackupsDirName)
}

// StagingDir is where a new dump is captured before promotion.
func (c *Config) StagingDir() string {
	return filepath.Join(c.WorkDir, StagingDirName)
}

// PatchedDir receives patcher output.
func (c *Config) PatchedDir() string {
	return filepath.Join(c.WorkDir, PatchedDirName)
}

// PatchedSignedDir receives rebuilt and re-signed images ready to flash.
func (c *Config) PatchedSignedDir() string {
	return filepath.Join(c.WorkDir, PatchedSignedDirName)
}

func anchor(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}

	return filepath.Join(base, path)
}
