package slot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/oshokin/avb-guard/internal/domain/partition"
	"github.com/oshokin/avb-guard/internal/logger"
)

// DefaultCmdlinePath is the kernel command line exposed by procfs.
const DefaultCmdlinePath = "/proc/cmdline"

// cmdlineKey is the boot parameter carrying the slot suffix.
const cmdlineKey = "androidboot.slot_suffix="

// ErrUndetected is returned when no probe could determine the slot.
var ErrUndetected = errors.New("current slot could not be detected")

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	return out, nil
}

// Probe is one way of asking the environment for the current slot.
type Probe interface {
	Name() string
	// Detect returns the slot and true, or false when the probe has no answer.
	Detect(ctx context.Context) (partition.Slot, bool)
}

// Fixed returns a configured slot.
type Fixed struct {
	Value string
}

// Name implements Probe.
func (Fixed) Name() string { return "config" }

// Detect implements Probe.
func (f Fixed) Detect(ctx context.Context) (partition.Slot, bool) {
	if f.Value == "" {
		return "", false
	}

	return parse(ctx, f.Name(), f.Value)
}

// Property reads ro.boot.slot_suffix through getprop.
type Property struct {
	Run Runner
}

// Name implements Probe.
func (Property) Name() string { return "getprop" }

// Detect implements Probe.
func (p Property) Detect(ctx context.Context) (partition.Slot, bool) {
	out, err := p.Run(ctx, "getprop", "ro.boot.slot_suffix")
	if err != nil {
		logger.DebugKV(ctx, "Slot probe failed", "probe", p.Name(), "error", err)
		return "", false
	}

	return parse(ctx, p.Name(), string(out))
}

// Cmdline looks for androidboot.slot_suffix on the kernel command line.
type Cmdline struct {
	Path string
}

// Name implements Probe.
func (Cmdline) Name() string { return "cmdline" }

// Detect implements Probe.
func (c Cmdline) Detect(ctx context.Context) (partition.Slot, bool) {
	path := c.Path
	if path == "" {
		path = DefaultCmdlinePath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.DebugKV(ctx, "Slot probe failed", "probe", c.Name(), "error", err)
		return "", false
	}

	for _, field := range strings.Fields(string(data)) {
		if value, ok := strings.CutPrefix(field, cmdlineKey); ok {
			return parse(ctx, c.Name(), value)
		}
	}

	return "", false
}

// Bootctl asks the boot control HAL, which answers 0 or 1.
type Bootctl struct {
	Run Runner
}

// Name implements Probe.
func (Bootctl) Name() string { return "bootctl" }

// Detect implements Probe.
func (b Bootctl) Detect(ctx context.Context) (partition.Slot, bool) {
	out, err := b.Run(ctx, "bootctl", "get-current-slot")
	if err != nil {
		logger.DebugKV(ctx, "Slot probe failed", "probe", b.Name(), "error", err)
		return "", false
	}

	return parse(ctx, b.Name(), string(bytes.TrimSpace(out)))
}

// DefaultProbes returns the probe chain: configured value first, then the
// three environment queries.
func DefaultProbes(configured string, run Runner) []Probe {
	if run == nil {
		run = ExecRunner
	}

	return []Probe{
		Fixed{Value: configured},
		Property{Run: run},
		Cmdline{Path: DefaultCmdlinePath},
		Bootctl{Run: run},
	}
}

// Resolve tries probes in order and derives the slot state from the first answer.
func Resolve(ctx context.Context, probes ...Probe) (partition.SlotState, error) {
	for _, probe := range probes {
		current, ok := probe.Detect(ctx)
		if !ok {
			continue
		}

		state := partition.NewSlotState(current)

		logger.InfoKV(ctx, "Slot detected",
			"probe", probe.Name(),
			"current", string(state.Current),
			"target", string(state.Target))

		return state, nil
	}

	return partition.SlotState{}, ErrUndetected
}

func parse(ctx context.Context, probe, value string) (partition.Slot, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}

	s, err := partition.ParseSlot(value)
	if err != nil {
		logger.WarnKV(ctx, "Slot probe returned an unexpected value", "probe", probe, "value", value)
		return "", false
	}

	return s, true
}
