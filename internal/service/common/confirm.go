//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// AssumeYes confirms everything. Used with --yes.
type AssumeYes struct{}

// Confirm implements flasher.Confirmer.
func (AssumeYes) Confirm(context.Context, string) (bool, error) { return true, nil }

// Prompt asks on Out and reads a y/N answer from In.
type Prompt struct {
	In  io.Reader
	Out io.Writer
}

// Confirm implements flasher.Confirmer. Anything but y or yes declines,
// including end of input.
func (p Prompt) Confirm(ctx context.Context, question string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if _, err := fmt.Fprintf(p.Out, "%s [y/N]: ", question); err != nil {
		return false, fmt.Errorf("write prompt: %w", err)
	}

	line, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("read answer: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
