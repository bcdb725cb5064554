package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/service/rebuild"
)

// rebuildOptions collects the rebuild flags.
//
//nolint:gochecknoglobals // Cobra binds flags to package state.
var rebuildOptions rebuild.Options

// rebuildCmd patches and re-signs the target slot.
var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Patch the target slot and re-sign it with the pinned key.",
	Long: `Takes the target slot from the canonical baseline (or --input), runs the
configured patcher on patch_partition, strips the old AVB metadata and signs
everything again with the pinned key. Salts, properties and rollback indexes
are kept unless --regenerate-salt is given.

Modes:
  auto       top-level when a vbmeta image is present, otherwise chained
  top-level  re-sign vbmeta with fresh hash descriptors
  chained    re-sign only leaves that carry their own signature

init_boot without vbmeta is refused in every mode.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := rebuildOptions
		opts.ConfigPath = configPath

		result, err := rebuild.Run(cmd.Context(), &opts)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "slot %s rebuilt in %s mode\n", result.Slot, result.Mode)

		for _, id := range result.Images {
			_, _ = fmt.Fprintf(out, "  %s\n", id.Filename())
		}

		_, _ = fmt.Fprintf(out, "written to %s\n", result.Dir)

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rebuildCmd.Flags().StringVar(&rebuildOptions.Slot, "slot", "", "target slot, a or b (default: the inactive slot)")
	rebuildCmd.Flags().StringVar(&rebuildOptions.InputDir, "input", "", "read images from this directory instead of the baseline")
	rebuildCmd.Flags().StringVar(&rebuildOptions.Mode, "mode", "", "auto, top-level or chained (default: rebuild_mode)")
	rebuildCmd.Flags().BoolVar(&rebuildOptions.RegenerateSalt, "regenerate-salt", false, "use fresh random salts")

	rootCmd.AddCommand(rebuildCmd)
}
