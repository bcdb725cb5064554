package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/service/flash"
)

// flashOptions collects the flash flags.
//
//nolint:gochecknoglobals // Cobra binds flags to package state.
var flashOptions flash.Options

// flashCmd writes the rebuilt slot to the device.
var flashCmd = &cobra.Command{
	Use:   "flash",
	Short: "Write the re-signed images of the target slot to the block devices.",
	Long: `Verifies the images in patched_signed against the pinned key, checks every
image against the queried capacity of its partition and asks for confirmation
before the first write. Partitions are written one at a time; a failure stops
the batch and nothing is rolled back. Recover from the archived baseline.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := flashOptions
		opts.ConfigPath = configPath

		report, err := flash.Run(cmd.Context(), &opts)
		if report != nil {
			out := cmd.OutOrStdout()

			for _, res := range report.Results {
				switch {
				case res.Written:
					_, _ = fmt.Fprintf(out, "%-12s written (%d bytes)\n", res.ID, res.Length)
				case res.Err != nil:
					_, _ = fmt.Fprintf(out, "%-12s %v\n", res.ID, res.Err)
				default:
					_, _ = fmt.Fprintf(out, "%-12s fits (%d of %d bytes)\n", res.ID, res.Length, res.Capacity)
				}
			}
		}

		return err
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flashCmd.Flags().StringVar(&flashOptions.Slot, "slot", "", "target slot, a or b (default: the inactive slot)")
	flashCmd.Flags().StringVar(&flashOptions.Dir, "dir", "", "image directory (default: patched_signed)")
	flashCmd.Flags().BoolVarP(&flashOptions.Yes, "yes", "y", false, "do not ask for confirmation")
	flashCmd.Flags().BoolVar(&flashOptions.Reboot, "reboot", false, "reboot after a successful flash")

	rootCmd.AddCommand(flashCmd)
}
