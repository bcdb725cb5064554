package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/integrity"
	"github.com/oshokin/avb-guard/internal/service/verify"
)

var (
	// verifyDevice checks the block devices instead of the baseline.
	verifyDevice bool
	// verifyDir checks loose image files instead of the baseline.
	verifyDir string

	// verifyCmd checks a six-partition set against the pinned key.
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify the baseline, the device or an image directory against the pinned key.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := &verify.Options{ConfigPath: configPath, Source: verify.SourceBaseline}

			switch {
			case verifyDevice:
				opts.Source = verify.SourceDevice
			case verifyDir != "":
				opts.Source = verify.SourceDir
				opts.Dir = verifyDir
			}

			report, err := verify.Run(cmd.Context(), opts)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}

			return err
		},
	}
)

func printReport(w io.Writer, report *integrity.Report) {
	for _, e := range report.Entries {
		if e.OK() {
			_, _ = fmt.Fprintf(w, "%-12s ok\n", e.ID)
		} else {
			_, _ = fmt.Fprintf(w, "%-12s FAILED: %v\n", e.ID, e.Err)
		}
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	verifyCmd.Flags().BoolVar(&verifyDevice, "device", false, "verify the block devices")
	verifyCmd.Flags().StringVar(&verifyDir, "dir", "", "verify <partition>_<slot>.img files in a directory")
	verifyCmd.MarkFlagsMutuallyExclusive("device", "dir")

	rootCmd.AddCommand(verifyCmd)
}
