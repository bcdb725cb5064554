package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/service/backup"
)

// backupCmd dumps the device and promotes the dump when it changed and verifies.
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Dump all six boot-chain partitions and promote them if an OTA changed them.",
	Long: `Reads boot, init_boot and vbmeta of both slots into a staging set, compares it
with the canonical baseline by content digest, verifies the whole chain against
the pinned key and only then replaces the baseline. The previous baseline is
kept as a timestamped archive.

An unchanged device exits with code 2 and writes nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		result, err := backup.Run(cmd.Context(), &backup.Options{ConfigPath: configPath})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "changed: %v\n", result.Changes.Names())

		if result.Archive != "" {
			_, _ = fmt.Fprintf(out, "previous baseline archived to %s\n", result.Archive)
		}

		return nil
	},
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(backupCmd)
}
