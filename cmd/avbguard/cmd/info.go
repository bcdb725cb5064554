package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/repository/imagefile"
	"github.com/oshokin/avb-guard/internal/service/info"
)

var (
	// statusSlot overrides slot detection for status.
	statusSlot string

	// infoCmd prints the AVB metadata of an image file.
	infoCmd = &cobra.Command{
		Use:   "info IMAGE",
		Short: "Print the AVB footer, header and descriptors of an image.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := imagefile.Read(args[0])
			if err != nil {
				return err
			}

			return info.DescribeImage(cmd.OutOrStdout(), data)
		},
	}

	// statusCmd prints the slot, the pinned key and the backup sets.
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the active slot, the pinned key and the stored backup sets.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := info.Run(cmd.Context(), &info.Options{ConfigPath: configPath, Slot: statusSlot})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()

			if status.Slots.Current == "" {
				_, _ = fmt.Fprintln(out, "slot:      undetected")
			} else {
				_, _ = fmt.Fprintf(out, "slot:      current %s, target %s\n", status.Slots.Current, status.Slots.Target)
			}

			_, _ = fmt.Fprintf(out, "trust key: %s (RSA-%d, signing: %t)\n", status.TrustKey, status.KeyBits, status.CanSign)

			for _, set := range status.Sets {
				_, _ = fmt.Fprintf(out, "%-10s %s  %s  valid=%t  root=%s\n",
					set.State, set.CreatedAt.Format("2006-01-02 15:04:05"), set.Dir, set.Valid, set.SetRoot)
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	statusCmd.Flags().StringVar(&statusSlot, "slot", "", "current slot, a or b (default: detect)")

	rootCmd.AddCommand(infoCmd, statusCmd)
}
