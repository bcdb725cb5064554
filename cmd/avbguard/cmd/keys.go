package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/avb-guard/internal/service/keys"
)

var (
	// keyBits is the modulus size for keygen.
	keyBits int

	// keygenCmd creates the trust key.
	keygenCmd = &cobra.Command{
		Use:   "keygen PATH",
		Short: "Generate a new RSA trust key. An existing file is never replaced.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := keys.Generate(cmd.Context(), args[0], keyBits)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", root.Fingerprint())

			return nil
		},
	}

	// pubkeyCmd exports the pinned key in AVB format.
	pubkeyCmd = &cobra.Command{
		Use:   "pubkey OUTPUT",
		Short: "Write the pinned public key as an AVB key blob (avb_custom_key).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := keys.ExportPublicKey(cmd.Context(), &keys.ExportOptions{ConfigPath: configPath, Output: args[0]})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\n", root.Fingerprint())

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	keygenCmd.Flags().IntVar(&keyBits, "bits", keys.DefaultBits, "RSA key size: 2048, 4096 or 8192")

	rootCmd.AddCommand(keygenCmd, pubkeyCmd)
}
