package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		sign    bool
		signKey string
	)

	cmd := &cobra.Command{
		Use:   "report [out]",
		Short: "Print the statistics report of the last session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "out"
			if len(args) == 1 {
				root = args[0]
			}
			p := filepath.Join(root, reportName)
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("report: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}

			if sign || signKey != "" {
				if err := signReportFile(p, signKey); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "signed %s%s\n", p, signatureExt)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the report file with an SSH key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "SSH private key for --sign (default ~/.ssh/id_ed25519, id_ecdsa, id_rsa)")
	return cmd
}
