package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh"

	"github.com/odvcencio/classtap/pkg/store"
)

func newVerifyCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "verify [out]",
		Short: "Verify captured classes against their context records and the report signature",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "out"
			if len(args) == 1 {
				root = args[0]
			}

			arts, err := listArtifacts(root)
			if err != nil {
				return err
			}
			var withInfo int
			for _, a := range arts {
				if !a.HasInfo {
					continue
				}
				want, err := recordedDigest(a.InfoPath)
				if errors.Is(err, errNoStoredRecord) {
					continue
				}
				if err != nil {
					return fmt.Errorf("verify class %s: %w", a.Class, err)
				}
				data, err := os.ReadFile(a.ClassPath)
				if err != nil {
					return fmt.Errorf("verify class %s: %w", a.Class, err)
				}
				if got := store.Digest(data); got != want {
					return fmt.Errorf("verify class %s (loader %s): digest %s, context record says %s", a.Class, a.Loader, got, want)
				}
				withInfo++
			}

			signedBy, err := verifyReportFile(root, keyPath)
			if err != nil {
				return err
			}

			fmt.Fprintf(
				cmd.OutOrStdout(),
				"ok: verified %d class file(s), %d with context records, %s\n",
				len(arts),
				withInfo,
				signedBy,
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "", "require the report to be signed by this public key (authorized_keys format)")
	return cmd
}

// verifyReportFile checks <root>/report.txt.sig when present and describes
// the outcome. A pinned key makes the signature mandatory.
func verifyReportFile(root, keyPath string) (string, error) {
	reportPath := filepath.Join(root, reportName)
	armored, err := os.ReadFile(reportPath + signatureExt)
	if errors.Is(err, os.ErrNotExist) {
		if keyPath != "" {
			return "", fmt.Errorf("verify report: %s%s not found", reportName, signatureExt)
		}
		return "report unsigned", nil
	}
	if err != nil {
		return "", fmt.Errorf("verify report: %w", err)
	}

	report, err := os.ReadFile(reportPath)
	if err != nil {
		return "", fmt.Errorf("verify report: %w", err)
	}
	pub, err := verifyReportSignature(report, string(armored))
	if err != nil {
		return "", fmt.Errorf("verify report: %w", err)
	}
	if keyPath != "" {
		want, err := loadAuthorizedKey(keyPath)
		if err != nil {
			return "", fmt.Errorf("verify report: %w", err)
		}
		if !bytes.Equal(pub.Marshal(), want.Marshal()) {
			return "", fmt.Errorf("verify report: signed by %s, want %s", ssh.FingerprintSHA256(pub), ssh.FingerprintSHA256(want))
		}
	}
	return "report signed by " + ssh.FingerprintSHA256(pub), nil
}
