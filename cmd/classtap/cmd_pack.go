package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/classtap/pkg/trace"
)

func newPackCmd() *cobra.Command {
	var (
		outPath string
		plain   bool
	)

	cmd := &cobra.Command{
		Use:   "pack <trace.yaml[.zst]>",
		Short: "Check a trace and rewrite it in canonical form, zstd-compressed by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			tf, err := trace.Load(in)
			if err != nil {
				return err
			}
			rp, err := tf.Build(filepath.Dir(in))
			if err != nil {
				return err
			}

			var buf bytes.Buffer
			if err := trace.Encode(&buf, tf); err != nil {
				return err
			}
			data := buf.Bytes()
			if !plain {
				if data, err = trace.CompressZstd(data); err != nil {
					return fmt.Errorf("pack: zstd: %w", err)
				}
			}

			if outPath == "" {
				outPath = strings.TrimSuffix(in, ".zst")
				if !plain {
					outPath += ".zst"
				}
			}
			if outPath == in {
				return fmt.Errorf("pack: refusing to overwrite %s; pass --out", in)
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return fmt.Errorf("pack: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "packed %d event(s) into %s (%d bytes)\n", len(rp.Events), outPath, len(data))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "output path (default <trace>.zst)")
	cmd.Flags().BoolVar(&plain, "plain", false, "write uncompressed YAML")
	return cmd
}
