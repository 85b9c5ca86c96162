package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [out]",
		Short: "List captured classes grouped by loader identity",
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

			w := cmd.OutOrStdout()
			loader := ""
			missing := 0
			for _, a := range arts {
				if a.Loader != loader {
					loader = a.Loader
					fmt.Fprintf(w, "loader %s:\n", loader)
				}
				if a.HasInfo {
					fmt.Fprintf(w, "  %s\n", a.Class)
				} else {
					missing++
					fmt.Fprintf(w, "  %s (no .info)\n", a.Class)
				}
			}
			fmt.Fprintf(w, "%d class(es), %d without context record\n", len(arts), missing)
			return nil
		},
	}
}
