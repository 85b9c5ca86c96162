package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/classtap/pkg/capture"
)

const version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "classtap",
		Short:         "Capture dynamically defined classes and attribute them to their generators",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newVerifyCmd())
	root.AddCommand(newLsCmd())
	root.AddCommand(newOpcodesCmd())
	root.AddCommand(newPackCmd())
	return root
}

// exitCode distinguishes fatal capture errors, which abort the host, from
// ordinary command failures.
func exitCode(err error) int {
	if capture.IsFatal(err) {
		return 2
	}
	return 1
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "classtap "+version)
		},
	}
}
