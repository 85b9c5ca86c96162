package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odvcencio/classtap/pkg/bytecode"
)

func newOpcodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "opcodes [opcode...]",
		Short: "Print the call-site opcode mnemonics, or look up the given opcodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := bytecode.Table()
			if len(args) > 0 {
				ops = ops[:0:0]
				for _, arg := range args {
					v, err := strconv.ParseUint(arg, 0, 8)
					if err != nil {
						return fmt.Errorf("opcode %q: %w", arg, err)
					}
					op := bytecode.Opcode(v)
					if !op.Known() {
						return fmt.Errorf("opcode 0x%02x is not a call-site opcode", byte(op))
					}
					ops = append(ops, op)
				}
			}
			for _, op := range ops {
				fmt.Fprintf(cmd.OutOrStdout(), "0x%02x %3d %s\n", byte(op), byte(op), op)
			}
			return nil
		},
	}
}
