package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalvas/pktfilter/macro"
)

func newExpandCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <filter>",
		Short: "Expand macros without compiling",
		Args:  cobra.ExactArgs(1),
		Example: `  dftool --macros macros.txt expand '${private} and ${port:443}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			src := a.macros
			if src == nil {
				table, err := macro.NewTable()
				if err != nil {
					return err
				}
				src = table
			}

			text, err := macro.Expand(args[0], src)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}
