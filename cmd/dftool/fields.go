package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFieldsCmd(a *app) *cobra.Command {
	var protocols bool

	cmd := &cobra.Command{
		Use:   "fields [prefix]",
		Short: "List registered fields",
		Args:  cobra.MaximumNArgs(1),
		Example: `  dftool fields tcp.flags
  dftool fields --protocols`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) > 0 {
				prefix = args[0]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FIELD\tTYPE\tNAME")

			for _, f := range a.reg.WithPrefix(prefix) {
				if protocols && !f.IsProtocol() {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Abbrev, f.Type, f.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVarP(&protocols, "protocols", "p", false, "List protocols only")
	return cmd
}
