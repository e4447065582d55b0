package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vitalvas/pktfilter/dfilter"
)

type compileOptions struct {
	noOptimize bool
	noMacros   bool
	types      bool
	refs       bool
	tree       bool
	trace      bool
}

func newCompileCmd(a *app) *cobra.Command {
	var o compileOptions

	cmd := &cobra.Command{
		Use:   "compile <filter>",
		Short: "Compile a filter and print its bytecode",
		Args:  cobra.ExactArgs(1),
		Example: `  dftool compile 'tcp.port == 80'
  dftool compile --types --refs 'ip.src in {10.0.0.0/8} and not dns'
  dftool compile --tree --no-optimize '1 < tcp.srcport <= 1024'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, a, o, args[0])
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&o.noOptimize, "no-optimize", false, "Skip constant folding")
	flags.BoolVar(&o.noMacros, "no-macros", false, "Do not expand macros")
	flags.BoolVarP(&o.types, "types", "t", false, "Show operand types")
	flags.BoolVarP(&o.refs, "refs", "r", false, "List referenced fields")
	flags.BoolVar(&o.tree, "tree", false, "Print the checked syntax tree")
	flags.BoolVar(&o.trace, "trace", false, "Log lexer and parser steps at debug level")

	return cmd
}

func runCompile(cmd *cobra.Command, a *app, o compileOptions, text string) error {
	var opts []dfilter.Option
	if o.noOptimize {
		opts = append(opts, dfilter.WithOptimize(false))
	}
	if o.noMacros {
		opts = append(opts, dfilter.WithoutMacroExpansion())
	}
	if o.tree {
		opts = append(opts, dfilter.WithSaveTree())
	}
	if o.trace {
		opts = append(opts, dfilter.WithLexerTrace(), dfilter.WithParserTrace())
	}

	f, err := a.compile(text, opts...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if f.Text() != f.Source() {
		fmt.Fprintf(out, "Filter: %s\n\n", f.Text())
	}

	if tree, ok := f.SyntaxTree(); ok && tree != "" {
		fmt.Fprintf(out, "Syntax tree:\n%s\n", tree)
	}

	var flags dfilter.DumpFlags
	if o.types {
		flags |= dfilter.DumpShowType
	}
	if o.refs {
		flags |= dfilter.DumpReferences
	}
	if err := f.Dump(out, flags); err != nil {
		return err
	}

	for _, w := range f.Warnings() {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
	}
	return nil
}

// filterText returns the filter argument of a subcommand that takes one.
func filterText(cmd *cobra.Command) string {
	args := cmd.Flags().Args()
	if len(args) == 0 {
		return ""
	}
	return args[len(args)-1]
}
