package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vitalvas/pktfilter/dfilter"
	"github.com/vitalvas/pktfilter/macro"
	"github.com/vitalvas/pktfilter/registry"
	"github.com/vitalvas/pktfilter/xconfig"
	"github.com/vitalvas/pktfilter/xlogger"
)

const (
	ExitSuccess = 0
	ExitNoMatch = 1
	ExitError   = 2
)

// errNoMatch makes apply exit with ExitNoMatch without printing an error.
var errNoMatch = errors.New("no frames matched")

// app holds the state shared by every subcommand once the root command has
// loaded the configuration.
type app struct {
	configFile string
	flags      Config

	config Config
	logger *slog.Logger
	reg    *registry.Snapshot
	macros macro.Source
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "dftool",
		Short: "Compile and apply display filters",
		Long:  `Compile display filters to bytecode, expand macros, browse the field registry and filter capture files.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	flags.StringVar(&a.flags.Registry, "registry", "", "Field definitions file extending the built-in registry")
	flags.StringVar(&a.flags.Macros, "macros", "", "Macro file (user table or YAML)")
	flags.StringVar(&a.flags.Log.Level, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&a.flags.Log.LogType, "log-format", "", "Log format: text or json")
	flags.StringVar(&a.flags.Log.File, "log-file", "", "Write logs to a rotated file instead of stderr")

	cmd.AddCommand(newCompileCmd(a))
	cmd.AddCommand(newExpandCmd(a))
	cmd.AddCommand(newFieldsCmd(a))
	cmd.AddCommand(newApplyCmd(a))

	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	var opts []xconfig.Option
	if a.configFile != "" {
		opts = append(opts, xconfig.WithFiles(a.configFile), xconfig.WithStrict())
	}
	opts = append(opts, xconfig.WithEnv(envPrefix))

	if err := xconfig.Load(&a.config, opts...); err != nil {
		return err
	}
	a.config.override(a.flags)

	if a.config.Log.Output == nil && a.config.Log.File == "" {
		a.config.Log.Output = cmd.ErrOrStderr()
	}
	a.logger = xlogger.New(a.config.Log)

	var err error
	if a.config.Registry != "" {
		a.reg, err = registry.LoadFile(a.config.Registry)
	} else {
		a.reg = registry.Default()
	}
	if err != nil {
		return err
	}

	if a.config.Macros != "" {
		table, err := macro.LoadFile(a.config.Macros)
		if err != nil {
			return err
		}
		a.macros = table
		a.logger.Debug("macros loaded", slog.String("file", a.config.Macros), slog.Int("count", table.Len()))
	}

	a.logger.Debug("registry ready",
		slog.Int("fields", a.reg.Len()),
		slog.Uint64("generation", a.reg.Generation()),
	)
	return nil
}

// compile applies the configured compile defaults before opts.
func (a *app) compile(text string, opts ...dfilter.Option) (*dfilter.Filter, error) {
	base := []dfilter.Option{
		dfilter.WithLogger(a.logger),
		dfilter.WithOptimize(a.config.Compile.Optimize),
	}
	if a.macros != nil && a.config.Compile.ExpandMacros {
		base = append(base, dfilter.WithMacros(a.macros))
	}

	return dfilter.Compile(text, a.reg, append(base, opts...)...)
}

// reportError prints err, with a caret line for located compile errors.
// Locations past macro expansion refer to the expanded text, so only macro
// errors are highlighted in filters that use macros.
func reportError(w io.Writer, text string, err error) {
	var ferr *dfilter.Error
	located := text != "" && (!strings.Contains(text, "$") || errors.Is(err, dfilter.ErrMacro))
	if located && errors.As(err, &ferr) {
		fmt.Fprintf(w, "dftool: %s\n%s\n", ferr.Msg, ferr.Highlight(text))
		return
	}
	fmt.Fprintf(w, "dftool: %v\n", err)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errNoMatch) {
			return ExitNoMatch
		}

		text := ""
		if sub, _, ferr := cmd.Find(args); ferr == nil && sub != nil {
			text = filterText(sub)
		}
		reportError(stderr, text, err)
		return ExitError
	}
	return ExitSuccess
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
