package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/vitalvas/pktfilter/dissect"
	"github.com/vitalvas/pktfilter/pipeline"
)

type applyOptions struct {
	read    string
	workers int
	count   bool
}

func newApplyCmd(a *app) *cobra.Command {
	var o applyOptions

	cmd := &cobra.Command{
		Use:   "apply -r <capture> <filter>",
		Short: "Print the numbers of frames matching a filter",
		Long:  `Read a pcap or pcapng file, evaluate the filter on every frame and print the numbers of matching frames. Exits with 1 when nothing matched.`,
		Args:  cobra.ExactArgs(1),
		Example: `  dftool apply -r trace.pcapng 'dns.qry.name matches "example"'
  dftool apply -r trace.pcap --workers 8 --count 'tcp.flags.syn and not tcp.flags.ack'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, a, o, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.read, "read", "r", "", "Capture file to read")
	flags.IntVarP(&o.workers, "workers", "w", 0, "Evaluation workers (0 uses the configured value or GOMAXPROCS)")
	flags.BoolVar(&o.count, "count", false, "Print only the number of matching frames")
	_ = cmd.MarkFlagRequired("read")

	return cmd
}

func runApply(cmd *cobra.Command, a *app, o applyOptions, text string) error {
	f, err := a.compile(text)
	if err != nil {
		return err
	}

	src, err := pipeline.OpenCapture(o.read)
	if err != nil {
		return err
	}
	defer src.Close()

	workers := o.workers
	if workers == 0 {
		workers = a.config.Workers
	}

	out := cmd.OutOrStdout()
	runner := pipeline.New(f, dissect.New(a.reg),
		pipeline.WithWorkers(workers),
		pipeline.WithLogger(a.logger),
	)

	stats, err := runner.Run(cmd.Context(), src, func(res pipeline.Result) error {
		if !res.Matched || o.count {
			return nil
		}
		_, err := fmt.Fprintln(out, res.Frame.Number)
		return err
	})
	if err != nil {
		return err
	}

	if o.count {
		fmt.Fprintln(out, stats.Matched)
	}

	a.logger.Info("capture filtered",
		slog.String("file", o.read),
		slog.String("format", src.Format()),
		slog.Int("frames", stats.Frames),
		slog.Int("matched", stats.Matched),
	)

	if stats.Matched == 0 {
		return errNoMatch
	}
	return nil
}
