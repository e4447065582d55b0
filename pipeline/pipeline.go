// Package pipeline evaluates one compiled filter against a stream of frames
// with a pool of workers.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/vitalvas/pktfilter/dfilter"
	"github.com/vitalvas/pktfilter/dissect"
	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/xlogger"
)

// Result is the verdict for one frame.
type Result struct {
	Frame   dissect.Frame
	Matched bool
}

// Sink receives results in frame order. Returning an error stops the run.
type Sink func(Result) error

// Stats summarizes a run.
type Stats struct {
	Frames  int
	Matched int
}

// Runner evaluates frames concurrently.
type Runner struct {
	filter    *dfilter.Filter
	dissector *dissect.Dissector
	workers   int
	logger    *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers sets the number of evaluation goroutines. Values below one
// select runtime.GOMAXPROCS(0).
func WithWorkers(n int) Option {
	return func(r *Runner) {
		r.workers = n
	}
}

// WithLogger sets the logger for progress and failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// New creates a runner sharing the compiled filter between its workers.
func New(filter *dfilter.Filter, d *dissect.Dissector, opts ...Option) *Runner {
	r := &Runner{filter: filter, dissector: d}
	for _, opt := range opts {
		opt(r)
	}
	if r.workers < 1 {
		r.workers = runtime.GOMAXPROCS(0)
	}
	if r.logger == nil {
		r.logger = xlogger.Discard()
	}
	return r
}

// Run evaluates filter against every frame from src using the given number
// of workers and passes the verdicts to sink in frame order.
func Run(ctx context.Context, src Source, filter *dfilter.Filter, d *dissect.Dissector, workers int, sink Sink) (Stats, error) {
	return New(filter, d, WithWorkers(workers)).Run(ctx, src, sink)
}

type job struct {
	seq   int
	frame dissect.Frame
}

type verdict struct {
	seq    int
	result Result
}

// Run reads src until io.EOF. The first error from the source, the sink or
// ctx stops every goroutine and is returned.
func (r *Runner) Run(ctx context.Context, src Source, sink Sink) (Stats, error) {
	var stats Stats

	g, ctx := errgroup.WithContext(ctx)

	jobs := make(chan job, r.workers)
	verdicts := make(chan verdict, r.workers)

	// Frames in flight are bounded so reordering never buffers the whole
	// capture behind one slow frame.
	window := make(chan struct{}, r.workers*4)

	g.Go(func() error {
		defer close(jobs)

		for seq := 0; ; seq++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			frame, err := src.Next()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}

			select {
			case window <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}

			select {
			case jobs <- job{seq: seq, frame: frame}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	workers, wctx := errgroup.WithContext(ctx)
	for range r.workers {
		workers.Go(func() error {
			return r.work(wctx, jobs, verdicts)
		})
	}
	g.Go(func() error {
		defer close(verdicts)
		return workers.Wait()
	})

	g.Go(func() error {
		pending := make(map[int]Result)
		next := 0

		for v := range verdicts {
			pending[v.seq] = v.result

			for {
				res, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				<-window

				stats.Frames++
				if res.Matched {
					stats.Matched++
				}
				if err := sink(res); err != nil {
					return err
				}
			}
		}
		return nil
	})

	err := g.Wait()
	if err != nil {
		r.logger.Error("pipeline stopped", slog.Int("frames", stats.Frames), slog.String("error", err.Error()))
	} else {
		r.logger.Debug("pipeline finished", slog.Int("frames", stats.Frames), slog.Int("matched", stats.Matched))
	}
	return stats, err
}

func (r *Runner) work(ctx context.Context, jobs <-chan job, verdicts chan<- verdict) error {
	b := fieldtree.NewBuilder()
	r.filter.Prime(b)
	dissectFrames := r.filter.HasInterestingFields()

	for j := range jobs {
		var tree *fieldtree.Tree
		if dissectFrames {
			tree = r.dissector.Dissect(b, j.frame)
		}

		v := verdict{seq: j.seq, result: Result{Frame: j.frame, Matched: r.filter.Evaluate(tree)}}

		select {
		case verdicts <- v:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
