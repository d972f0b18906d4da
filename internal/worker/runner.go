package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner supervises a set of workers under one errgroup: the first worker
// error cancels the rest, and Run returns that error after all have exited.
type Runner struct {
	workers []Worker
}

func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all finish.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "worker", w.Name())
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}
