// Package worker hosts the router's long-running background tasks.
package worker

import "context"

// Worker is a long-running background task. Run blocks until ctx is
// cancelled or the task hits an unrecoverable error; Name labels the task
// in logs.
type Worker interface {
	Run(ctx context.Context) error
	Name() string
}
