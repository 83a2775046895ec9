package server

import (
	"context"

	"github.com/sadewadee/phpembed/internal/worker"
)

// Engine is the PHP worker as the server sees it.
type Engine interface {
	Exec(ctx context.Context, job worker.Job) (*worker.Result, error)
	Stats() worker.WorkerStats
}
