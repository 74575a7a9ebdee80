package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashita-ai/kiroku/internal/model"
)

// Worker drains the queue: claim, dispatch, settle, repeat. It is safe to run
// any number of workers against the same database; the claim statement
// serializes them.
type Worker struct {
	queue        *Queue
	handlers     *Handlers
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewWorker creates a worker polling at the given interval.
func NewWorker(queue *Queue, handlers *Handlers, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Worker{
		queue:        queue,
		handlers:     handlers,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled. Claim errors never exit the loop; the
// worker backs off and keeps polling so a transient database outage does not
// require a process restart.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.pollInterval)
	for {
		if err := ctx.Err(); err != nil {
			w.logger.Info("worker stopped")
			return err
		}

		job, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error("claim failed", "error", err)
			w.sleep(ctx, 2*w.pollInterval)
			continue
		}
		if job == nil {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *model.Job) {
	w.logger.Info("processing job", "job_id", job.ID, "type", job.Type, "attempt", job.RetryCount)

	if err := w.handlers.Dispatch(ctx, job); err != nil {
		if failErr := w.queue.Fail(ctx, job, err); failErr != nil {
			w.logger.Error("could not record job failure", "job_id", job.ID, "error", failErr)
		}
		return
	}
	if err := w.queue.Complete(ctx, job.ID); err != nil {
		w.logger.Error("could not mark job done", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
