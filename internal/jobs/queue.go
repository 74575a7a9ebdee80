// Package jobs implements the durable background job queue and the worker
// loop that drains it. Jobs live in Postgres so enqueue participates in the
// caller's transaction boundary and workers on any process can claim them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kiroku/internal/model"
	"github.com/ashita-ai/kiroku/internal/storage"
	"github.com/ashita-ai/kiroku/internal/telemetry"
)

const jobColumns = `id, type, payload, status, retry_count, next_retry_at, last_error, created_at`

// Claims contend with settles on the same rows under load; transient
// serialization and deadlock errors are retried before a claim is reported
// as failed to the worker loop.
const (
	claimRetries   = 2
	claimBaseDelay = 50 * time.Millisecond
)

// Queue provides enqueue/claim/settle operations over the jobs table.
type Queue struct {
	db     *storage.DB
	logger *slog.Logger

	deadLettered metric.Int64Counter
}

// NewQueue creates a queue and registers its metrics instruments.
func NewQueue(db *storage.DB, logger *slog.Logger) (*Queue, error) {
	q := &Queue{db: db, logger: logger}

	meter := telemetry.Meter("kiroku/jobs")
	var err error
	q.deadLettered, err = meter.Int64Counter("kiroku.jobs.dead_lettered",
		metric.WithDescription("Jobs that exhausted their retry budget"))
	if err != nil {
		return nil, fmt.Errorf("jobs: create counter: %w", err)
	}

	depth, err := meter.Int64ObservableGauge("kiroku.jobs.queue_depth",
		metric.WithDescription("Jobs awaiting processing by status"))
	if err != nil {
		return nil, fmt.Errorf("jobs: create gauge: %w", err)
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		rows, err := db.Pool().Query(ctx,
			`SELECT status, count(*) FROM jobs WHERE status IN ('pending', 'failed', 'processing') GROUP BY status`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			o.ObserveInt64(depth, n, metric.WithAttributes(attribute.String("status", status)))
		}
		return rows.Err()
	}, depth)
	if err != nil {
		return nil, fmt.Errorf("jobs: register callback: %w", err)
	}

	return q, nil
}

// Enqueue inserts a pending job that is immediately eligible for claiming.
func (q *Queue) Enqueue(ctx context.Context, jobType model.JobType, payload model.JobPayload) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobs: marshal payload: %w", err)
	}

	id := uuid.New()
	_, err = q.db.Pool().Exec(ctx,
		`INSERT INTO jobs (id, type, payload, status, retry_count, next_retry_at, created_at)
		 VALUES ($1, $2, $3, 'pending', 0, now(), now())`,
		id, jobType, body)
	if err != nil {
		return uuid.Nil, fmt.Errorf("jobs: enqueue %s: %w", jobType, err)
	}
	return id, nil
}

// Claim atomically takes ownership of the oldest due job, marking it
// processing and consuming one attempt. The subselect with FOR UPDATE SKIP
// LOCKED guarantees no two workers ever receive the same job. Returns
// (nil, nil) when no job is due.
func (q *Queue) Claim(ctx context.Context) (*model.Job, error) {
	var job *model.Job
	err := storage.WithRetry(ctx, claimRetries, claimBaseDelay, func() error {
		row := q.db.Pool().QueryRow(ctx, `
			UPDATE jobs
			SET status = 'processing', retry_count = retry_count + 1
			WHERE id = (
				SELECT id FROM jobs
				WHERE status IN ('pending', 'failed')
				  AND next_retry_at <= now()
				  AND retry_count < $1
				ORDER BY created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+jobColumns,
			model.MaxJobAttempts)

		j, err := scanJob(row)
		if err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("jobs: claim: %w", err)
	}
	return job, nil
}

// Complete marks a claimed job done.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Pool().Exec(ctx, `UPDATE jobs SET status = 'done', last_error = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("jobs: complete: %w", err)
	}
	return nil
}

// Fail records the error and schedules the next attempt with exponential
// backoff (1m, 2m, 4m from the attempt count). A job whose attempts are
// exhausted stays failed with next_retry_at in the future but is excluded
// from claiming by the retry_count predicate; it is dead-lettered in logs.
func (q *Queue) Fail(ctx context.Context, job *model.Job, cause error) error {
	msg := cause.Error()
	if len(msg) > 2000 {
		msg = msg[:2000]
	}

	_, err := q.db.Pool().Exec(ctx, `
		UPDATE jobs
		SET status = 'failed',
		    last_error = $2,
		    next_retry_at = now() + interval '1 minute' * power(2, $3::int)
		WHERE id = $1`,
		job.ID, msg, job.RetryCount)
	if err != nil {
		return fmt.Errorf("jobs: fail: %w", err)
	}

	if job.RetryCount >= model.MaxJobAttempts {
		q.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(job.Type))))
		q.logger.Error("job dead-lettered after exhausting retries",
			"job_id", job.ID,
			"type", job.Type,
			"attempts", job.RetryCount,
			"error", msg)
	} else {
		q.logger.Warn("job failed, will retry",
			"job_id", job.ID,
			"type", job.Type,
			"attempt", job.RetryCount,
			"error", msg)
	}
	return nil
}

// Get fetches a job by id. Used by tests and diagnostics.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	row := q.db.Pool().QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("jobs: get: %w", err)
	}
	return job, nil
}

func scanJob(row interface{ Scan(...any) error }) (*model.Job, error) {
	var j model.Job
	var payload []byte
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Status, &j.RetryCount, &j.NextRetryAt, &j.LastError, &j.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &j, nil
}
