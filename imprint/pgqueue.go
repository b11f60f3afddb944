package imprint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGQueue is the durable Queue: jobs live in the imprint_jobs table and
// survive restarts. A dequeued job is held under a lease; if the consumer
// dies before settling it, the lease lapses and the job is delivered again.
type PGQueue struct {
	pool         *pgxpool.Pool
	lease        time.Duration
	pollInterval time.Duration
}

const (
	defaultJobLease  = 5 * time.Minute
	defaultQueuePoll = time.Second
)

func NewPGQueue(pool *pgxpool.Pool) *PGQueue {
	return &PGQueue{
		pool:         pool,
		lease:        defaultJobLease,
		pollInterval: defaultQueuePoll,
	}
}

func (q *PGQueue) WithLease(lease time.Duration) *PGQueue {
	q.lease = lease
	return q
}

func (q *PGQueue) WithPollInterval(interval time.Duration) *PGQueue {
	q.pollInterval = interval
	return q
}

func (q *PGQueue) Enqueue(ctx context.Context, job Job) error {
	id := job.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := q.pool.Exec(ctx, `
        INSERT INTO imprint_jobs (id, content_id, fingerprint)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO NOTHING
    `, id, job.ContentID, job.Fingerprint)
	if err != nil {
		return fmt.Errorf("imprint: enqueue job: %w", err)
	}
	return nil
}

// Dequeue claims the oldest unleased (or lease-expired) job. SKIP LOCKED
// keeps concurrent workers from claiming the same row; the claim itself is
// the lease.
func (q *PGQueue) Dequeue(ctx context.Context) (Job, error) {
	for {
		job, err := q.claim(ctx)
		if err == nil {
			return job, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return Job{}, fmt.Errorf("imprint: claim job: %w", err)
		}
		select {
		case <-time.After(q.pollInterval):
		case <-ctx.Done():
			return Job{}, ctx.Err()
		}
	}
}

func (q *PGQueue) claim(ctx context.Context) (Job, error) {
	var job Job
	err := q.pool.QueryRow(ctx, `
        UPDATE imprint_jobs
        SET claimed_at = now(), deliveries = deliveries + 1
        WHERE id = (
            SELECT id FROM imprint_jobs
            WHERE claimed_at IS NULL OR claimed_at < now() - make_interval(secs => $1)
            ORDER BY created_at
            FOR UPDATE SKIP LOCKED
            LIMIT 1
        )
        RETURNING id, content_id, fingerprint
    `, q.lease.Seconds()).Scan(&job.ID, &job.ContentID, &job.Fingerprint)
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// Settle removes a delivered job once the worker has driven it to an
// outcome. Settling an already-removed job is a no-op.
func (q *PGQueue) Settle(ctx context.Context, job Job) error {
	if job.ID == "" {
		return nil
	}
	if _, err := q.pool.Exec(ctx, `DELETE FROM imprint_jobs WHERE id = $1`, job.ID); err != nil {
		return fmt.Errorf("imprint: settle job: %w", err)
	}
	return nil
}
