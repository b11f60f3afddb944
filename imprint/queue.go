package imprint

import (
	"context"
	"fmt"
)

// Queue hands jobs from the content-creation flow to the worker. Delivery is
// at-least-once; consumers must stay idempotent on fingerprint.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
}

// JobSettler is implemented by durable queues that hold a delivered job under
// lease until the consumer settles it. Queues without leases simply don't
// implement it.
type JobSettler interface {
	Settle(ctx context.Context, job Job) error
}

// ChanQueue is the in-process Queue used by tests and single-node
// deployments. Jobs do not survive a process restart; the durable variant is
// PGQueue.
type ChanQueue struct {
	jobs chan Job
}

func NewChanQueue(capacity int) *ChanQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &ChanQueue{jobs: make(chan Job, capacity)}
}

func (q *ChanQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("imprint: enqueue: %w", ctx.Err())
	}
}

func (q *ChanQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}
