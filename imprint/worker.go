package imprint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// WorkerConfig bounds the submission behavior. Zero values fall back to the
// defaults below.
type WorkerConfig struct {
	Topic         string
	MaxAttempts   int
	BaseBackoff   time.Duration
	SubmitTimeout time.Duration
}

const (
	defaultMaxAttempts   = 3
	defaultBaseBackoff   = 2 * time.Second
	defaultSubmitTimeout = 15 * time.Second

	// dequeueRetryDelay paces the loop when the queue backend errors, e.g.
	// during a Postgres failover.
	dequeueRetryDelay = time.Second
)

// Worker drains the queue and drives each job to a terminal or intermediate
// imprint state. Safe to run multiple instances against the same store: every
// transition is a conditional update, so the loser of a race degrades to a
// no-op.
type Worker struct {
	queue   Queue
	store   ContentStore
	ledger  Submitter
	metrics *Metrics
	cfg     WorkerConfig

	sleep func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, store ContentStore, ledger Submitter, metrics *Metrics, cfg WorkerConfig) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Worker{
		queue:   queue,
		store:   store,
		ledger:  ledger,
		metrics: metrics,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

func (w *Worker) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Worker {
	w.sleep = sleep
	return w
}

func (w *Worker) Metrics() *Metrics { return w.metrics }

// Run blocks on the queue until ctx is cancelled. Job failures and queue
// backend errors are absorbed and surfaced through logs and metrics; only
// shutdown stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			log.Printf("imprint worker: dequeue: %v", err)
			if err := w.sleep(ctx, dequeueRetryDelay); err != nil {
				return nil
			}
			continue
		}
		if err := w.Process(ctx, job); err != nil {
			// Leave the job unsettled: a durable queue redelivers it after
			// the lease lapses and the idempotent short-circuit sorts out
			// whatever did land.
			log.Printf("imprint worker: content %s: %v", job.ContentID, err)
			continue
		}
		if settler, ok := w.queue.(JobSettler); ok {
			if err := settler.Settle(ctx, job); err != nil {
				log.Printf("imprint worker: settle job %s: %v", job.ID, err)
			}
		}
	}
}

// ledgerMessage is the payload anchored on the ledger.
type ledgerMessage struct {
	ContentID   string `json:"contentId"`
	AuthorID    string `json:"authorId"`
	Fingerprint string `json:"fingerprint"`
}

// Process runs a single job to completion. The returned error is for
// logging only; nothing propagates to the enqueuing caller.
func (w *Worker) Process(ctx context.Context, job Job) error {
	content, err := w.store.GetContentByID(ctx, job.ContentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Content deleted between enqueue and processing; drop the job.
			w.metrics.JobProcessed(false)
			return nil
		}
		return fmt.Errorf("load content: %w", err)
	}

	// Stale redelivery: another delivery of this job already ran.
	if content.Status != StatusPending {
		w.metrics.JobProcessed(false)
		return nil
	}

	prior, err := w.store.FindByFingerprintWithProof(ctx, job.Fingerprint, job.ContentID)
	if err == nil {
		return w.markDuplicate(ctx, content, prior)
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("duplicate lookup: %w", err)
	}

	message, err := json.Marshal(ledgerMessage{
		ContentID:   content.ID,
		AuthorID:    content.AuthorID,
		Fingerprint: job.Fingerprint,
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	receipt, submitErr := w.submitWithRetry(ctx, message)
	if submitErr != nil {
		return w.markFailed(ctx, content, submitErr)
	}
	return w.markSubmitted(ctx, content, receipt)
}

// submitWithRetry calls the ledger up to MaxAttempts times with the base
// delay doubling between attempts. Permanent errors stop the loop early.
func (w *Worker) submitWithRetry(ctx context.Context, message []byte) (Receipt, error) {
	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.SubmitTimeout)
		receipt, err := w.ledger.Submit(callCtx, w.cfg.Topic, message)
		cancel()
		if err == nil {
			return receipt, nil
		}
		lastErr = err
		if !IsTransient(err) {
			return Receipt{}, fmt.Errorf("imprint: submit rejected: %w", err)
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}
		delay := w.cfg.BaseBackoff << (attempt - 1)
		if err := w.sleep(ctx, delay); err != nil {
			return Receipt{}, fmt.Errorf("imprint: backoff interrupted: %w", err)
		}
	}
	return Receipt{}, fmt.Errorf("imprint: submit exhausted %d attempts: %w", w.cfg.MaxAttempts, lastErr)
}

func (w *Worker) markDuplicate(ctx context.Context, content, prior Content) error {
	update := ImprintUpdate{Status: StatusDuplicate, DuplicateOf: &prior.ID}
	ok, err := w.store.UpdateImprint(ctx, content.ID, StatusPending, update)
	if err != nil {
		// Not counted: the redelivery will land the terminal state and
		// count the job then.
		return fmt.Errorf("mark duplicate: %w", err)
	}
	if ok {
		w.metrics.Duplicate()
		log.Printf("imprint worker: content %s duplicates %s, not resubmitting", content.ID, prior.ID)
	}
	w.metrics.JobProcessed(false)
	return nil
}

func (w *Worker) markSubmitted(ctx context.Context, content Content, receipt Receipt) error {
	retryCount := 0
	if content.Proof != nil {
		retryCount = content.Proof.RetryCount
	}
	proof := &Proof{
		LedgerTopic:    w.cfg.Topic,
		SequenceNumber: receipt.SequenceNumber,
		TransactionID:  receipt.TransactionID,
		SubmittedAt:    receipt.SubmittedAt,
		RetryCount:     retryCount,
	}
	status := StatusSubmitted
	if receipt.ConsensusAt != nil {
		// Adapter-dependent fast path: finality known at submit time.
		confirmedAt := *receipt.ConsensusAt
		proof.ConfirmedAt = &confirmedAt
		status = StatusConfirmed
	}

	ok, err := w.store.UpdateImprint(ctx, content.ID, StatusPending, ImprintUpdate{Status: status, Proof: proof})
	if err != nil {
		return fmt.Errorf("record submission %s: %w", receipt.TransactionID, err)
	}
	if ok && status == StatusConfirmed {
		w.metrics.Confirmed()
	}
	w.metrics.JobProcessed(false)
	return nil
}

func (w *Worker) markFailed(ctx context.Context, content Content, cause error) error {
	log.Printf("imprint worker: content %s submission failed: %v", content.ID, cause)
	// A false result means another actor transitioned the record first; its
	// outcome is authoritative, so both results are fine here.
	_, err := w.store.UpdateImprint(ctx, content.ID, StatusPending, ImprintUpdate{Status: StatusFailed})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	w.metrics.JobProcessed(true)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
