package imprint

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// PollerConfig bounds the reconciliation loop. Zero values fall back to the
// defaults below.
type PollerConfig struct {
	Interval       time.Duration
	BatchSize      int
	CheckTimeout   time.Duration
	StaleThreshold time.Duration
}

const (
	defaultPollInterval   = 30 * time.Second
	defaultPollBatch      = 100
	defaultCheckTimeout   = 5 * time.Second
	defaultStaleThreshold = time.Hour
)

// Poller reconciles records stuck in submitted with ledger-side truth. The
// submission receipt is provisional; only the mirror read confirms finality.
type Poller struct {
	store   ContentStore
	ledger  FinalityChecker
	queue   Queue
	metrics *Metrics
	cfg     PollerConfig

	now func() time.Time
}

func NewPoller(store ContentStore, ledger FinalityChecker, queue Queue, metrics *Metrics, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultPollBatch
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = defaultCheckTimeout
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = defaultStaleThreshold
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Poller{
		store:   store,
		ledger:  ledger,
		queue:   queue,
		metrics: metrics,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Run cycles until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				log.Printf("imprint poller: cycle: %v", err)
			}
		}
	}
}

// Cycle runs one reconciliation pass over a bounded batch of submitted
// records. Per-record errors are logged and skipped so one flaky mirror read
// never starves the rest of the batch.
func (p *Poller) Cycle(ctx context.Context) error {
	batch, err := p.store.FindByStatus(ctx, StatusSubmitted, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("imprint: fetch submitted batch: %w", err)
	}
	for _, content := range batch {
		if err := p.reconcile(ctx, content); err != nil {
			log.Printf("imprint poller: content %s: %v", content.ID, err)
		}
	}
	return nil
}

func (p *Poller) reconcile(ctx context.Context, content Content) error {
	if content.Proof == nil || content.Proof.TransactionID == "" {
		// Should be unreachable under the state machine; skip rather than
		// guess at a transition.
		return fmt.Errorf("submitted record has no transaction id")
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CheckTimeout)
	finality, err := p.ledger.CheckFinality(callCtx, content.Proof.TransactionID)
	cancel()

	switch {
	case err == nil && finality.Finalized:
		return p.confirm(ctx, content, finality)
	case errors.Is(err, ErrTxNotIndexed):
		if p.now().Sub(content.Proof.SubmittedAt) > p.cfg.StaleThreshold {
			return p.requeueStale(ctx, content)
		}
		return nil
	case err != nil:
		// Transient mirror trouble; the next cycle retries.
		return fmt.Errorf("check finality %s: %w", content.Proof.TransactionID, err)
	default:
		// Indexed but not finalized yet; keep waiting.
		return nil
	}
}

func (p *Poller) confirm(ctx context.Context, content Content, finality Finality) error {
	confirmedAt := finality.ConsensusAt
	if confirmedAt.IsZero() {
		confirmedAt = p.now()
	}
	proof := *content.Proof
	proof.ConfirmedAt = &confirmedAt

	ok, err := p.store.UpdateImprint(ctx, content.ID, StatusSubmitted, ImprintUpdate{Status: StatusConfirmed, Proof: &proof})
	if err != nil {
		return fmt.Errorf("confirm %s: %w", content.Proof.TransactionID, err)
	}
	if ok {
		p.metrics.Confirmed()
	}
	return nil
}

// requeueStale returns a record the ledger apparently never received to
// pending so the worker can submit it afresh. The prior proof is kept as a
// trace of the abandoned attempt; the retry count bounds how often this can
// recur before an operator looks.
func (p *Poller) requeueStale(ctx context.Context, content Content) error {
	proof := *content.Proof
	proof.RetryCount++

	ok, err := p.store.UpdateImprint(ctx, content.ID, StatusSubmitted, ImprintUpdate{Status: StatusPending, Proof: &proof})
	if err != nil {
		return fmt.Errorf("requeue stale %s: %w", content.Proof.TransactionID, err)
	}
	if !ok {
		return nil
	}
	log.Printf("imprint poller: content %s stale after %s, re-queued (retry %d)",
		content.ID, p.cfg.StaleThreshold, proof.RetryCount)
	if p.queue != nil {
		if err := p.queue.Enqueue(ctx, Job{ContentID: content.ID, Fingerprint: content.Fingerprint}); err != nil {
			return fmt.Errorf("enqueue stale %s: %w", content.ID, err)
		}
	}
	return nil
}
