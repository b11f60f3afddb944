package test

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"imprintflow/fingerprint"
	"imprintflow/imprint"
	"imprintflow/test/infra"
)

// scriptedLedger confirms every submission on the first finality check.
type scriptedLedger struct {
	mu      sync.Mutex
	seq     int64
	submits int
}

func (l *scriptedLedger) Submit(ctx context.Context, topic string, message []byte) (imprint.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submits++
	l.seq++
	return imprint.Receipt{
		TransactionID:  fmt.Sprintf("tx-e2e-%d", l.seq),
		SequenceNumber: l.seq,
		SubmittedAt:    time.Now(),
	}, nil
}

func (l *scriptedLedger) CheckFinality(ctx context.Context, transactionID string) (imprint.Finality, error) {
	return imprint.Finality{Finalized: true, ConsensusAt: time.Now()}, nil
}

func (l *scriptedLedger) submitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submits
}

// TestAnchoringPipeline_EndToEnd drives content through the durable queue,
// worker and poller against a real Postgres: the unique content reaches
// confirmed, the duplicated pair collapses to one submission, and every job
// is settled off the queue.
func TestAnchoringPipeline_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dsn := os.Getenv("IMPRINT_TEST_PG_DSN")
	pgC := &infra.PGContainer{}
	if dsn == "" {
		if !dockerAvailable(ctx) {
			t.Skip("no IMPRINT_TEST_PG_DSN and no Docker; skipping end-to-end test")
		}
		var err error
		pgC, dsn, err = infra.StartPostgres16(ctx, "")
		if err != nil {
			t.Fatalf("start postgres: %v", err)
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	store := imprint.NewPGStore(pool)
	queue := imprint.NewPGQueue(pool).WithPollInterval(20 * time.Millisecond)
	ledger := &scriptedLedger{}
	metrics := imprint.NewMetrics()

	worker := imprint.NewWorker(queue, store, ledger, metrics, imprint.WorkerConfig{
		Topic:       "0.0.4242",
		MaxAttempts: 3,
		BaseBackoff: 10 * time.Millisecond,
	})
	poller := imprint.NewPoller(store, ledger, queue, metrics, imprint.PollerConfig{
		Interval:       50 * time.Millisecond,
		BatchSize:      10,
		StaleThreshold: time.Hour,
	})
	svc := imprint.NewService(queue)

	uniqueID := seedContent(t, ctx, pool, fingerprint.Compute("a one of a kind post"))
	sharedFP := fingerprint.Compute("same   words")
	firstID := seedContent(t, ctx, pool, sharedFP)
	secondID := seedContent(t, ctx, pool, fingerprint.Compute("same words"))

	runCtx, stop := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return worker.Run(runCtx) })
	g.Go(func() error { return poller.Run(runCtx) })

	for _, seed := range []struct{ id, fp string }{
		{uniqueID, fingerprint.Compute("a one of a kind post")},
		{firstID, sharedFP},
		{secondID, sharedFP},
	} {
		if err := svc.Enqueue(ctx, seed.id, seed.fp); err != nil {
			t.Fatalf("enqueue %s: %v", seed.id, err)
		}
	}

	waitFor(t, ctx, 60*time.Second, func() bool {
		unique := mustGet(t, ctx, store, uniqueID)
		first := mustGet(t, ctx, store, firstID)
		second := mustGet(t, ctx, store, secondID)
		settled := (first.Status == imprint.StatusConfirmed && second.Status == imprint.StatusDuplicate) ||
			(second.Status == imprint.StatusConfirmed && first.Status == imprint.StatusDuplicate)
		return unique.Status == imprint.StatusConfirmed && settled
	})
	stop()
	if err := g.Wait(); err != nil {
		t.Fatalf("pipeline group: %v", err)
	}

	if got := ledger.submitCount(); got != 2 {
		t.Errorf("ledger submissions = %d, want 2 (one per distinct fingerprint)", got)
	}

	unique := mustGet(t, ctx, store, uniqueID)
	if unique.Proof == nil || unique.Proof.ConfirmedAt == nil {
		t.Fatalf("confirmed record missing proof: %+v", unique.Proof)
	}

	var remaining int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM imprint_jobs`).Scan(&remaining); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if remaining != 0 {
		t.Errorf("unsettled jobs = %d, want 0", remaining)
	}
}

func seedContent(t *testing.T, ctx context.Context, pool *pgxpool.Pool, fp string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pool.Exec(ctx, `INSERT INTO contents (id, author_id, fingerprint) VALUES ($1, $2, $3)`,
		id, uuid.NewString(), fp)
	if err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return id
}

func mustGet(t *testing.T, ctx context.Context, store *imprint.PGStore, id string) imprint.Content {
	t.Helper()
	c, err := store.GetContentByID(ctx, id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return c
}

func waitFor(t *testing.T, ctx context.Context, limit time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(limit)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("context done while waiting: %v", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
	t.Fatal("condition not reached in time")
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}
