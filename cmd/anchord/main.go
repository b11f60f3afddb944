package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"imprintflow/db"
	"imprintflow/imprint"
	"imprintflow/mirror"
	"imprintflow/relay"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	topic := os.Getenv("LEDGER_TOPIC")
	if topic == "" {
		log.Fatal("LEDGER_TOPIC is required")
	}
	relayURL := os.Getenv("LEDGER_RELAY_URL")
	if relayURL == "" {
		log.Fatal("LEDGER_RELAY_URL is required")
	}
	mirrorURL := os.Getenv("LEDGER_MIRROR_URL")
	if mirrorURL == "" {
		log.Fatal("LEDGER_MIRROR_URL is required")
	}
	listenAddr := os.Getenv("HEALTH_ADDR")
	if listenAddr == "" {
		listenAddr = ":8090"
	}

	store := imprint.NewPGStore(pool)
	queue := imprint.NewPGQueue(pool)
	metrics := imprint.NewMetrics()

	worker := imprint.NewWorker(queue, store, relay.NewClient(relayURL), metrics, imprint.WorkerConfig{
		Topic: topic,
	})
	poller := imprint.NewPoller(store, mirror.NewClient(mirrorURL), queue, metrics, imprint.PollerConfig{
		Interval: envDuration("POLL_INTERVAL", 30*time.Second),
	})

	server := &http.Server{
		Addr:    listenAddr,
		Handler: imprint.HealthHandler(metrics, store),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Printf("anchord ready: topic=%s health=%s", topic, listenAddr)
	if err := g.Wait(); err != nil {
		log.Fatalf("anchord stopped: %v", err)
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return d
}
