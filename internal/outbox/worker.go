package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// WorkerConfig contains drain worker configuration.
type WorkerConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	SweepInterval time.Duration
	StaleAfter    time.Duration
	StatsInterval time.Duration
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		BatchSize:     50,
		PollInterval:  5 * time.Second,
		SweepInterval: time.Minute,
		StaleAfter:    10 * time.Minute,
		StatsInterval: 15 * time.Second,
	}
}

// Worker periodically drains the outbox and sweeps stale delivering rows.
// The drain itself is a single logical unit of work per tick; batch
// atomicity comes from the repository's claim semantics, so multiple
// worker processes can run concurrently.
type Worker struct {
	config      WorkerConfig
	service     *Service
	repo        Repository
	dispatchers Dispatchers

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewWorker creates a new outbox drain worker.
func NewWorker(config WorkerConfig, service *Service, repo Repository, dispatchers Dispatchers) *Worker {
	return &Worker{
		config:      config,
		service:     service,
		repo:        repo,
		dispatchers: dispatchers,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the drain, sweep and stats goroutines.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("starting outbox worker",
		"batch_size", w.config.BatchSize,
		"poll_interval", w.config.PollInterval,
		"stale_after", w.config.StaleAfter,
	)

	w.wg.Add(3)
	go w.runDrain(ctx)
	go w.runSweep(ctx)
	go w.runStats(ctx)
}

// Stop gracefully stops the worker. An in-flight batch runs to completion.
func (w *Worker) Stop() {
	close(w.stopCh)
	w.wg.Wait()
	slog.Info("outbox worker stopped")
}

func (w *Worker) runDrain(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.service.DeliverBatch(ctx, time.Now().UTC(), w.config.BatchSize, w.dispatchers); err != nil {
				slog.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (w *Worker) runSweep(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-w.config.StaleAfter)
			n, err := w.repo.ReclaimStale(ctx, cutoff)
			if err != nil {
				slog.Error("stale sweep failed", "error", err)
				continue
			}
			if n > 0 {
				recordStaleReclaimed(n)
				slog.Warn("reclaimed stale delivering rows", "count", n, "older_than", cutoff)
			}
		}
	}
}

func (w *Worker) runStats(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			stats, err := w.repo.Stats(ctx)
			if err != nil {
				slog.Error("failed to get queue stats", "error", err)
				continue
			}
			RecordQueueStats(stats)
		}
	}
}
