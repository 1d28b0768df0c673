package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"prohappy_backend/internal/logger"
	"prohappy_backend/internal/models"
	"prohappy_backend/internal/repositories"
	"prohappy_backend/internal/transport"

	"github.com/robfig/cron/v3"
)

const (
	DefaultSchedule        = "@every 10m"
	DefaultBatchSize       = 20
	DefaultMaxRedeliveries = 5

	workerName = "redelivery"
	runTimeout = 4 * time.Minute
)

// Store finds records eligible for another delivery.
type Store interface {
	FindRedeliverable(ctx context.Context, limit, maxRedeliveries int) ([]models.SubmissionRecord, error)
}

// Redeliverer resends a stored payload and updates the record.
type Redeliverer interface {
	Redeliver(ctx context.Context, rec *models.SubmissionRecord) (transport.Outcome, error)
}

type RedeliveryConfig struct {
	Schedule        string
	BatchSize       int
	MaxRedeliveries int
}

// RunStats summarises one pass.
type RunStats struct {
	Found     int
	Delivered int
	Failed    int
	Skipped   int // claimed by a user retry in the meantime
}

// RedeliveryWorker periodically resends failed submissions whose failure was
// transient (server or network).
type RedeliveryWorker struct {
	store       Store
	redeliverer Redeliverer
	cfg         RedeliveryConfig

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func NewRedeliveryWorker(store Store, redeliverer Redeliverer, cfg RedeliveryConfig) *RedeliveryWorker {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRedeliveries <= 0 {
		cfg.MaxRedeliveries = DefaultMaxRedeliveries
	}
	return &RedeliveryWorker{store: store, redeliverer: redeliverer, cfg: cfg}
}

// Start запускает расписание; повторный вызов ничего не делает
func (w *RedeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	runCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(w.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(runCtx, runTimeout)
		defer cancel()
		if _, err := w.RunOnce(ctx); err != nil {
			logger.WorkerLog(workerName, "run", err)
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("invalid redelivery schedule %q: %w", w.cfg.Schedule, err)
	}

	w.cron, w.cancel = c, cancel
	c.Start()
	logger.Info("Redelivery worker started",
		"schedule", w.cfg.Schedule,
		"batch_size", w.cfg.BatchSize,
		"max_redeliveries", w.cfg.MaxRedeliveries)
	return nil
}

// Stop cancels an in-flight run and waits for it to return.
func (w *RedeliveryWorker) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	logger.Info("Redelivery worker stopped")
}

// RunOnce redelivers one batch of eligible records.
func (w *RedeliveryWorker) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats

	records, err := w.store.FindRedeliverable(ctx, w.cfg.BatchSize, w.cfg.MaxRedeliveries)
	if err != nil {
		return stats, fmt.Errorf("find redeliverable: %w", err)
	}
	stats.Found = len(records)

	for i := range records {
		rec := &records[i]
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		out, err := w.redeliverer.Redeliver(ctx, rec)
		if errors.Is(err, repositories.ErrSubmissionClaimed) {
			stats.Skipped++
			logger.With("worker", workerName, "submission_id", rec.ID).Debug("Record already claimed, skipping")
			continue
		}
		if err != nil {
			stats.Failed++
			logger.WorkerLog(workerName, "redeliver "+rec.ID, err)
			continue
		}
		if out.Success {
			stats.Delivered++
		} else {
			stats.Failed++
		}
	}

	if stats.Found > 0 {
		logger.With("worker", workerName).Info("Redelivery pass finished",
			"found", stats.Found,
			"delivered", stats.Delivered,
			"failed", stats.Failed,
			"skipped", stats.Skipped)
	}
	return stats, nil
}
