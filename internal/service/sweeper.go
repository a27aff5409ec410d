package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Ayi456/panel-link/internal/config"
)

const (
	defaultSweepBatchSize = 1000
	defaultSweepRetention = 30 * 24 * time.Hour

	// sweepBatchPause bounds the load a long backlog drain puts on the store.
	sweepBatchPause = 100 * time.Millisecond
)

// SweepOptions bound a single expiry sweep. Zero fields fall back to defaults.
type SweepOptions struct {
	// Retention is how long expired links are kept, measured from creation.
	Retention time.Duration
	// BatchSize bounds each physical-deletion batch.
	BatchSize int
}

// SweepResult reports what a sweep did.
type SweepResult struct {
	// Marked is the number of links flipped to expired in the logical phase.
	Marked int64
	// Deleted is the total number of links physically removed.
	Deleted int64
	// Duration is the wall-clock time the sweep took.
	Duration time.Duration
}

// RunExpirySweep runs the two sweep phases once: a bulk flip of every overdue
// active link, then bounded deletion batches of links expired past the
// retention window, looping until the backlog is drained. The phases have no
// ordering dependency across runs and may overlap with request traffic.
//
// Cache entries are not scanned; they self-expire through their own TTL.
func (s *LinkService) RunExpirySweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	const op = "service.LinkService.RunExpirySweep"

	if opts.Retention <= 0 {
		opts.Retention = defaultSweepRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultSweepBatchSize
	}

	start := time.Now()
	now := s.now()
	var res SweepResult

	err := s.store(ctx, func(ctx context.Context) error {
		var err error
		res.Marked, err = s.repo.MarkAllExpired(ctx, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: logical expiry failed: %w", op, err)
	}

	cutoff := now.Add(-opts.Retention)

	for {
		var n int64
		err := s.store(ctx, func(ctx context.Context) error {
			var err error
			n, err = s.repo.DeleteExpiredBatch(ctx, cutoff, opts.BatchSize)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s: physical deletion failed: %w", op, err)
		}

		res.Deleted += n

		// A short batch means the backlog is drained.
		if n < int64(opts.BatchSize) {
			break
		}

		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return &res, fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(sweepBatchPause):
		}
	}

	res.Duration = time.Since(start)
	return &res, nil
}

// Sweeper periodically runs the expiry sweep. It runs independently of
// request traffic and never blocks it.
type Sweeper struct {
	svc      *LinkService
	logger   *slog.Logger
	interval time.Duration
	opts     SweepOptions
}

func NewSweeper(svc *LinkService, logger *slog.Logger, cfg config.Sweeper) *Sweeper {
	return &Sweeper{
		svc:      svc,
		logger:   logger,
		interval: cfg.Interval,
		opts: SweepOptions{
			Retention: cfg.Retention,
			BatchSize: cfg.BatchSize,
		},
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			res, err := w.svc.RunExpirySweep(ctx, w.opts)
			if err != nil {
				w.logger.Error("expiry sweep failed", slog.Any("err", err))
				continue
			}

			if res.Marked > 0 || res.Deleted > 0 {
				w.logger.Info("expiry sweep completed",
					slog.Int64("marked", res.Marked),
					slog.Int64("deleted", res.Deleted),
					slog.Duration("duration", res.Duration))
			}
		}
	}
}
