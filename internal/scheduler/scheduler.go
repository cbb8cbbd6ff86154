// Package scheduler runs the background jobs that move markets through their
// lifecycle: schedule ingestion, the close and settle sweeps, and the ledger
// archive. Every job runs under a named lease so that only one replica
// performs it at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polyjacket/internal/domain"
)

// LifecycleSweeper closes markets whose games have started.
type LifecycleSweeper interface {
	SweepLifecycle(ctx context.Context, now time.Time) (int, error)
}

// SettlementSweeper settles closed markets with a recorded score.
type SettlementSweeper interface {
	SweepSettlements(ctx context.Context) (int, error)
}

// Config holds the job intervals.
type Config struct {
	IngestInterval time.Duration
	SweepInterval  time.Duration
	ArchiveCron    string
	// LeaseTTL bounds how long a crashed replica can keep a job to itself.
	LeaseTTL time.Duration
}

// SweepReport summarises one close-then-settle pass.
type SweepReport struct {
	Closed  int
	Settled int
}

// Scheduler owns the background loops.
type Scheduler struct {
	ingester    *Ingester
	lifecycle   LifecycleSweeper
	settlements SettlementSweeper
	archive     *ArchiveJob
	locks       domain.LockManager
	cfg         Config
	now         func() time.Time
	logger      *slog.Logger
}

// New creates a Scheduler. ingester and archive may be nil to disable those
// jobs.
func New(
	ingester *Ingester,
	lifecycle LifecycleSweeper,
	settlements SettlementSweeper,
	archive *ArchiveJob,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &Scheduler{
		ingester:    ingester,
		lifecycle:   lifecycle,
		settlements: settlements,
		archive:     archive,
		locks:       locks,
		cfg:         cfg,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger.With(slog.String("component", "scheduler")),
	}
}

// Run starts every enabled loop and blocks until ctx is cancelled or a loop
// fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "scheduler starting",
		slog.Duration("ingest_interval", s.cfg.IngestInterval),
		slog.Duration("sweep_interval", s.cfg.SweepInterval),
		slog.String("archive_cron", s.cfg.ArchiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if s.ingester != nil {
		g.Go(func() error {
			return s.every(ctx, "ingest", s.cfg.IngestInterval, func(ctx context.Context) error {
				_, err := s.ingester.Run(ctx)
				return err
			})
		})
	}

	g.Go(func() error {
		return s.every(ctx, "sweep", s.cfg.SweepInterval, func(ctx context.Context) error {
			_, err := s.Sweep(ctx)
			return err
		})
	})

	if s.archive != nil && s.cfg.ArchiveCron != "" {
		g.Go(func() error {
			return s.cron(ctx, "archive", s.cfg.ArchiveCron, func(ctx context.Context) error {
				_, err := s.archive.Run(ctx)
				return err
			})
		})
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("scheduler stopped cleanly")
	return nil
}

// Sweep closes due markets, then settles closed markets that have a score.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	closed, cerr := s.lifecycle.SweepLifecycle(ctx, s.now())
	report.Closed = closed
	settled, serr := s.settlements.SweepSettlements(ctx)
	report.Settled = settled
	return report, errors.Join(cerr, serr)
}

// Ingest runs one ingestion pass outside the loop.
func (s *Scheduler) Ingest(ctx context.Context) (IngestReport, error) {
	if s.ingester == nil {
		return IngestReport{}, fmt.Errorf("scheduler: ingestion disabled")
	}
	return s.ingester.Run(ctx)
}

// every runs job immediately and then on each tick. Job failures are logged
// and the loop carries on.
func (s *Scheduler) every(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: %s interval %v", name, interval)
	}
	s.leased(ctx, name, job)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.leased(ctx, name, job)
		}
	}
}

func (s *Scheduler) cron(ctx context.Context, name, expr string, job func(context.Context) error) error {
	cs, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("scheduler: %s cron %q: %w", name, expr, err)
	}
	for {
		next, err := cs.next(s.now())
		if err != nil {
			return fmt.Errorf("scheduler: %s cron %q: %w", name, expr, err)
		}
		s.logger.InfoContext(ctx, "waiting for next cron trigger",
			slog.String("job", name),
			slog.Time("next_run", next),
		)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			s.leased(ctx, name, job)
		}
	}
}

// leased runs job if this replica can take the job's lease.
func (s *Scheduler) leased(ctx context.Context, name string, job func(context.Context) error) {
	unlock, err := s.locks.Acquire(ctx, "scheduler:"+name, s.cfg.LeaseTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		s.logger.DebugContext(ctx, "job held by another replica", slog.String("job", name))
		return
	}
	if err != nil {
		s.logger.WarnContext(ctx, "acquire job lease failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return
	}
	defer unlock()

	start := time.Now()
	if err := job(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.DebugContext(ctx, "job finished",
		slog.String("job", name),
		slog.Duration("took", time.Since(start)),
	)
}
