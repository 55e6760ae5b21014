// Package scheduler owns the process-wide tickers: the evaluation
// tick, the notification log purge and the empty-schedule sweep. The
// engine itself never reads the clock; every tick hands it an explicit
// instant so the timezone math stays testable.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Engine runs one evaluation pass.
type Engine interface {
	EvaluateTick(ctx context.Context, nowUTC time.Time) (int, error)
}

// Maintainer is the maintenance slice of the repositories.
type Maintainer interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TokenPurger removes expired refresh tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deactivates schedules that ran dry.
type Sweeper interface {
	DeactivateEmpty(ctx context.Context) (int64, error)
}

// Options carry the tick intervals, all env-tunable.
type Options struct {
	TickInterval        time.Duration // evaluation cadence, default 60s
	MaintenanceInterval time.Duration // purge cadence, default 24h
	SweepInterval       time.Duration // deactivation sweep cadence, default 1h
	LogRetention        time.Duration // log retention horizon, default 90 days
}

// Scheduler drives the background loops.
type Scheduler struct {
	engine  Engine
	logs    Maintainer
	tokens  TokenPurger
	sweeper Sweeper
	log     *zap.Logger
	opts    Options

	ticking atomic.Bool
}

func New(engine Engine, logs Maintainer, tokens TokenPurger, sweeper Sweeper, log *zap.Logger, opts Options) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 60 * time.Second
	}
	if opts.MaintenanceInterval <= 0 {
		opts.MaintenanceInterval = 24 * time.Hour
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Hour
	}
	if opts.LogRetention <= 0 {
		opts.LogRetention = 90 * 24 * time.Hour
	}
	return &Scheduler{engine: engine, logs: logs, tokens: tokens, sweeper: sweeper, log: log, opts: opts}
}

// Run blocks until ctx is cancelled, firing the evaluation tick, the
// maintenance purge and the deactivation sweep on their intervals. A
// tick that is still running when the next interval fires is skipped;
// the per-schedule locks make overlap safe, but skipping is cheaper
// than piling up goroutines behind a slow database.
func (s *Scheduler) Run(ctx context.Context) {
	tick := time.NewTicker(s.opts.TickInterval)
	maint := time.NewTicker(s.opts.MaintenanceInterval)
	sweep := time.NewTicker(s.opts.SweepInterval)
	defer tick.Stop()
	defer maint.Stop()
	defer sweep.Stop()

	s.log.Info("scheduler started",
		zap.Duration("tick_interval", s.opts.TickInterval),
		zap.Duration("maintenance_interval", s.opts.MaintenanceInterval),
		zap.Duration("sweep_interval", s.opts.SweepInterval))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-tick.C:
			s.runTick(ctx)
		case <-maint.C:
			s.runMaintenance(ctx)
		case <-sweep.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runTick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Warn("previous evaluation tick still running, skipping")
		return
	}
	go func() {
		defer s.ticking.Store(false)
		start := time.Now()
		sent, err := s.engine.EvaluateTick(ctx, start.UTC())
		if err != nil {
			s.log.Error("evaluation tick failed", zap.Error(err))
			return
		}
		if sent > 0 {
			s.log.Info("evaluation tick complete",
				zap.Int("dispatched", sent),
				zap.Duration("took", time.Since(start)))
		}
	}()
}

func (s *Scheduler) runMaintenance(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.opts.LogRetention)
	purged, err := s.logs.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		s.log.Error("notification log purge failed", zap.Error(err))
	} else if purged > 0 {
		s.log.Info("notification logs purged",
			zap.Int64("rows", purged),
			zap.Time("cutoff", cutoff))
	}

	if s.tokens != nil {
		removed, err := s.tokens.PurgeExpired(ctx, time.Now().UTC())
		if err != nil {
			s.log.Error("refresh token purge failed", zap.Error(err))
		} else if removed > 0 {
			s.log.Info("expired refresh tokens purged", zap.Int64("rows", removed))
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	n, err := s.sweeper.DeactivateEmpty(ctx)
	if err != nil {
		s.log.Error("deactivation sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.log.Info("empty schedules deactivated", zap.Int64("count", n))
	}
}
