// Package control runs the engine's three background control loops (spec
// §4.9): tick, prune (which also expires stale open orders), audit — each guarded by the leader lock so only one
// instance in a multi-process deployment executes side effects. Scheduling
// uses robfig/cron's "@every" specs; the loops themselves are supervised by
// golang.org/x/sync/errgroup, following the start/stop/context-cancel shape
// of the teacher's internal/risk.Reconciler.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"mockexchange/internal/core"
	"mockexchange/internal/engine"
	"mockexchange/internal/leader"
)

// Periods configures the three loop cadences and the prune/expire ages
// (spec §6.3).
type Periods struct {
	Tick  time.Duration
	Prune time.Duration
	Audit time.Duration

	StaleAge  time.Duration
	ExpireAge time.Duration
}

// Supervisor owns the cron scheduler and the leader-gated loop bodies.
type Supervisor struct {
	engine  *engine.Engine
	elector *leader.Elector
	logger  core.Logger
	periods Periods

	cron *cron.Cron
}

// New builds a Supervisor. Call Run to start the leader loop and the cron
// scheduler together.
func New(eng *engine.Engine, elector *leader.Elector, logger core.Logger, periods Periods) *Supervisor {
	return &Supervisor{
		engine:  eng,
		elector: elector,
		logger:  logger,
		periods: periods,
		cron:    cron.New(),
	}
}

// Run blocks until ctx is canceled, running the leader-election loop and
// the three cron-scheduled control loops under one errgroup.
func (s *Supervisor) Run(ctx context.Context, symbolsFn func(context.Context) ([]string, error)) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		s.elector.Run(gctx)
		return nil
	})

	if _, err := s.cron.AddFunc(everySpec(s.periods.Tick), func() {
		s.runIfLeader("tick", func() error { return s.tickOnce(gctx, symbolsFn) })
	}); err != nil {
		return fmt.Errorf("failed to schedule tick loop: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.periods.Prune), func() {
		s.runIfLeader("prune", func() error { return s.pruneOnce(gctx) })
	}); err != nil {
		return fmt.Errorf("failed to schedule prune loop: %w", err)
	}
	if _, err := s.cron.AddFunc(everySpec(s.periods.Audit), func() {
		s.runIfLeader("audit", func() error { return s.auditOnce(gctx) })
	}); err != nil {
		return fmt.Errorf("failed to schedule audit loop: %w", err)
	}

	s.cron.Start()
	group.Go(func() error {
		<-gctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
		return nil
	})

	return group.Wait()
}

func everySpec(d time.Duration) string { return "@every " + d.String() }

// runIfLeader swallows and logs every loop error so a single failure never
// stops the scheduler (spec §4.9: "All loops swallow and log errors to
// keep running").
func (s *Supervisor) runIfLeader(name string, fn func() error) {
	if !s.elector.IsLeader() {
		return
	}
	start := time.Now()
	if err := fn(); err != nil && s.logger != nil {
		s.logger.Error("control loop failed", "loop", name, "error", err)
	}
	if s.logger != nil {
		s.logger.Debug("control loop finished", "loop", name, "duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *Supervisor) tickOnce(ctx context.Context, symbolsFn func(context.Context) ([]string, error)) error {
	symbols, err := symbolsFn(ctx)
	if err != nil {
		return err
	}
	for _, symbol := range symbols {
		if err := s.engine.ProcessPriceTick(ctx, symbol); err != nil && s.logger != nil {
			s.logger.Error("tick failed for symbol", "symbol", symbol, "error", err)
		}
	}
	return nil
}

func (s *Supervisor) pruneOnce(ctx context.Context) error {
	if _, err := s.engine.PruneOrdersOlderThan(ctx, s.periods.StaleAge.Milliseconds()); err != nil {
		return err
	}
	if _, err := s.engine.ExpireOrdersOlderThan(ctx, s.periods.ExpireAge.Milliseconds()); err != nil {
		return err
	}
	return nil
}

func (s *Supervisor) auditOnce(ctx context.Context) error {
	mismatches, err := s.engine.CheckConsistency(ctx)
	if err != nil {
		return err
	}
	if len(mismatches) > 0 && s.logger != nil {
		for _, m := range mismatches {
			s.logger.Warn("consistency mismatch", "detail", m.String())
		}
	}
	return nil
}
