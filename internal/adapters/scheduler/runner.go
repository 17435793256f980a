// Package scheduler hosts the tick-driven runner that drives the scheduler
// core: one loop evaluating due jobs, one loop reporting heartbeats.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mealdesk/mealdesk-api/internal/service"
)

// Runner drives a SchedulerService until its context is cancelled.
type Runner struct {
	core *service.SchedulerService

	tickInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// RunnerConfig holds loop cadences.
type RunnerConfig struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
}

// NewRunner creates a runner around the scheduler core.
func NewRunner(core *service.SchedulerService, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 15 * time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	return &Runner{
		core:              core,
		tickInterval:      cfg.TickInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		logger:            logger.With("component", "scheduler_runner"),
	}
}

// Run registers the instance and blocks until ctx is cancelled. The instance
// is marked stopped on the way out even when the context is already dead.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.core.Seed(ctx); err != nil {
		return err
	}
	if err := r.core.Start(ctx); err != nil {
		return err
	}
	r.logger.Info("scheduler running", "instance_id", r.core.InstanceID())

	g, loopCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.tickLoop(loopCtx) })
	g.Go(func() error { return r.heartbeatLoop(loopCtx) })
	err := g.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if stopErr := r.core.Stop(stopCtx); stopErr != nil {
		r.logger.Warn("failed to mark instance stopped", "error", stopErr)
	}

	if err != nil && ctx.Err() != nil {
		// Shutdown, not failure.
		return nil
	}
	return err
}

func (r *Runner) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fired, err := r.core.RunDueJobs(ctx)
			if err != nil {
				r.logger.Error("tick failed", "error", err)
				continue
			}
			if fired > 0 {
				r.logger.Debug("tick fired jobs", "count", fired)
			}
		}
	}
}

func (r *Runner) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.core.Heartbeat(ctx); err != nil {
				r.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}
