package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

func newTestScheduler(repo *fakeSchedulerRepo, tp data.TimeProvider) *SchedulerService {
	return NewSchedulerService(
		nil, repo, &fakeDispatcher{}, NewJobRegistry(),
		SchedulerConfig{InstanceName: "test-1"},
		tp, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func strPtr(s string) *string { return &s }

func TestJobRegistry(t *testing.T) {
	r := NewJobRegistry()

	_, ok := r.Resolve("missing")
	assert.False(t, ok)

	r.Register(model.TaskFunction{Key: "demo", FunctionPath: "service.Demo"}, func(context.Context) (string, error) {
		return "ran", nil
	})

	fn, ok := r.Resolve("demo")
	require.True(t, ok)
	summary, err := fn(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ran", summary)

	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "demo", defs[0].Key)
}

func TestSchedulerService_Evaluate_Interval(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

	t.Run("never run fires immediately", func(t *testing.T) {
		job := &model.ScheduledJob{ID: "j1", JobType: model.JobTypeInterval, IntervalMinutes: 5}
		due, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
		assert.Equal(t, now, due)
	})

	t.Run("due once the interval elapses", func(t *testing.T) {
		last := now.Add(-6 * time.Minute)
		job := &model.ScheduledJob{ID: "j1", JobType: model.JobTypeInterval, IntervalMinutes: 5, LastRunAt: &last}
		due, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
		assert.Equal(t, last.Add(5*time.Minute), due)
	})

	t.Run("not yet due", func(t *testing.T) {
		last := now.Add(-3 * time.Minute)
		job := &model.ScheduledJob{ID: "j1", JobType: model.JobTypeInterval, IntervalMinutes: 5, LastRunAt: &last}
		_, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.False(t, isDue)
	})

	t.Run("zero interval is a validation error", func(t *testing.T) {
		job := &model.ScheduledJob{ID: "j1", JobType: model.JobTypeInterval}
		_, _, err := svc.evaluate(context.Background(), job, now)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestSchedulerService_Evaluate_Cron(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 30, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

	t.Run("next firing after last run", func(t *testing.T) {
		last := time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC)
		job := &model.ScheduledJob{
			ID: "j2", JobType: model.JobTypeCron,
			CronExpression: strPtr("0 * * * *"), // hourly on the hour
			LastRunAt:      &last,
		}
		due, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
		assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), due)
	})

	t.Run("first firing comes from created_at", func(t *testing.T) {
		job := &model.ScheduledJob{
			ID: "j2", JobType: model.JobTypeCron,
			CronExpression: strPtr("0 * * * *"),
			CreatedAt:      time.Date(2026, 5, 1, 11, 30, 0, 0, time.UTC),
		}
		due, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
		assert.Equal(t, time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC), due)
	})

	t.Run("future firing is not due", func(t *testing.T) {
		last := now.Add(-time.Minute)
		job := &model.ScheduledJob{
			ID: "j2", JobType: model.JobTypeCron,
			CronExpression: strPtr("0 0 * * *"), // daily at midnight
			LastRunAt:      &last,
		}
		_, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.False(t, isDue)
	})

	t.Run("missing expression is a validation error", func(t *testing.T) {
		job := &model.ScheduledJob{ID: "j2", JobType: model.JobTypeCron}
		_, _, err := svc.evaluate(context.Background(), job, now)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})

	t.Run("invalid expression is a validation error", func(t *testing.T) {
		job := &model.ScheduledJob{ID: "j2", JobType: model.JobTypeCron, CronExpression: strPtr("not cron")}
		_, _, err := svc.evaluate(context.Background(), job, now)
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
	})
}

func TestSchedulerService_Evaluate_UnknownType(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestScheduler(newFakeSchedulerRepo(), data.NewFixedTimeProvider(now))

	job := &model.ScheduledJob{ID: "j3", JobType: "weekly"}
	_, _, err := svc.evaluate(context.Background(), job, now)
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestSchedulerService_Evaluate_Misfire(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("missed beyond grace is skipped and realigned", func(t *testing.T) {
		repo := newFakeSchedulerRepo()
		svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

		last := now.Add(-20 * time.Minute)
		job := &model.ScheduledJob{
			ID: "j4", JobType: model.JobTypeInterval,
			IntervalMinutes: 5, LastRunAt: &last,
			MisfireGraceTime: 60, // seconds
		}
		_, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.False(t, isDue)
		// The skipped firing realigns last_run so the job does not stay
		// permanently overdue.
		assert.Equal(t, now, repo.lastRun["j4"])
	})

	t.Run("coalescing job fires once for all missed runs", func(t *testing.T) {
		repo := newFakeSchedulerRepo()
		svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

		last := now.Add(-20 * time.Minute)
		job := &model.ScheduledJob{
			ID: "j4", JobType: model.JobTypeInterval,
			IntervalMinutes: 5, LastRunAt: &last,
			MisfireGraceTime: 60,
			Coalesce:         true,
		}
		due, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
		assert.Equal(t, last.Add(5*time.Minute), due)
		assert.Empty(t, repo.lastRun)
	})

	t.Run("within grace fires normally", func(t *testing.T) {
		repo := newFakeSchedulerRepo()
		svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

		last := now.Add(-5*time.Minute - 30*time.Second)
		job := &model.ScheduledJob{
			ID: "j4", JobType: model.JobTypeInterval,
			IntervalMinutes: 5, LastRunAt: &last,
			MisfireGraceTime: 60,
		}
		_, isDue, err := svc.evaluate(context.Background(), job, now)
		require.NoError(t, err)
		assert.True(t, isDue)
	})
}

func TestSchedulerService_TriggerNow_Guards(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("unknown job", func(t *testing.T) {
		svc := newTestScheduler(newFakeSchedulerRepo(), data.NewFixedTimeProvider(now))
		_, err := svc.TriggerNow(context.Background(), "nope", "admin")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("inactive job reads as not found", func(t *testing.T) {
		repo := newFakeSchedulerRepo(&model.ScheduledJob{ID: "j5", IsActive: false})
		svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))
		_, err := svc.TriggerNow(context.Background(), "j5", "admin")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("active execution blocks the trigger", func(t *testing.T) {
		repo := newFakeSchedulerRepo(&model.ScheduledJob{ID: "j5", IsActive: true})
		repo.activeID = "exec-live"
		svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))
		_, err := svc.TriggerNow(context.Background(), "j5", "admin")
		require.Error(t, err)
		assert.True(t, apperrors.IsValidation(err))
		assert.Contains(t, err.Error(), "exec-live")
	})
}

func TestSchedulerService_Dispatch_HandoffKeepsLease(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	d := &fakeDispatcher{result: ports.DispatchResult{Outcome: ports.DispatchHandedOff, TaskID: "task-9"}}
	svc := NewSchedulerService(
		nil, repo, d, NewJobRegistry(),
		SchedulerConfig{}, data.NewFixedTimeProvider(now), slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	job := &model.ScheduledJob{ID: "j6", TaskKey: TaskAttendanceSync}
	svc.dispatch(context.Background(), job, "exec-1", nil)

	// A queued execution stays running under its lease; the terminal status
	// comes from the external worker, not the enqueue.
	assert.Equal(t, "Dispatched to queue (id=task-9)", repo.handoffs["exec-1"])
	assert.Empty(t, repo.completed)
	assert.Empty(t, repo.released)
}

func TestSchedulerService_Dispatch_InProcessCompletion(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	d := &fakeDispatcher{result: ports.DispatchResult{
		Outcome: ports.DispatchCompleted, Succeeded: true, Summary: "done",
	}}
	svc := NewSchedulerService(
		nil, repo, d, NewJobRegistry(),
		SchedulerConfig{}, data.NewFixedTimeProvider(now), slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	job := &model.ScheduledJob{ID: "j6", TaskKey: TaskAttendanceSync}
	svc.dispatch(context.Background(), job, "exec-2", nil)

	require.Len(t, repo.completed, 1)
	assert.Equal(t, "exec-2", repo.completed[0].ExecutionID)
	assert.Equal(t, model.ExecutionStatusID(model.ExecutionStatusSuccess), repo.completed[0].StatusID)
	require.NotNil(t, repo.completed[0].ResultSummary)
	assert.Equal(t, "done", *repo.completed[0].ResultSummary)
	assert.Equal(t, []string{"j6/exec-2"}, repo.released)
}

func TestSchedulerService_Dispatch_TimeoutPerPath(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	d := &fakeDispatcher{result: ports.DispatchResult{Outcome: ports.DispatchCompleted, Succeeded: true}}
	svc := NewSchedulerService(
		nil, repo, d, NewJobRegistry(),
		SchedulerConfig{}, data.NewFixedTimeProvider(now), slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	job := &model.ScheduledJob{ID: "j6", TaskKey: TaskAttendanceSync}
	svc.dispatch(context.Background(), job, "exec-3", nil)
	svc.dispatch(context.Background(), job, "exec-4", strPtr("admin"))

	require.Len(t, d.requests, 2)
	// Periodic firings run unbounded; manual triggers get the default wall clock.
	assert.Zero(t, d.requests[0].Timeout)
	assert.Equal(t, 15*time.Second, d.requests[1].Timeout)
}

func TestSchedulerService_ContendedTriggerPersistsFailure(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

	svc.failContended(context.Background(), "exec-5")

	require.Len(t, repo.completed, 1)
	p := repo.completed[0]
	assert.Equal(t, "exec-5", p.ExecutionID)
	assert.Equal(t, model.ExecutionStatusID(model.ExecutionStatusFailed), p.StatusID)
	require.NotNil(t, p.ErrorMessage)
	assert.Equal(t, "lock held", *p.ErrorMessage)
	// The losing trigger never held the lease.
	assert.Empty(t, repo.released)
}

func TestSchedulerService_Maintain(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	repo.releasedLocks = 3
	repo.staleInstances = 1
	svc := newTestScheduler(repo, data.NewFixedTimeProvider(now))

	summary, err := svc.Maintain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "released 3 expired locks, marked 1 stale instances", summary)
}

func TestSchedulerService_PurgeHistory(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo := newFakeSchedulerRepo()
	repo.purged = 42
	svc := NewSchedulerService(
		nil, repo, &fakeDispatcher{}, NewJobRegistry(),
		SchedulerConfig{HistoryRetention: 30 * 24 * time.Hour},
		data.NewFixedTimeProvider(now), slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	summary, err := svc.PurgeHistory(context.Background())
	require.NoError(t, err)
	cutoff := now.Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	assert.Equal(t, "purged 42 executions older than "+cutoff, summary)
}

func TestNewSchedulerService_Defaults(t *testing.T) {
	svc := NewSchedulerService(nil, newFakeSchedulerRepo(), &fakeDispatcher{}, NewJobRegistry(),
		SchedulerConfig{}, nil, nil)

	assert.NotEmpty(t, svc.InstanceID())
	assert.Equal(t, 5*time.Minute, svc.cfg.LockTTL)
	assert.Equal(t, 15*time.Second, svc.cfg.TriggerTimeout)
	assert.Equal(t, 2*time.Minute, svc.cfg.StaleAfter)
	assert.Equal(t, model.SchedulerModeEmbedded, svc.cfg.Mode)
	assert.NotEmpty(t, svc.cfg.InstanceName)
}
