package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// Built-in task function keys. These are seeded on startup and resolvable
// through the registry without any configuration.
const (
	TaskHRISReplication       = "hris_replication"
	TaskAttendanceSync        = "attendance_sync"
	TaskSchedulerCleanup      = "scheduler_cleanup"
	TaskExecutionHistoryPurge = "execution_history_purge"
	TaskRevokedTokenCleanup   = "revoked_token_cleanup"
)

// JobRegistry maps task function keys to executable Go functions plus the
// lookup metadata seeded into the store.
type JobRegistry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	fn  ports.JobFunc
	def model.TaskFunction
}

// NewJobRegistry creates an empty registry.
func NewJobRegistry() *JobRegistry {
	return &JobRegistry{entries: make(map[string]registryEntry)}
}

// Register binds a task function key to its implementation. Re-registering a
// key replaces the previous binding.
func (r *JobRegistry) Register(def model.TaskFunction, fn ports.JobFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Key] = registryEntry{fn: fn, def: def}
}

// Resolve returns the function bound to a key.
func (r *JobRegistry) Resolve(key string) (ports.JobFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[key]
	if !ok {
		return nil, false
	}
	return e.fn, true
}

// Definitions returns the metadata of every registered function, for seeding.
func (r *JobRegistry) Definitions() []model.TaskFunction {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]model.TaskFunction, 0, len(r.entries))
	for _, e := range r.entries {
		defs = append(defs, e.def)
	}
	return defs
}

// SchedulerService evaluates job triggers and fires due jobs exactly once
// across all instances. Exclusivity comes from the store, not from process
// coordination: a guarded lease insert either lands or loses.
type SchedulerService struct {
	db         *sql.DB
	repo       core.SchedulerRepository
	dispatcher ports.Dispatcher
	registry   *JobRegistry

	cfg          SchedulerConfig
	instanceID   string
	instanceName string
	hostName     string
	mode         model.SchedulerInstanceMode

	timeProvider data.TimeProvider
	logger       *slog.Logger
	cronParser   cron.Parser
}

// SchedulerConfig holds scheduler policy knobs.
type SchedulerConfig struct {
	InstanceName string
	Mode         model.SchedulerInstanceMode

	// LockTTL bounds a lease; a crashed executor's job becomes schedulable
	// again once it passes.
	LockTTL time.Duration
	// JobTimeout bounds in-process execution of periodic firings; zero means
	// unbounded, so long periodic jobs can run to completion.
	JobTimeout time.Duration
	// TriggerTimeout bounds in-process execution of manual triggers.
	TriggerTimeout time.Duration
	// StaleAfter is the heartbeat age past which an instance is declared dead.
	StaleAfter time.Duration
	// HistoryRetention bounds execution history kept by the purge job.
	HistoryRetention time.Duration
}

// NewSchedulerService creates the scheduler core.
func NewSchedulerService(
	db *sql.DB,
	repo core.SchedulerRepository,
	dispatcher ports.Dispatcher,
	registry *JobRegistry,
	cfg SchedulerConfig,
	tp data.TimeProvider,
	logger *slog.Logger,
) *SchedulerService {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Minute
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 15 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 2 * time.Minute
	}
	if cfg.HistoryRetention <= 0 {
		cfg.HistoryRetention = 30 * 24 * time.Hour
	}
	if cfg.Mode == "" {
		cfg.Mode = model.SchedulerModeEmbedded
	}
	host, _ := os.Hostname()
	if cfg.InstanceName == "" {
		cfg.InstanceName = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	return &SchedulerService{
		db:           db,
		repo:         repo,
		dispatcher:   dispatcher,
		registry:     registry,
		cfg:          cfg,
		instanceID:   uuid.NewString(),
		instanceName: cfg.InstanceName,
		hostName:     host,
		mode:         cfg.Mode,
		timeProvider: tp,
		logger:       logger.With("component", "scheduler"),
		cronParser: cron.NewParser(
			cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
		),
	}
}

// InstanceID returns this scheduler's identity, used as executor_id on
// executions and locks.
func (s *SchedulerService) InstanceID() string { return s.instanceID }

// Seed writes the lookup codes and registered task functions.
func (s *SchedulerService) Seed(ctx context.Context) error {
	return s.repo.SeedLookups(ctx, s.registry.Definitions())
}

// Start registers this instance as starting and flips it to running.
func (s *SchedulerService) Start(ctx context.Context) error {
	now := s.timeProvider.Now()
	err := s.repo.UpsertInstance(ctx, model.SchedulerInstance{
		ID:            s.instanceID,
		InstanceName:  s.instanceName,
		HostName:      s.hostName,
		ProcessID:     os.Getpid(),
		Mode:          s.mode,
		Status:        model.SchedulerStatusStarting,
		LastHeartbeat: now,
		StartedAt:     now,
	})
	if err != nil {
		return err
	}
	return s.repo.SetInstanceStatus(ctx, s.instanceID, model.SchedulerStatusRunning)
}

// Heartbeat reports this instance alive.
func (s *SchedulerService) Heartbeat(ctx context.Context) error {
	return s.repo.Heartbeat(ctx, s.instanceID, s.timeProvider.Now())
}

// Stop marks this instance stopped.
func (s *SchedulerService) Stop(ctx context.Context) error {
	return s.repo.SetInstanceStatus(ctx, s.instanceID, model.SchedulerStatusStopped)
}

// ListInstances returns every registered scheduler instance.
func (s *SchedulerService) ListInstances(ctx context.Context) ([]*model.SchedulerInstance, error) {
	return s.repo.ListInstances(ctx)
}

// ListExecutions returns recent execution history for a job.
func (s *SchedulerService) ListExecutions(ctx context.Context, jobID string, limit int) ([]*model.ScheduledJobExecution, error) {
	return s.repo.ListExecutions(ctx, jobID, limit)
}

// RunDueJobs evaluates every schedulable job once and fires those that are
// due. Returns the number fired. Called on every runner tick.
func (s *SchedulerService) RunDueJobs(ctx context.Context) (int, error) {
	jobs, err := s.repo.ListSchedulableJobs(ctx)
	if err != nil {
		return 0, err
	}
	now := s.timeProvider.Now()
	fired := 0
	for _, job := range jobs {
		scheduledAt, due, err := s.evaluate(ctx, job, now)
		if err != nil {
			s.logger.Warn("trigger evaluation failed", "job_id", job.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		started, err := s.fireJob(ctx, job, scheduledAt, nil)
		if err != nil {
			s.logger.Error("job firing failed", "job_id", job.ID, "task", job.TaskKey, "error", err)
			continue
		}
		if started {
			fired++
		}
	}
	return fired, nil
}

// evaluate computes whether a job is due at now and the instant it was
// scheduled for. Misfires past the grace window are skipped unless the job
// coalesces, in which case exactly one run covers all missed firings.
func (s *SchedulerService) evaluate(ctx context.Context, job *model.ScheduledJob, now time.Time) (time.Time, bool, error) {
	var due time.Time
	switch job.JobType {
	case model.JobTypeInterval:
		interval := job.IntervalDuration()
		if interval <= 0 {
			return time.Time{}, false, apperrors.Validationf("job %s has a zero interval", job.ID)
		}
		if job.LastRunAt == nil {
			due = now
		} else {
			due = job.LastRunAt.Add(interval)
		}
	case model.JobTypeCron:
		if job.CronExpression == nil || *job.CronExpression == "" {
			return time.Time{}, false, apperrors.Validationf("job %s has no cron expression", job.ID)
		}
		schedule, err := s.cronParser.Parse(*job.CronExpression)
		if err != nil {
			return time.Time{}, false, apperrors.Wrapf(err, apperrors.ErrCodeValidation,
				"job %s has an invalid cron expression", job.ID)
		}
		after := job.CreatedAt
		if job.LastRunAt != nil {
			after = *job.LastRunAt
		}
		due = schedule.Next(after)
	default:
		return time.Time{}, false, apperrors.Validationf("job %s has unknown type %q", job.ID, job.JobType)
	}

	if due.After(now) {
		return time.Time{}, false, nil
	}
	grace := time.Duration(job.MisfireGraceTime) * time.Second
	if grace > 0 && now.Sub(due) > grace && !job.Coalesce {
		// Missed beyond grace and not coalescing: drop the firing and realign.
		s.logger.Warn("misfire skipped", "job_id", job.ID, "task", job.TaskKey,
			"scheduled_at", due, "overdue", now.Sub(due).String())
		if err := s.repo.SetJobLastRun(ctx, job.ID, now); err != nil {
			s.logger.Warn("failed to realign misfired job", "job_id", job.ID, "error", err)
		}
		return time.Time{}, false, nil
	}
	return due, true, nil
}

// TriggerNow fires a job manually. A pending or running execution blocks the
// trigger; the validation error carries the live execution id so callers can
// watch it instead.
func (s *SchedulerService) TriggerNow(ctx context.Context, jobID, actorID string) (string, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if !job.IsActive {
		return "", apperrors.NotFoundf("job %s not found", jobID)
	}
	if activeID, found, err := s.repo.ActiveExecutionID(ctx, jobID); err != nil {
		return "", err
	} else if found {
		return "", apperrors.Validationf("job already has an active execution: %s", activeID)
	}

	executionID, started, err := s.fire(ctx, job, s.timeProvider.Now(), &actorID)
	if err != nil {
		return "", err
	}
	if !started {
		return "", apperrors.LockHeld("another instance holds the job lock")
	}
	return executionID, nil
}

// errLockContended rolls back the firing transaction when the lease insert
// loses the race.
var errLockContended = errors.New("job lock contended")

// fireJob applies the max_instances guard before firing.
func (s *SchedulerService) fireJob(
	ctx context.Context,
	job *model.ScheduledJob,
	scheduledAt time.Time,
	triggeredBy *string,
) (bool, error) {
	active, err := s.repo.CountActiveExecutions(ctx, job.ID)
	if err != nil {
		return false, err
	}
	maxInstances := job.MaxInstances
	if maxInstances <= 0 {
		maxInstances = 1
	}
	if active >= maxInstances {
		s.logger.Warn("max instances reached, skipping firing",
			"job_id", job.ID, "task", job.TaskKey, "active", active)
		return false, nil
	}
	_, started, err := s.fire(ctx, job, scheduledAt, triggeredBy)
	return started, err
}

// fire creates the execution row and lease in one transaction, then hands the
// work to the dispatcher. (false, nil) means another executor won the lease:
// periodic firings roll the execution back, manual triggers keep it as a
// failed row recording the contention.
func (s *SchedulerService) fire(
	ctx context.Context,
	job *model.ScheduledJob,
	scheduledAt time.Time,
	triggeredBy *string,
) (string, bool, error) {
	executionID := uuid.NewString()

	var contended bool
	err := pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		if _, txErr := s.repo.CreateExecutionTx(ctx, tx, model.CreateExecutionParams{
			JobID:       job.ID,
			ExecutionID: executionID,
			ScheduledAt: scheduledAt,
			StatusID:    model.ExecutionStatusID(model.ExecutionStatusPending),
			ExecutorID:  s.instanceID,
			HostName:    s.hostName,
			TriggeredBy: triggeredBy,
		}); txErr != nil {
			return txErr
		}
		acquired, txErr := s.repo.AcquireLockTx(ctx, tx, model.AcquireLockParams{
			JobID:       job.ID,
			ExecutionID: executionID,
			ExecutorID:  s.instanceID,
			HostName:    s.hostName,
			TTL:         s.cfg.LockTTL,
		})
		if txErr != nil {
			return txErr
		}
		if !acquired {
			if triggeredBy == nil {
				// Periodic firings never persist a contended execution.
				return errLockContended
			}
			contended = true
		}
		return nil
	}})
	if err != nil {
		if errors.Is(err, errLockContended) {
			return "", false, nil
		}
		return "", false, err
	}
	if contended {
		s.failContended(ctx, executionID)
		return executionID, false, nil
	}

	if err = s.repo.SetJobLastRun(ctx, job.ID, s.timeProvider.Now()); err != nil {
		s.logger.Warn("failed to record last run", "job_id", job.ID, "error", err)
	}

	s.dispatch(ctx, job, executionID, triggeredBy)
	return executionID, true, nil
}

// dispatch routes the execution and records the outcome. Handed-off work stays
// running and keeps its lease until the external worker writes the terminal
// status through the same completion path.
func (s *SchedulerService) dispatch(ctx context.Context, job *model.ScheduledJob, executionID string, triggeredBy *string) {
	timeout := s.cfg.JobTimeout
	if triggeredBy != nil {
		timeout = s.cfg.TriggerTimeout
	}
	result, err := s.dispatcher.Dispatch(ctx, ports.DispatchRequest{
		JobKey:      job.TaskKey,
		ExecutionID: executionID,
		TriggeredBy: triggeredBy,
		Timeout:     timeout,
	})
	if err != nil {
		s.complete(ctx, job.ID, executionID, false, "", err)
		return
	}

	switch result.Outcome {
	case ports.DispatchHandedOff:
		s.logger.Info("execution handed off",
			"job_id", job.ID, "task", job.TaskKey,
			"execution_id", executionID, "task_id", result.TaskID)
		note := fmt.Sprintf("Dispatched to queue (id=%s)", result.TaskID)
		if err := s.repo.RecordHandoff(ctx, executionID, note, s.timeProvider.Now()); err != nil {
			s.logger.Error("failed to record queue handoff",
				"execution_id", executionID, "error", err)
		}
	case ports.DispatchCompleted:
		s.complete(ctx, job.ID, executionID, result.Succeeded, result.Summary, result.Err)
	}
}

// failContended marks a manually triggered execution failed after losing the
// lease race. The losing trigger never held the lock, so there is nothing to
// release.
func (s *SchedulerService) failContended(ctx context.Context, executionID string) {
	msg := "lock held"
	if err := s.repo.CompleteExecution(ctx, model.CompleteExecutionParams{
		ExecutionID:  executionID,
		StatusID:     model.ExecutionStatusID(model.ExecutionStatusFailed),
		ErrorMessage: &msg,
	}); err != nil {
		s.logger.Error("failed to record contended trigger",
			"execution_id", executionID, "error", err)
	}
}

// complete writes the terminal execution state and releases the lease.
func (s *SchedulerService) complete(ctx context.Context, jobID, executionID string, succeeded bool, summary string, runErr error) {
	statusID := model.ExecutionStatusID(model.ExecutionStatusSuccess)
	var errMsg *string
	if !succeeded || runErr != nil {
		statusID = model.ExecutionStatusID(model.ExecutionStatusFailed)
		if runErr != nil {
			msg := runErr.Error()
			errMsg = &msg
		}
	}
	if err := s.repo.CompleteExecution(ctx, model.CompleteExecutionParams{
		ExecutionID:   executionID,
		StatusID:      statusID,
		ResultSummary: optString(summary),
		ErrorMessage:  errMsg,
	}); err != nil {
		s.logger.Error("failed to complete execution", "execution_id", executionID, "error", err)
	}
	if err := s.repo.ReleaseLock(ctx, jobID, executionID); err != nil {
		s.logger.Error("failed to release job lock", "job_id", jobID, "execution_id", executionID, "error", err)
	}
}

// MarkStarted implements ports.ExecutionStarter for the in-process route.
func (s *SchedulerService) MarkStarted(ctx context.Context, executionID string) error {
	return pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		return s.repo.MarkExecutionStartedTx(ctx, tx, executionID, s.timeProvider.Now())
	}})
}

// Maintain releases expired leases and marks dead instances. Registered as the
// scheduler_cleanup task.
func (s *SchedulerService) Maintain(ctx context.Context) (string, error) {
	now := s.timeProvider.Now()
	locks, err := s.repo.ReleaseExpiredLocks(ctx, now)
	if err != nil {
		return "", err
	}
	stale, err := s.repo.MarkStaleInstances(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("released %d expired locks, marked %d stale instances", locks, stale), nil
}

// PurgeHistory deletes execution rows past the retention window. Registered as
// the execution_history_purge task.
func (s *SchedulerService) PurgeHistory(ctx context.Context) (string, error) {
	cutoff := s.timeProvider.Now().Add(-s.cfg.HistoryRetention)
	n, err := s.repo.PurgeExecutionsBefore(ctx, cutoff)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("purged %d executions older than %s", n, cutoff.Format(time.RFC3339)), nil
}
