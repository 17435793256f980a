package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// SchedulerRepo provides database operations for jobs, executions, lease
// locks, scheduler instances, and the seeded lookup tables.
type SchedulerRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSchedulerRepo creates a new SchedulerRepo instance with the given database connection.
func NewSchedulerRepo(db *sql.DB) *SchedulerRepo {
	return &SchedulerRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSchedulerRepoWithTimeProvider creates a SchedulerRepo with a custom TimeProvider.
func NewSchedulerRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SchedulerRepo {
	return &SchedulerRepo{DB: db, timeProvider: tp}
}

// SeedLookups ensures the canonical job type codes, execution status codes,
// and task functions exist. Safe to run on every startup.
func (r *SchedulerRepo) SeedLookups(ctx context.Context, functions []model.TaskFunction) error {
	now := r.timeProvider.Now()

	jobTypes := []struct {
		id   int
		code model.JobTypeCode
	}{
		{1, model.JobTypeInterval},
		{2, model.JobTypeCron},
	}
	for _, jt := range jobTypes {
		_, err := r.DB.ExecContext(ctx, `
			INSERT INTO scheduled_job_types (id, code, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code
		`, jt.id, jt.code, now)
		if err != nil {
			return apperrors.MapDBError(err)
		}
	}

	statuses := []model.ExecutionStatusCode{
		model.ExecutionStatusPending,
		model.ExecutionStatusRunning,
		model.ExecutionStatusSuccess,
		model.ExecutionStatusFailed,
	}
	for _, code := range statuses {
		_, err := r.DB.ExecContext(ctx, `
			INSERT INTO scheduled_job_statuses (id, code, created_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code
		`, model.ExecutionStatusID(code), code, now)
		if err != nil {
			return apperrors.MapDBError(err)
		}
	}

	for _, fn := range functions {
		id := fn.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := r.DB.ExecContext(ctx, `
			INSERT INTO task_functions
			  (id, key, function_path, name_en, name_ar, description_en, description_ar, is_active, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8)
			ON CONFLICT (key) DO UPDATE SET
			  function_path = EXCLUDED.function_path,
			  name_en = EXCLUDED.name_en,
			  name_ar = EXCLUDED.name_ar,
			  description_en = EXCLUDED.description_en,
			  description_ar = EXCLUDED.description_ar,
			  is_active = TRUE
		`, id, fn.Key, fn.FunctionPath, fn.NameEn, fn.NameAr, fn.DescriptionEn, fn.DescriptionAr, now)
		if err != nil {
			return apperrors.MapDBError(err)
		}
	}
	return nil
}

const jobColumns = `
  j.id,
  j.task_function_id,
  tf.key,
  jt.code,
  j.interval_seconds,
  j.interval_minutes,
  j.interval_hours,
  j.interval_days,
  j.cron_expression,
  j.priority,
  j.max_instances,
  j.misfire_grace_time,
  j.coalesce,
  j.is_enabled,
  j.is_active,
  j.is_primary,
  j.last_run_at,
  j.created_at,
  j.updated_at
`

const jobFrom = `
	FROM scheduled_jobs j
	JOIN task_functions tf ON tf.id = j.task_function_id
	JOIN scheduled_job_types jt ON jt.id = j.job_type_id
`

const listSchedulableJobsQuery = `SELECT ` + jobColumns + jobFrom + `
	WHERE j.is_enabled = TRUE AND j.is_active = TRUE
	ORDER BY j.priority DESC, j.created_at DESC`

// ListSchedulableJobs returns enabled, active jobs in dispatch order.
func (r *SchedulerRepo) ListSchedulableJobs(ctx context.Context) ([]*model.ScheduledJob, error) {
	rows, err := r.DB.QueryContext(ctx, listSchedulableJobsQuery)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var jobs []*model.ScheduledJob
	for rows.Next() {
		job, scanErr := scanJob(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan job: %w", scanErr)
		}
		jobs = append(jobs, job)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return jobs, nil
}

// GetJob returns a job by id.
func (r *SchedulerRepo) GetJob(ctx context.Context, id string) (*model.ScheduledJob, error) {
	query := `SELECT ` + jobColumns + jobFrom + ` WHERE j.id = $1`
	job, err := scanJob(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return job, nil
}

// SetJobLastRun records the moment a firing was committed to.
func (r *SchedulerRepo) SetJobLastRun(ctx context.Context, jobID string, at time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE scheduled_jobs SET last_run_at = $2, updated_at = $2 WHERE id = $1`,
		jobID, at.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

const executionColumns = `
  id,
  job_id,
  execution_id,
  scheduled_at,
  started_at,
  completed_at,
  duration_ms,
  status_id,
  result_summary,
  error_message,
  error_trace,
  executor_id,
  host_name,
  triggered_by,
  created_at
`

// CreateExecutionTx inserts an execution row inside the firing transaction.
func (r *SchedulerRepo) CreateExecutionTx(
	ctx context.Context,
	tx *sql.Tx,
	p model.CreateExecutionParams,
) (*model.ScheduledJobExecution, error) {
	query := `
		INSERT INTO scheduled_job_executions
		  (id, job_id, execution_id, scheduled_at, status_id, executor_id, host_name, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + executionColumns
	row := tx.QueryRowContext(ctx, query,
		uuid.NewString(), p.JobID, p.ExecutionID, p.ScheduledAt.UTC(), p.StatusID,
		p.ExecutorID, p.HostName, p.TriggeredBy, r.timeProvider.Now(),
	)
	exec, err := scanExecution(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return exec, nil
}

// AcquireLockTx inserts a lease guarded by a NOT EXISTS predicate over active
// leases. Zero rows inserted means another executor holds the job; that is not
// an error, just contention.
func (r *SchedulerRepo) AcquireLockTx(ctx context.Context, tx *sql.Tx, p model.AcquireLockParams) (bool, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO scheduled_job_locks
		  (id, job_id, execution_id, executor_id, host_name, acquired_at, expires_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE NOT EXISTS (
		  SELECT 1 FROM scheduled_job_locks
		  WHERE job_id = $2 AND released_at IS NULL AND expires_at > $6
		)
	`
	res, err := tx.ExecContext(ctx, query,
		uuid.NewString(), p.JobID, p.ExecutionID, p.ExecutorID, p.HostName,
		now, now.Add(p.TTL),
	)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkExecutionStartedTx moves an execution to running and stamps started_at.
func (r *SchedulerRepo) MarkExecutionStartedTx(ctx context.Context, tx *sql.Tx, executionID string, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE scheduled_job_executions
		SET status_id = $2, started_at = $3
		WHERE execution_id = $1
	`, executionID, model.ExecutionStatusID(model.ExecutionStatusRunning), at.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// CompleteExecution writes a terminal status with completion bookkeeping.
// duration_ms is computed from started_at when present, else scheduled_at.
func (r *SchedulerRepo) CompleteExecution(ctx context.Context, p model.CompleteExecutionParams) error {
	now := r.timeProvider.Now()
	query := `
		UPDATE scheduled_job_executions
		SET status_id = $2,
		    completed_at = $3,
		    duration_ms = (EXTRACT(EPOCH FROM ($3::timestamptz - COALESCE(started_at, scheduled_at))) * 1000)::bigint,
		    result_summary = $4,
		    error_message = $5,
		    error_trace = $6
		WHERE execution_id = $1
	`
	res, err := r.DB.ExecContext(ctx, query,
		p.ExecutionID, p.StatusID, now, p.ResultSummary, p.ErrorMessage, p.ErrorTrace,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("execution %s not found", p.ExecutionID)
	}
	return nil
}

// RecordHandoff marks a queued execution running and appends the handoff note
// to result_summary. completed_at, duration_ms, and the lease are untouched;
// the external worker writes the terminal state through CompleteExecution.
func (r *SchedulerRepo) RecordHandoff(ctx context.Context, executionID, summary string, at time.Time) error {
	query := `
		UPDATE scheduled_job_executions
		SET status_id = $3,
		    started_at = COALESCE(started_at, $4),
		    result_summary = CASE
		      WHEN result_summary IS NULL OR result_summary = '' THEN $2
		      ELSE result_summary || E'\n' || $2
		    END
		WHERE execution_id = $1
	`
	res, err := r.DB.ExecContext(ctx, query,
		executionID, summary,
		model.ExecutionStatusID(model.ExecutionStatusRunning), at.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("execution %s not found", executionID)
	}
	return nil
}

// ReleaseLock sets released_at on the lease held for (job, execution).
func (r *SchedulerRepo) ReleaseLock(ctx context.Context, jobID, executionID string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_job_locks
		SET released_at = $3
		WHERE job_id = $1 AND execution_id = $2 AND released_at IS NULL
	`, jobID, executionID, r.timeProvider.Now())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// ActiveExecutionID returns the execution_id of a pending or running execution
// for the job, if any. Manual triggers surface this id in the duplicate error.
func (r *SchedulerRepo) ActiveExecutionID(ctx context.Context, jobID string) (string, bool, error) {
	query := `
		SELECT execution_id FROM scheduled_job_executions
		WHERE job_id = $1 AND status_id IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1
	`
	var executionID string
	err := r.DB.QueryRowContext(ctx, query, jobID,
		model.ExecutionStatusID(model.ExecutionStatusPending),
		model.ExecutionStatusID(model.ExecutionStatusRunning),
	).Scan(&executionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, apperrors.MapDBError(err)
	}
	return executionID, true, nil
}

// CountActiveExecutions counts pending and running executions for a job.
func (r *SchedulerRepo) CountActiveExecutions(ctx context.Context, jobID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM scheduled_job_executions
		WHERE job_id = $1 AND status_id IN ($2, $3)
	`
	var count int
	err := r.DB.QueryRowContext(ctx, query, jobID,
		model.ExecutionStatusID(model.ExecutionStatusPending),
		model.ExecutionStatusID(model.ExecutionStatusRunning),
	).Scan(&count)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return count, nil
}

const listExecutionsQuery = `SELECT ` + executionColumns + `
	FROM scheduled_job_executions
	WHERE job_id = $1
	ORDER BY scheduled_at DESC
	LIMIT $2`

// ListExecutions returns recent executions for a job, newest scheduled first.
func (r *SchedulerRepo) ListExecutions(ctx context.Context, jobID string, limit int) ([]*model.ScheduledJobExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, listExecutionsQuery, jobID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var executions []*model.ScheduledJobExecution
	for rows.Next() {
		exec, scanErr := scanExecution(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan execution: %w", scanErr)
		}
		executions = append(executions, exec)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return executions, nil
}

// UpsertInstance registers a scheduler process, keyed by instance id.
func (r *SchedulerRepo) UpsertInstance(ctx context.Context, inst model.SchedulerInstance) error {
	query := `
		INSERT INTO scheduler_instances
		  (id, instance_name, host_name, process_id, mode, status, last_heartbeat, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
		  instance_name = EXCLUDED.instance_name,
		  host_name = EXCLUDED.host_name,
		  process_id = EXCLUDED.process_id,
		  mode = EXCLUDED.mode,
		  status = EXCLUDED.status,
		  last_heartbeat = EXCLUDED.last_heartbeat,
		  started_at = EXCLUDED.started_at,
		  stopped_at = NULL
	`
	_, err := r.DB.ExecContext(ctx, query,
		inst.ID, inst.InstanceName, inst.HostName, inst.ProcessID,
		inst.Mode, inst.Status, inst.LastHeartbeat.UTC(), inst.StartedAt.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Heartbeat bumps last_heartbeat for a live instance.
func (r *SchedulerRepo) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE scheduler_instances SET last_heartbeat = $2 WHERE id = $1`,
		instanceID, at.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("scheduler instance %s not found", instanceID)
	}
	return nil
}

// SetInstanceStatus transitions an instance's lifecycle state. Moving to
// stopped stamps stopped_at.
func (r *SchedulerRepo) SetInstanceStatus(ctx context.Context, instanceID string, status model.SchedulerInstanceStatus) error {
	var stoppedAt any
	if status == model.SchedulerStatusStopped {
		stoppedAt = r.timeProvider.Now()
	}
	_, err := r.DB.ExecContext(ctx,
		`UPDATE scheduler_instances SET status = $2, stopped_at = $3 WHERE id = $1`,
		instanceID, status, stoppedAt,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// MarkStaleInstances flips instances with heartbeats older than the cutoff to
// stopped. Returns the number marked.
func (r *SchedulerRepo) MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduler_instances
		SET status = $2, stopped_at = $3
		WHERE last_heartbeat < $1 AND status IN ($4, $5, $6)
	`, olderThan.UTC(), model.SchedulerStatusStopped, r.timeProvider.Now(),
		model.SchedulerStatusStarting, model.SchedulerStatusRunning, model.SchedulerStatusPaused,
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ReleaseExpiredLocks sets released_at on leases past their expiry, making
// crashed executors' jobs schedulable again.
func (r *SchedulerRepo) ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE scheduled_job_locks
		SET released_at = $1
		WHERE released_at IS NULL AND expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ListInstances returns every registered scheduler instance.
func (r *SchedulerRepo) ListInstances(ctx context.Context) ([]*model.SchedulerInstance, error) {
	query := `
		SELECT id, instance_name, host_name, process_id, mode, status,
		       last_heartbeat, started_at, stopped_at
		FROM scheduler_instances
		ORDER BY started_at DESC
	`
	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var instances []*model.SchedulerInstance
	for rows.Next() {
		var (
			inst      model.SchedulerInstance
			stoppedAt sql.NullTime
		)
		scanErr := rows.Scan(
			&inst.ID, &inst.InstanceName, &inst.HostName, &inst.ProcessID,
			&inst.Mode, &inst.Status, &inst.LastHeartbeat, &inst.StartedAt, &stoppedAt,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan instance: %w", scanErr)
		}
		inst.LastHeartbeat = CoerceUTC(inst.LastHeartbeat)
		inst.StartedAt = CoerceUTC(inst.StartedAt)
		inst.StoppedAt = nullTimePtr(stoppedAt)
		instances = append(instances, &inst)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return instances, nil
}

// PurgeExecutionsBefore deletes execution history older than the cutoff.
func (r *SchedulerRepo) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		`DELETE FROM scheduled_job_executions WHERE created_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

func scanJob(row rowScanner) (*model.ScheduledJob, error) {
	var (
		j        model.ScheduledJob
		cronExpr sql.NullString
		lastRun  sql.NullTime
	)
	err := row.Scan(
		&j.ID, &j.TaskFunctionID, &j.TaskKey, &j.JobType,
		&j.IntervalSeconds, &j.IntervalMinutes, &j.IntervalHours, &j.IntervalDays,
		&cronExpr, &j.Priority, &j.MaxInstances, &j.MisfireGraceTime, &j.Coalesce,
		&j.IsEnabled, &j.IsActive, &j.IsPrimary, &lastRun, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	j.CronExpression = nullStringPtr(cronExpr)
	j.LastRunAt = nullTimePtr(lastRun)
	j.CreatedAt = CoerceUTC(j.CreatedAt)
	j.UpdatedAt = CoerceUTC(j.UpdatedAt)
	return &j, nil
}

func scanExecution(row rowScanner) (*model.ScheduledJobExecution, error) {
	var (
		e           model.ScheduledJobExecution
		startedAt   sql.NullTime
		completedAt sql.NullTime
		durationMS  sql.NullInt64
		summary     sql.NullString
		errMsg      sql.NullString
		errTrace    sql.NullString
		triggeredBy sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.JobID, &e.ExecutionID, &e.ScheduledAt, &startedAt, &completedAt,
		&durationMS, &e.StatusID, &summary, &errMsg, &errTrace,
		&e.ExecutorID, &e.HostName, &triggeredBy, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.StartedAt = nullTimePtr(startedAt)
	e.CompletedAt = nullTimePtr(completedAt)
	if durationMS.Valid {
		e.DurationMS = &durationMS.Int64
	}
	e.ResultSummary = nullStringPtr(summary)
	e.ErrorMessage = nullStringPtr(errMsg)
	e.ErrorTrace = nullStringPtr(errTrace)
	e.TriggeredBy = nullStringPtr(triggeredBy)
	e.ScheduledAt = CoerceUTC(e.ScheduledAt)
	e.CreatedAt = CoerceUTC(e.CreatedAt)
	return &e, nil
}
