package model

import "time"

// Scheduler job type codes. Stable and wire-visible.
type JobTypeCode string

const (
	JobTypeInterval JobTypeCode = "interval"
	JobTypeCron     JobTypeCode = "cron"
)

// Execution status codes. Stable and wire-visible.
type ExecutionStatusCode string

const (
	ExecutionStatusPending ExecutionStatusCode = "pending"
	ExecutionStatusRunning ExecutionStatusCode = "running"
	ExecutionStatusSuccess ExecutionStatusCode = "success"
	ExecutionStatusFailed  ExecutionStatusCode = "failed"
)

// ExecutionStatusID returns the seeded lookup id for a status code.
func ExecutionStatusID(code ExecutionStatusCode) int {
	switch code {
	case ExecutionStatusPending:
		return 1
	case ExecutionStatusRunning:
		return 2
	case ExecutionStatusSuccess:
		return 3
	case ExecutionStatusFailed:
		return 4
	default:
		return 0
	}
}

// TaskFunction is a registered, dispatchable unit of work. FunctionPath is the
// symbolic locator used when the registry has no entry for Key.
type TaskFunction struct {
	ID            string    `json:"id"`
	Key           string    `json:"key"`
	FunctionPath  string    `json:"function_path"`
	NameEn        string    `json:"name_en"`
	NameAr        string    `json:"name_ar"`
	DescriptionEn *string   `json:"description_en,omitempty"`
	DescriptionAr *string   `json:"description_ar,omitempty"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
}

// ScheduledJob is a persisted trigger definition. Exactly one schedule
// representation is populated per job type: the interval fields for interval
// jobs, CronExpression for cron jobs. Deletion is soft via IsActive=false.
type ScheduledJob struct {
	ID             string      `json:"id"`
	TaskFunctionID string      `json:"task_function_id"`
	TaskKey        string      `json:"task_key"`
	JobType        JobTypeCode `json:"job_type"`

	IntervalSeconds int     `json:"interval_seconds"`
	IntervalMinutes int     `json:"interval_minutes"`
	IntervalHours   int     `json:"interval_hours"`
	IntervalDays    int     `json:"interval_days"`
	CronExpression  *string `json:"cron_expression,omitempty"`

	Priority         int  `json:"priority"`
	MaxInstances     int  `json:"max_instances"`
	MisfireGraceTime int  `json:"misfire_grace_time"`
	Coalesce         bool `json:"coalesce"`

	IsEnabled bool `json:"is_enabled"`
	IsActive  bool `json:"is_active"`
	IsPrimary bool `json:"is_primary"`

	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IntervalDuration sums the interval fields into a single duration.
func (j *ScheduledJob) IntervalDuration() time.Duration {
	return time.Duration(j.IntervalSeconds)*time.Second +
		time.Duration(j.IntervalMinutes)*time.Minute +
		time.Duration(j.IntervalHours)*time.Hour +
		time.Duration(j.IntervalDays)*24*time.Hour
}

// ScheduledJobExecution tracks one firing through
// pending → running → (success|failed). Manual triggers may enter directly at
// running.
type ScheduledJobExecution struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	ExecutionID string     `json:"execution_id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  *int64     `json:"duration_ms,omitempty"`

	StatusID      int     `json:"status_id"`
	ResultSummary *string `json:"result_summary,omitempty"`
	ErrorMessage  *string `json:"error_message,omitempty"`
	ErrorTrace    *string `json:"error_trace,omitempty"`

	ExecutorID  string    `json:"executor_id"`
	HostName    string    `json:"host_name"`
	TriggeredBy *string   `json:"triggered_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScheduledJobLock is a lease: time-bounded exclusive access to a job_id.
// At most one row with released_at IS NULL AND expires_at > now exists per job.
type ScheduledJobLock struct {
	ID          string     `json:"id"`
	JobID       string     `json:"job_id"`
	ExecutionID string     `json:"execution_id"`
	ExecutorID  string     `json:"executor_id"`
	HostName    string     `json:"host_name"`
	AcquiredAt  time.Time  `json:"acquired_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty"`
}

// SchedulerInstanceMode distinguishes embedded from standalone schedulers.
type SchedulerInstanceMode string

const (
	SchedulerModeEmbedded   SchedulerInstanceMode = "embedded"
	SchedulerModeStandalone SchedulerInstanceMode = "standalone"
)

// SchedulerInstanceStatus is the lifecycle state of a scheduler process.
type SchedulerInstanceStatus string

const (
	SchedulerStatusStarting SchedulerInstanceStatus = "starting"
	SchedulerStatusRunning  SchedulerInstanceStatus = "running"
	SchedulerStatusPaused   SchedulerInstanceStatus = "paused"
	SchedulerStatusStopped  SchedulerInstanceStatus = "stopped"
)

// SchedulerInstance is one scheduler process, kept alive by heartbeats.
type SchedulerInstance struct {
	ID            string                  `json:"id"`
	InstanceName  string                  `json:"instance_name"`
	HostName      string                  `json:"host_name"`
	ProcessID     int                     `json:"process_id"`
	Mode          SchedulerInstanceMode   `json:"mode"`
	Status        SchedulerInstanceStatus `json:"status"`
	LastHeartbeat time.Time               `json:"last_heartbeat"`
	StartedAt     time.Time               `json:"started_at"`
	StoppedAt     *time.Time              `json:"stopped_at,omitempty"`
}

// HeartbeatAge returns how long ago the instance last reported in.
func (i *SchedulerInstance) HeartbeatAge(now time.Time) time.Duration {
	return now.Sub(i.LastHeartbeat)
}

// AcquireLockParams groups inputs for the race-free lease acquisition insert.
type AcquireLockParams struct {
	JobID       string
	ExecutionID string
	ExecutorID  string
	HostName    string
	TTL         time.Duration
}

// CreateExecutionParams groups inputs for inserting an execution row.
type CreateExecutionParams struct {
	JobID       string
	ExecutionID string
	ScheduledAt time.Time
	StatusID    int
	ExecutorID  string
	HostName    string
	TriggeredBy *string
}

// CompleteExecutionParams groups inputs for writing a terminal execution state.
type CompleteExecutionParams struct {
	ExecutionID   string
	StatusID      int
	ResultSummary *string
	ErrorMessage  *string
	ErrorTrace    *string
}
