// Package core defines the repository interfaces (hexagonal ports) between the
// service layer and the data layer. Services depend on these contracts, never
// on concrete repositories.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

// CacheRepository defines the interface for caching operations. All failures
// are non-fatal to callers: consumers fall back to authoritative store queries
// when the cache is unavailable.
type CacheRepository interface {
	// Set stores a value in the cache with the given key and TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Get retrieves a value from the cache by key. Returns nil if the key
	// doesn't exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes a key from the cache.
	Delete(ctx context.Context, key string) (bool, error)

	// Exists checks if a key exists in the cache.
	Exists(ctx context.Context, key string) (bool, error)

	// SetIfNotExists atomically sets a key only if it doesn't already exist.
	SetIfNotExists(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Health checks the health of the cache connection.
	Health(ctx context.Context) error
}

// UserRepository defines user data operations. Replication-phase methods take
// an explicit *sql.Tx so the whole run shares one transaction boundary.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername matches case-insensitively.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// ListRoleNames returns the active role names granted to the user.
	ListRoleNames(ctx context.Context, userID string) ([]string, error)

	// LinkEmployeeTx sets employee_id for users whose username matches a
	// security user case-insensitively and whose employee_id is null.
	// Returns the number of users linked.
	LinkEmployeeTx(ctx context.Context, tx *sql.Tx) (int64, error)

	// CreateStubTx inserts an inactive, passwordless HRIS-sourced user.
	CreateStubTx(ctx context.Context, tx *sql.Tx, p model.CreateStubUserParams) (bool, error)

	// SyncStatusesTx applies Strategy A: for HRIS-sourced users with
	// status_override=false, set is_active = NOT (sec.is_deleted OR sec.is_locked).
	// Returns rows updated.
	SyncStatusesTx(ctx context.Context, tx *sql.Tx) (int64, error)

	// CountOverrideConflictsTx counts HRIS-sourced users whose status the sync
	// would have flipped but for status_override=true.
	CountOverrideConflictsTx(ctx context.Context, tx *sql.Tx) (int64, error)

	// MapEmployeeUsersTx returns employee_id → user id for every linked user.
	MapEmployeeUsersTx(ctx context.Context, tx *sql.Tx) (map[int64]string, error)
}

// SessionRepository defines session persistence. Rotation happens under a
// SELECT ... FOR UPDATE row lock; that lock is the sole replay guard.
type SessionRepository interface {
	Create(ctx context.Context, p model.CreateSessionParams) (*model.Session, error)
	GetByID(ctx context.Context, id string) (*model.Session, error)

	// GetByRefreshTokenIDForUpdate locks the session row identified by the
	// current refresh token jti inside tx.
	GetByRefreshTokenIDForUpdate(ctx context.Context, tx *sql.Tx, refreshJTI string) (*model.Session, error)

	// RotateTx atomically replaces refresh_token_id and bumps last_seen_at.
	RotateTx(ctx context.Context, tx *sql.Tx, p model.RotateSessionParams) error

	// Revoke marks a session revoked. Returns false when no row matched.
	Revoke(ctx context.Context, sessionID string) (bool, error)

	// RevokeAllForUser revokes every active session of a user, optionally
	// excluding one. Returns the number revoked.
	RevokeAllForUser(ctx context.Context, userID string, exceptSessionID *string) (int64, error)

	// ListActiveByUser returns unrevoked, unexpired sessions ordered by
	// created_at ascending (oldest first).
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Session, error)
}

// RevokedTokenRepository tracks jti values that must be rejected until expiry.
type RevokedTokenRepository interface {
	Insert(ctx context.Context, t model.RevokedToken) error
	Exists(ctx context.Context, jti string) (bool, error)
	// DeleteExpired removes rows whose expires_at has passed. Returns rows deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// EmployeeRepository covers employees, departments, and assignments.
type EmployeeRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Employee, error)
	// GetByCodes resolves employee codes in chunked IN lists.
	GetByCodes(ctx context.Context, codes []string) ([]*model.Employee, error)
	GetByIDs(ctx context.Context, ids []int64) ([]*model.Employee, error)

	DeactivateAllTx(ctx context.Context, tx *sql.Tx) (int64, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, p model.UpsertEmployeeParams) (created bool, err error)

	// UpsertDepartmentTx inserts or updates a department by its HRIS id without
	// parent linkage and returns the local id.
	UpsertDepartmentTx(ctx context.Context, tx *sql.Tx, p model.UpsertDepartmentParams) (localID string, created bool, err error)
	// SetDepartmentParentTx links a department to its parent in pass 2.
	SetDepartmentParentTx(ctx context.Context, tx *sql.Tx, localID, parentLocalID string) error

	DeactivateHRISAssignmentsTx(ctx context.Context, tx *sql.Tx) (int64, error)
	GetAssignmentTx(ctx context.Context, tx *sql.Tx, departmentID, userID string) (*model.DepartmentAssignment, error)
	ReactivateAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error
	// PromoteAssignmentTx converts a manual assignment to HRIS-managed.
	PromoteAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error
	InsertAssignmentTx(ctx context.Context, tx *sql.Tx, departmentID, userID string) error

	// ListAssignedDepartmentIDs returns the active department ids assigned to a
	// user, for listing visibility.
	ListAssignedDepartmentIDs(ctx context.Context, userID string) ([]string, error)
}

// SecurityUserRepository manages the local mirror of HRIS security users.
type SecurityUserRepository interface {
	MarkAllDeletedTx(ctx context.Context, tx *sql.Tx) (int64, error)
	UpsertTx(ctx context.Context, tx *sql.Tx, u model.HRISSecurityUser) (created bool, err error)
	// StageEmployeeLinksTx loads snapshot (id, employee_id) pairs into a
	// transaction-scoped staging table for LinkEmployeesTx.
	StageEmployeeLinksTx(ctx context.Context, tx *sql.Tx, users []model.HRISSecurityUser) error
	// LinkEmployeesTx sets employee_id where the referenced employee exists
	// locally. Returns rows linked.
	LinkEmployeesTx(ctx context.Context, tx *sql.Tx) (int64, error)
	ListTx(ctx context.Context, tx *sql.Tx) ([]*model.SecurityUser, error)
}

// MealRequestRepository covers requests, lines, and attendance rows.
type MealRequestRepository interface {
	CreateTx(ctx context.Context, tx *sql.Tx, p model.CreateMealRequestParams, statusID int, now time.Time) (*model.MealRequest, error)
	// InsertLinesTx bulk-inserts lines in a single round-trip.
	InsertLinesTx(ctx context.Context, tx *sql.Tx, requestID string, lines []*model.MealRequestLine) error

	GetByID(ctx context.Context, id string) (*model.MealRequest, error)
	GetByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (*model.MealRequest, error)

	// UpdateStatusTx writes status, closed_by, closed_time.
	UpdateStatusTx(ctx context.Context, tx *sql.Tx, p model.UpdateMealRequestStatusParams, now time.Time) error
	// SetStatus transitions without closure bookkeeping (attendance-job path).
	SetStatus(ctx context.Context, requestID string, statusID int) error
	SetLinesAcceptedTx(ctx context.Context, tx *sql.Tx, requestID string, accepted bool) error

	SoftDeleteTx(ctx context.Context, tx *sql.Tx, requestID string, now time.Time) error
	SoftDeleteLinesTx(ctx context.Context, tx *sql.Tx, requestID string) error

	// HasPendingCopy reports whether a pending request with the given chain
	// root already exists for the requester.
	HasPendingCopy(ctx context.Context, originalID, requesterID string) (bool, error)

	ListLines(ctx context.Context, requestID string) ([]*model.MealRequestLine, error)
	// ListLinesForSync returns non-deleted lines of requests no older than the
	// window, joined with the parent request_time.
	ListLinesForSync(ctx context.Context, since time.Time) ([]*model.SyncLine, error)
	GetSyncLinesByIDs(ctx context.Context, lineIDs []string) ([]*model.SyncLine, error)

	GetAttendanceByLineIDs(ctx context.Context, lineIDs []string) ([]*model.MealRequestLineAttendance, error)
	UpsertAttendance(ctx context.Context, a model.MealRequestLineAttendance) error
	// SetLineAttendanceTime mirrors the synced punch onto the line itself.
	SetLineAttendanceTime(ctx context.Context, lineID string, at *time.Time) error

	ListSummaries(ctx context.Context, opts model.MealRequestListOptions) ([]*model.MealRequestSummary, error)
}

// SchedulerRepository covers jobs, executions, locks, instances, and lookups.
type SchedulerRepository interface {
	// SeedLookups ensures the canonical job type, execution status, and task
	// function codes exist. Idempotent.
	SeedLookups(ctx context.Context, functions []model.TaskFunction) error

	ListSchedulableJobs(ctx context.Context) ([]*model.ScheduledJob, error)
	GetJob(ctx context.Context, id string) (*model.ScheduledJob, error)
	SetJobLastRun(ctx context.Context, jobID string, at time.Time) error

	CreateExecutionTx(ctx context.Context, tx *sql.Tx, p model.CreateExecutionParams) (*model.ScheduledJobExecution, error)
	// AcquireLockTx inserts a lease guarded by the no-active-lock predicate.
	// Returns false without error on contention.
	AcquireLockTx(ctx context.Context, tx *sql.Tx, p model.AcquireLockParams) (bool, error)
	MarkExecutionStartedTx(ctx context.Context, tx *sql.Tx, executionID string, at time.Time) error

	CompleteExecution(ctx context.Context, p model.CompleteExecutionParams) error
	// RecordHandoff keeps a queued execution running and appends the handoff
	// note to result_summary. The lease stays held; the external worker writes
	// the terminal status.
	RecordHandoff(ctx context.Context, executionID, summary string, at time.Time) error
	ReleaseLock(ctx context.Context, jobID, executionID string) error

	// ActiveExecutionID returns the execution_id of any pending or running
	// execution for the job, for the manual duplicate guard.
	ActiveExecutionID(ctx context.Context, jobID string) (string, bool, error)
	CountActiveExecutions(ctx context.Context, jobID string) (int, error)
	ListExecutions(ctx context.Context, jobID string, limit int) ([]*model.ScheduledJobExecution, error)

	UpsertInstance(ctx context.Context, inst model.SchedulerInstance) error
	Heartbeat(ctx context.Context, instanceID string, at time.Time) error
	SetInstanceStatus(ctx context.Context, instanceID string, status model.SchedulerInstanceStatus) error
	// MarkStaleInstances flips instances with old heartbeats to stopped.
	MarkStaleInstances(ctx context.Context, olderThan time.Time) (int64, error)
	// ReleaseExpiredLocks sets released_at on leases past their expiry.
	ReleaseExpiredLocks(ctx context.Context, now time.Time) (int64, error)
	ListInstances(ctx context.Context) ([]*model.SchedulerInstance, error)

	// PurgeExecutionsBefore deletes execution history older than the cutoff.
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLogRepository appends rows to the append-only log tables.
type AuditLogRepository interface {
	Append(ctx context.Context, e model.AuditEntry) error
	AppendTx(ctx context.Context, tx *sql.Tx, e model.AuditEntry) error
}
