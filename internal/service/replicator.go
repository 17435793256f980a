package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// ReplicatorService reconciles the external HR system of record into the local
// tables. One run is one transaction: every phase either lands or the whole
// run rolls back. Manually overridden user state and manual department
// assignments survive every run.
type ReplicatorService struct {
	db        *sql.DB
	source    ports.HRISSource
	users     core.UserRepository
	employees core.EmployeeRepository
	secUsers  core.SecurityUserRepository
	audit     core.AuditLogRepository

	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewReplicatorService wires the replicator.
func NewReplicatorService(
	db *sql.DB,
	source ports.HRISSource,
	users core.UserRepository,
	employees core.EmployeeRepository,
	secUsers core.SecurityUserRepository,
	audit core.AuditLogRepository,
	tp data.TimeProvider,
	logger *slog.Logger,
) *ReplicatorService {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &ReplicatorService{
		db:           db,
		source:       source,
		users:        users,
		employees:    employees,
		secUsers:     secUsers,
		audit:        audit,
		timeProvider: tp,
		logger:       logger.With("component", "replicator"),
	}
}

// Run executes one full replication. Returns the per-operation summary.
// Registered as the hris_replication task.
func (s *ReplicatorService) Run(ctx context.Context) (*model.ReplicationSummary, error) {
	started := s.timeProvider.Now()

	snapshot, err := s.source.Snapshot(ctx)
	if err != nil {
		s.logFailure(ctx, "snapshot", err)
		return nil, apperrors.Wrap(err, apperrors.ErrCodeExternalUnavailable, "read hris snapshot")
	}
	// A nil slice marks a failed read of that entity; an empty slice is a
	// legitimate empty result. Committing the deactivate phase against a
	// failed read would wipe the local mirror.
	if snapshot.Employees == nil || snapshot.Departments == nil || snapshot.SecurityUsers == nil {
		err = apperrors.ExternalUnavailable("hris snapshot incomplete, aborting run")
		s.logFailure(ctx, "snapshot", err)
		return nil, err
	}

	var summary model.ReplicationSummary
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		if txErr := s.deactivatePhase(ctx, tx); txErr != nil {
			return fmt.Errorf("deactivate phase: %w", txErr)
		}

		deptMap, txErr := s.replicateDepartments(ctx, tx, snapshot.Departments, &summary.Departments)
		if txErr != nil {
			return fmt.Errorf("department phase: %w", txErr)
		}
		if txErr = s.replicateEmployees(ctx, tx, snapshot.Employees, deptMap, &summary.Employees); txErr != nil {
			return fmt.Errorf("employee phase: %w", txErr)
		}
		if txErr = s.replicateSecurityUsers(ctx, tx, snapshot.SecurityUsers, &summary.Users); txErr != nil {
			return fmt.Errorf("security user phase: %w", txErr)
		}
		if txErr = s.userPhases(ctx, tx, &summary.Users); txErr != nil {
			return fmt.Errorf("user phase: %w", txErr)
		}
		if txErr = s.replicateAssignments(ctx, tx, snapshot.Assignments, deptMap, &summary.Assignments); txErr != nil {
			return fmt.Errorf("assignment phase: %w", txErr)
		}

		summary.DurationMS = s.timeProvider.Now().Sub(started).Milliseconds()
		return s.logRun(ctx, tx, &summary)
	}})
	if err != nil {
		s.logFailure(ctx, "run", err)
		return nil, err
	}

	s.logger.Info("replication complete",
		"departments", summary.Departments.Processed,
		"employees", summary.Employees.Processed,
		"security_users", summary.Users.Processed,
		"assignments", summary.Assignments.Processed,
		"duration_ms", summary.DurationMS)
	return &summary, nil
}

// RunAsJob adapts Run to the scheduler's JobFunc shape.
func (s *ReplicatorService) RunAsJob(ctx context.Context) (string, error) {
	summary, err := s.Run(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("departments=%d employees=%d security_users=%d assignments=%d in %dms",
		summary.Departments.Processed, summary.Employees.Processed,
		summary.Users.Processed, summary.Assignments.Processed, summary.DurationMS), nil
}

// deactivatePhase marks every mirror row absent; subsequent upserts restore
// the ones still present upstream. Manual assignments are never touched.
func (s *ReplicatorService) deactivatePhase(ctx context.Context, tx *sql.Tx) error {
	if _, err := s.employees.DeactivateAllTx(ctx, tx); err != nil {
		return err
	}
	if _, err := s.secUsers.MarkAllDeletedTx(ctx, tx); err != nil {
		return err
	}
	_, err := s.employees.DeactivateHRISAssignmentsTx(ctx, tx)
	return err
}

// replicateDepartments runs the two-pass department upsert and returns the
// hris_id → local_id map the later phases resolve through.
func (s *ReplicatorService) replicateDepartments(
	ctx context.Context,
	tx *sql.Tx,
	departments []model.HRISDepartment,
	counts *model.ReplicationCounts,
) (map[int64]string, error) {
	deptMap := make(map[int64]string, len(departments))

	for _, d := range departments {
		counts.Processed++
		localID, created, err := s.employees.UpsertDepartmentTx(ctx, tx, model.UpsertDepartmentParams{
			HRISID: d.ID,
			NameEn: d.NameEn,
			NameAr: d.NameAr,
		})
		if err != nil {
			counts.Failed++
			return nil, err
		}
		deptMap[d.ID] = localID
		if created {
			counts.Created++
		} else {
			counts.Updated++
		}
	}

	// Pass 2: parent linkage. Nodes whose parent is absent stay top-level.
	for _, d := range departments {
		if d.ParentID == nil {
			continue
		}
		parentLocal, ok := deptMap[*d.ParentID]
		if !ok {
			counts.Skipped++
			continue
		}
		if err := s.employees.SetDepartmentParentTx(ctx, tx, deptMap[d.ID], parentLocal); err != nil {
			counts.Failed++
			return nil, err
		}
	}
	return deptMap, nil
}

func (s *ReplicatorService) replicateEmployees(
	ctx context.Context,
	tx *sql.Tx,
	employees []model.HRISEmployee,
	deptMap map[int64]string,
	counts *model.ReplicationCounts,
) error {
	for _, e := range employees {
		counts.Processed++
		localDept, ok := deptMap[e.DepartmentID]
		if !ok {
			s.logger.Warn("employee department missing, skipping",
				"employee_id", e.ID, "hris_department_id", e.DepartmentID)
			counts.Skipped++
			continue
		}
		created, err := s.employees.UpsertTx(ctx, tx, model.UpsertEmployeeParams{
			ID:           e.ID,
			Code:         e.Code,
			NameEn:       e.NameEn,
			NameAr:       e.NameAr,
			Title:        optString(e.Title),
			DepartmentID: &localDept,
		})
		if err != nil {
			counts.Failed++
			return err
		}
		if created {
			counts.Created++
		} else {
			counts.Updated++
		}
	}
	return nil
}

func (s *ReplicatorService) replicateSecurityUsers(
	ctx context.Context,
	tx *sql.Tx,
	users []model.HRISSecurityUser,
	counts *model.ReplicationCounts,
) error {
	for _, u := range users {
		counts.Processed++
		created, err := s.secUsers.UpsertTx(ctx, tx, u)
		if err != nil {
			counts.Failed++
			return err
		}
		if created {
			counts.Created++
		} else {
			counts.Updated++
		}
	}

	// Linking sub-pass: attach employee ids only where the employee landed
	// locally. Link failures log and continue; they self-heal next run.
	if err := s.secUsers.StageEmployeeLinksTx(ctx, tx, users); err != nil {
		return err
	}
	if _, err := s.secUsers.LinkEmployeesTx(ctx, tx); err != nil {
		s.logger.Warn("security user employee linking failed", "error", err)
	}
	return nil
}

// userPhases runs user↔employee linking, account pre-creation, and Strategy A
// status sync inside the same transaction so the intermediate inactive state
// of freshly created stubs is never visible to readers.
func (s *ReplicatorService) userPhases(ctx context.Context, tx *sql.Tx, counts *model.ReplicationCounts) error {
	linked, err := s.users.LinkEmployeeTx(ctx, tx)
	if err != nil {
		return err
	}

	mirror, err := s.secUsers.ListTx(ctx, tx)
	if err != nil {
		return err
	}
	var stubs int64
	for _, su := range mirror {
		if su.EmployeeID == nil {
			continue
		}
		created, stubErr := s.users.CreateStubTx(ctx, tx, model.CreateStubUserParams{
			ID:         uuid.NewString(),
			Username:   su.UserName,
			EmployeeID: *su.EmployeeID,
		})
		if stubErr != nil {
			return stubErr
		}
		if created {
			stubs++
		}
	}

	synced, err := s.users.SyncStatusesTx(ctx, tx)
	if err != nil {
		return err
	}
	overridden, err := s.users.CountOverrideConflictsTx(ctx, tx)
	if err != nil {
		return err
	}

	counts.Created += int(stubs)
	counts.Updated += int(linked + synced)
	counts.Skipped += int(overridden)
	return nil
}

func (s *ReplicatorService) replicateAssignments(
	ctx context.Context,
	tx *sql.Tx,
	assignments []model.HRISAssignment,
	deptMap map[int64]string,
	counts *model.ReplicationCounts,
) error {
	if assignments == nil {
		s.logger.Warn("assignment snapshot missing, phase skipped")
		return nil
	}
	userByEmployee, err := s.users.MapEmployeeUsersTx(ctx, tx)
	if err != nil {
		return err
	}

	for _, a := range assignments {
		counts.Processed++
		localDept, ok := deptMap[a.DepartmentID]
		if !ok {
			counts.Skipped++
			continue
		}
		userID, ok := userByEmployee[a.EmployeeID]
		if !ok {
			counts.Skipped++
			continue
		}

		existing, getErr := s.employees.GetAssignmentTx(ctx, tx, localDept, userID)
		switch {
		case getErr == nil && existing.IsSyncedFromHRIS:
			if err = s.employees.ReactivateAssignmentTx(ctx, tx, existing.ID); err != nil {
				counts.Failed++
				return err
			}
			counts.Updated++
		case getErr == nil:
			s.logger.Info("promoting manual assignment to hris-managed",
				"assignment_id", existing.ID, "user_id", userID, "department_id", localDept)
			if err = s.employees.PromoteAssignmentTx(ctx, tx, existing.ID); err != nil {
				counts.Failed++
				return err
			}
			counts.Updated++
		case apperrors.IsNotFound(getErr):
			if err = s.employees.InsertAssignmentTx(ctx, tx, localDept, userID); err != nil {
				counts.Failed++
				return err
			}
			counts.Created++
		default:
			counts.Failed++
			return getErr
		}
	}
	return nil
}

// logRun emits one LogReplication row per operation.
func (s *ReplicatorService) logRun(ctx context.Context, tx *sql.Tx, summary *model.ReplicationSummary) error {
	operations := []struct {
		name   string
		counts model.ReplicationCounts
	}{
		{"departments", summary.Departments},
		{"employees", summary.Employees},
		{"security_users", summary.Users},
		{"assignments", summary.Assignments},
	}
	for _, op := range operations {
		result, err := json.Marshal(struct {
			model.ReplicationCounts
			DurationMS int64 `json:"duration_ms"`
		}{op.counts, summary.DurationMS})
		if err != nil {
			return fmt.Errorf("marshal replication result: %w", err)
		}
		if err = s.audit.AppendTx(ctx, tx, model.AuditEntry{
			Kind:   model.AuditLogReplication,
			Action: op.name,
			Result: result,
			At:     s.timeProvider.Now(),
		}); err != nil {
			return err
		}
	}
	return nil
}

// logFailure writes the failure row outside the (rolled back) transaction.
func (s *ReplicatorService) logFailure(ctx context.Context, phase string, cause error) {
	result, _ := json.Marshal(map[string]string{
		"phase": phase,
		"error": cause.Error(),
	})
	if err := s.audit.Append(ctx, model.AuditEntry{
		Kind:   model.AuditLogReplication,
		Action: "failed",
		Result: result,
		At:     s.timeProvider.Now(),
	}); err != nil {
		s.logger.Error("failed to record replication failure", "error", err)
	}
}
