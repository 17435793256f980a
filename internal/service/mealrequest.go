package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// MealRequestService owns the request lifecycle: create, status transitions,
// copy, soft delete, and the bilingual listing. New requests enter at
// OnProgress and flip to Pending once the intake attendance fetch has run.
type MealRequestService struct {
	db         *sql.DB
	meals      core.MealRequestRepository
	employees  core.EmployeeRepository
	audit      core.AuditLogRepository
	attendance *AttendanceService

	timeProvider data.TimeProvider
	logger       *slog.Logger

	// runAsync detaches the post-commit intake work. Tests replace it with a
	// synchronous call.
	runAsync func(fn func())
}

// NewMealRequestService wires the meal-request engine.
func NewMealRequestService(
	db *sql.DB,
	meals core.MealRequestRepository,
	employees core.EmployeeRepository,
	audit core.AuditLogRepository,
	attendance *AttendanceService,
	tp data.TimeProvider,
	logger *slog.Logger,
) *MealRequestService {
	if logger == nil {
		logger = slog.Default()
	}
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}
	return &MealRequestService{
		db:           db,
		meals:        meals,
		employees:    employees,
		audit:        audit,
		attendance:   attendance,
		timeProvider: tp,
		logger:       logger.With("component", "meal_requests"),
		runAsync:     func(fn func()) { go fn() },
	}
}

// CreateResult reports a created request with its accepted and rejected lines.
type CreateResult struct {
	Request          *model.MealRequest
	Lines            []*model.MealRequestLine
	SkippedEmployees []int64
}

// Create inserts a request at OnProgress with its lines, then detaches the
// intake attendance fetch; its completion moves the request to Pending. Lines
// naming unknown employees are skipped individually, the rest proceed.
func (s *MealRequestService) Create(ctx context.Context, p model.CreateMealRequestParams) (*CreateResult, error) {
	if p.RequesterID == "" {
		return nil, apperrors.ValidationField("requester_id", "requester is required")
	}
	if p.MealTypeID == "" {
		return nil, apperrors.ValidationField("meal_type_id", "meal type is required")
	}
	if len(p.Lines) == 0 {
		return nil, apperrors.ValidationField("lines", "at least one line is required")
	}

	ids := make([]int64, 0, len(p.Lines))
	for _, l := range p.Lines {
		ids = append(ids, l.EmployeeID)
	}
	employees, err := s.employees.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	codeByID := make(map[int64]string, len(employees))
	for _, e := range employees {
		codeByID[e.ID] = e.Code
	}

	var (
		lines   []*model.MealRequestLine
		skipped []int64
	)
	for _, l := range p.Lines {
		code, ok := codeByID[l.EmployeeID]
		if !ok {
			s.logger.Warn("unknown employee on meal request, line skipped", "employee_id", l.EmployeeID)
			skipped = append(skipped, l.EmployeeID)
			continue
		}
		lines = append(lines, &model.MealRequestLine{
			EmployeeID:   l.EmployeeID,
			EmployeeCode: code,
			ShiftHours:   l.ShiftHours,
			Notes:        l.Notes,
		})
	}
	if len(lines) == 0 {
		return nil, apperrors.ValidationField("lines", "no line names a known employee")
	}

	var request *model.MealRequest
	now := s.timeProvider.Now()
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		var txErr error
		request, txErr = s.meals.CreateTx(ctx, tx, p, model.MealRequestStatusOnProgress, now)
		if txErr != nil {
			return txErr
		}
		if txErr = s.meals.InsertLinesTx(ctx, tx, request.ID, lines); txErr != nil {
			return txErr
		}
		return s.auditMealTx(ctx, tx, "created", p.RequesterID, request.ID, nil)
	}})
	if err != nil {
		return nil, err
	}

	lineIDs := make([]string, len(lines))
	for i, l := range lines {
		lineIDs[i] = l.ID
	}
	// The intake fetch runs detached from the caller's context: its failure
	// never blocks creation and the request still lands at Pending.
	intakeCtx := context.WithoutCancel(ctx)
	s.runAsync(func() { s.finishIntake(intakeCtx, request.ID, lineIDs) })

	return &CreateResult{Request: request, Lines: lines, SkippedEmployees: skipped}, nil
}

// finishIntake runs the line-scoped attendance fetch and moves the request
// from OnProgress to Pending regardless of per-line failures.
func (s *MealRequestService) finishIntake(ctx context.Context, requestID string, lineIDs []string) {
	if s.attendance != nil {
		if _, err := s.attendance.SyncLines(ctx, lineIDs); err != nil {
			s.logger.Warn("intake attendance fetch failed", "request_id", requestID, "error", err)
		}
	}
	if err := s.meals.SetStatus(ctx, requestID, model.MealRequestStatusPending); err != nil {
		s.logger.Error("failed to move request to pending", "request_id", requestID, "error", err)
	}
}

// UpdateStatus transitions a request with optional optimistic concurrency.
// Approved accepts every line; Rejected clears acceptance.
func (s *MealRequestService) UpdateStatus(ctx context.Context, p model.UpdateMealRequestStatusParams) error {
	switch p.NewStatus {
	case model.MealRequestStatusPending, model.MealRequestStatusApproved,
		model.MealRequestStatusRejected, model.MealRequestStatusOnProgress:
	default:
		return apperrors.ValidationField("status", "unknown status code")
	}

	return pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		request, err := s.meals.GetByIDForUpdate(ctx, tx, p.RequestID)
		if err != nil {
			return err
		}
		if request.IsDeleted {
			return apperrors.NotFoundf("meal request %s not found", p.RequestID)
		}
		if p.ExpectedStatus != nil && request.StatusID != *p.ExpectedStatus {
			return apperrors.StatusChanged(request.StatusID, *p.ExpectedStatus)
		}

		now := s.timeProvider.Now()
		if err = s.meals.UpdateStatusTx(ctx, tx, p, now); err != nil {
			return err
		}
		switch p.NewStatus {
		case model.MealRequestStatusApproved:
			if err = s.meals.SetLinesAcceptedTx(ctx, tx, p.RequestID, true); err != nil {
				return err
			}
		case model.MealRequestStatusRejected:
			if err = s.meals.SetLinesAcceptedTx(ctx, tx, p.RequestID, false); err != nil {
				return err
			}
		}

		change, _ := json.Marshal(map[string]any{
			"from": request.StatusID,
			"to":   p.NewStatus,
		})
		return s.auditMealTx(ctx, tx, "status_changed", p.ActorID, p.RequestID, change)
	}})
}

// Copy duplicates an approved or rejected request into a fresh Pending one in
// the same chain. One pending copy per chain per requester.
func (s *MealRequestService) Copy(ctx context.Context, sourceID, requesterID string) (*model.MealRequest, int, error) {
	source, err := s.meals.GetByID(ctx, sourceID)
	if err != nil {
		return nil, 0, err
	}
	if source.IsDeleted {
		return nil, 0, apperrors.NotFoundf("meal request %s not found", sourceID)
	}
	if source.RequesterID != requesterID {
		return nil, 0, apperrors.Authorization("copy own meal requests")
	}
	if source.StatusID == model.MealRequestStatusPending {
		return nil, 0, apperrors.Validation("source request is still pending")
	}

	chainRoot := source.ChainRoot()
	pending, err := s.meals.HasPendingCopy(ctx, chainRoot, requesterID)
	if err != nil {
		return nil, 0, err
	}
	if pending {
		return nil, 0, apperrors.Validation("pending copy already exists")
	}

	sourceLines, err := s.meals.ListLines(ctx, sourceID)
	if err != nil {
		return nil, 0, err
	}
	lines := make([]*model.MealRequestLine, 0, len(sourceLines))
	for _, l := range sourceLines {
		// Attendance and shift data never travel with a copy; acceptance is
		// pre-granted since the source was already reviewed.
		lines = append(lines, &model.MealRequestLine{
			EmployeeID:   l.EmployeeID,
			EmployeeCode: l.EmployeeCode,
			Notes:        l.Notes,
			IsAccepted:   true,
		})
	}

	var request *model.MealRequest
	now := s.timeProvider.Now()
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		var txErr error
		request, txErr = s.meals.CreateTx(ctx, tx, model.CreateMealRequestParams{
			RequesterID:       requesterID,
			MealTypeID:        source.MealTypeID,
			Notes:             source.Notes,
			OriginalRequestID: &chainRoot,
		}, model.MealRequestStatusPending, now)
		if txErr != nil {
			return txErr
		}
		if txErr = s.meals.InsertLinesTx(ctx, tx, request.ID, lines); txErr != nil {
			return txErr
		}
		if len(lines) > 0 {
			if txErr = s.meals.SetLinesAcceptedTx(ctx, tx, request.ID, true); txErr != nil {
				return txErr
			}
		}
		detail, _ := json.Marshal(map[string]string{"source_id": sourceID, "chain_root": chainRoot})
		return s.auditMealTx(ctx, tx, "copied", requesterID, request.ID, detail)
	}})
	if err != nil {
		return nil, 0, err
	}
	return request, len(lines), nil
}

// SoftDelete marks a pending request and its lines deleted under the row lock.
// Only the owner may delete, and only while Pending.
func (s *MealRequestService) SoftDelete(ctx context.Context, requestID, actorID string) error {
	return pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{Fn: func(tx *sql.Tx) error {
		request, err := s.meals.GetByIDForUpdate(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if request.IsDeleted {
			return apperrors.NotFoundf("meal request %s not found", requestID)
		}
		if request.RequesterID != actorID {
			return apperrors.Authorization("delete own meal requests")
		}
		if request.StatusID != model.MealRequestStatusPending {
			return apperrors.StatusChanged(request.StatusID, model.MealRequestStatusPending)
		}

		now := s.timeProvider.Now()
		if err = s.meals.SoftDeleteTx(ctx, tx, requestID, now); err != nil {
			return err
		}
		if err = s.meals.SoftDeleteLinesTx(ctx, tx, requestID); err != nil {
			return err
		}
		return s.auditMealTx(ctx, tx, "deleted", actorID, requestID, nil)
	}})
}

// Get returns a non-deleted request with its lines.
func (s *MealRequestService) Get(ctx context.Context, requestID string) (*model.MealRequest, []*model.MealRequestLine, error) {
	request, err := s.meals.GetByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if request.IsDeleted {
		return nil, nil, apperrors.NotFoundf("meal request %s not found", requestID)
	}
	lines, err := s.meals.ListLines(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return request, lines, nil
}

// List produces the bilingual summary listing scoped to the caller's
// department visibility. OnProgress requests stay hidden unless the caller
// filters for them explicitly.
func (s *MealRequestService) List(
	ctx context.Context,
	callerID string,
	opts model.MealRequestListOptions,
) ([]*model.MealRequestSummary, error) {
	if len(opts.StatusIDs) == 0 {
		opts.StatusIDs = []int{
			model.MealRequestStatusPending,
			model.MealRequestStatusApproved,
			model.MealRequestStatusRejected,
		}
	}
	departmentIDs, err := s.employees.ListAssignedDepartmentIDs(ctx, callerID)
	if err != nil {
		return nil, err
	}
	// No assignments means no restriction.
	opts.VisibleDepartmentIDs = departmentIDs
	return s.meals.ListSummaries(ctx, opts)
}

func (s *MealRequestService) auditMealTx(
	ctx context.Context,
	tx *sql.Tx,
	action, actorID, requestID string,
	detail json.RawMessage,
) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.AppendTx(ctx, tx, model.AuditEntry{
		Kind:     model.AuditLogMealRequest,
		Action:   action,
		ActorID:  optString(actorID),
		TargetID: &requestID,
		Result:   detail,
		At:       s.timeProvider.Now(),
	})
}
