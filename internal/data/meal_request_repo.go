package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// MealRequestRepo provides database operations for meal requests, their lines,
// and the per-line attendance records.
type MealRequestRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewMealRequestRepo creates a new MealRequestRepo instance with the given database connection.
func NewMealRequestRepo(db *sql.DB) *MealRequestRepo {
	return &MealRequestRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewMealRequestRepoWithTimeProvider creates a MealRequestRepo with a custom TimeProvider.
func NewMealRequestRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *MealRequestRepo {
	return &MealRequestRepo{DB: db, timeProvider: tp}
}

const mealRequestColumns = `
  id,
  requester_id,
  status_id,
  meal_type_id,
  request_time,
  notes,
  closed_by_id,
  closed_time,
  is_deleted,
  original_request_id,
  created_at,
  updated_at
`

// CreateTx inserts the request row. Lines go in separately via InsertLinesTx
// inside the same transaction.
func (r *MealRequestRepo) CreateTx(
	ctx context.Context,
	tx *sql.Tx,
	p model.CreateMealRequestParams,
	statusID int,
	now time.Time,
) (*model.MealRequest, error) {
	query := `
		INSERT INTO meal_requests (
		  id, requester_id, status_id, meal_type_id, request_time, notes,
		  is_deleted, original_request_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $5, $5)
		RETURNING ` + mealRequestColumns
	row := tx.QueryRowContext(ctx, query,
		uuid.NewString(), p.RequesterID, statusID, p.MealTypeID, now.UTC(), p.Notes, p.OriginalRequestID,
	)
	req, err := scanMealRequest(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return req, nil
}

// InsertLinesTx bulk-inserts the lines in a single multi-row VALUES statement
// per chunk. Each line's id is assigned here.
func (r *MealRequestRepo) InsertLinesTx(
	ctx context.Context,
	tx *sql.Tx,
	requestID string,
	lines []*model.MealRequestLine,
) error {
	if len(lines) == 0 {
		return nil
	}
	const perRow = 7
	now := r.timeProvider.Now()

	for _, chunk := range pgxutil.Chunk(lines) {
		var sb strings.Builder
		sb.WriteString(`
			INSERT INTO meal_request_lines
			  (id, meal_request_id, employee_id, employee_code, shift_hours, notes, is_accepted, is_deleted, created_at)
			VALUES `)
		args := make([]any, 0, len(chunk)*perRow)
		for i, line := range chunk {
			if line.ID == "" {
				line.ID = uuid.NewString()
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			base := i * perRow
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, FALSE, FALSE, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6, base+7)
			args = append(args, line.ID, requestID, line.EmployeeID, line.EmployeeCode,
				line.ShiftHours, line.Notes, now)
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return apperrors.MapDBError(err)
		}
	}
	return nil
}

// GetByID returns a request by id, deleted rows included; callers that must
// exclude soft-deleted requests check IsDeleted.
func (r *MealRequestRepo) GetByID(ctx context.Context, id string) (*model.MealRequest, error) {
	query := `SELECT ` + mealRequestColumns + ` FROM meal_requests WHERE id = $1`
	req, err := scanMealRequest(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return req, nil
}

// GetByIDForUpdate locks the request row inside tx. Status transitions and
// soft deletes serialise on this lock.
func (r *MealRequestRepo) GetByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (*model.MealRequest, error) {
	query := `SELECT ` + mealRequestColumns + ` FROM meal_requests WHERE id = $1 FOR UPDATE`
	req, err := scanMealRequest(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return req, nil
}

// UpdateStatusTx writes the new status with closure bookkeeping. The caller
// holds the row lock and has already verified the expected status.
func (r *MealRequestRepo) UpdateStatusTx(
	ctx context.Context,
	tx *sql.Tx,
	p model.UpdateMealRequestStatusParams,
	now time.Time,
) error {
	query := `
		UPDATE meal_requests
		SET status_id = $2, closed_by_id = $3, closed_time = $4, updated_at = $4
		WHERE id = $1 AND is_deleted = FALSE
	`
	res, err := tx.ExecContext(ctx, query, p.RequestID, p.NewStatus, p.ActorID, now.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("meal request %s not found", p.RequestID)
	}
	return nil
}

// SetStatus transitions a request without closure bookkeeping. Used by the
// attendance-dispatch path moving on_progress to pending.
func (r *MealRequestRepo) SetStatus(ctx context.Context, requestID string, statusID int) error {
	query := `
		UPDATE meal_requests
		SET status_id = $2, updated_at = $3
		WHERE id = $1 AND is_deleted = FALSE
	`
	res, err := r.DB.ExecContext(ctx, query, requestID, statusID, r.timeProvider.Now())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("meal request %s not found", requestID)
	}
	return nil
}

// SetLinesAcceptedTx flips is_accepted on every non-deleted line of a request.
func (r *MealRequestRepo) SetLinesAcceptedTx(ctx context.Context, tx *sql.Tx, requestID string, accepted bool) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE meal_request_lines SET is_accepted = $2 WHERE meal_request_id = $1 AND is_deleted = FALSE`,
		requestID, accepted,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// SoftDeleteTx marks the request deleted. The caller holds the row lock.
func (r *MealRequestRepo) SoftDeleteTx(ctx context.Context, tx *sql.Tx, requestID string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE meal_requests SET is_deleted = TRUE, updated_at = $2 WHERE id = $1 AND is_deleted = FALSE`,
		requestID, now.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("meal request %s not found", requestID)
	}
	return nil
}

// SoftDeleteLinesTx marks every line of a request deleted.
func (r *MealRequestRepo) SoftDeleteLinesTx(ctx context.Context, tx *sql.Tx, requestID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE meal_request_lines SET is_deleted = TRUE WHERE meal_request_id = $1 AND is_deleted = FALSE`,
		requestID,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// HasPendingCopy reports whether the requester already has a live pending
// request in the same copy chain. The chain is identified by the original id:
// both the root itself and any copy pointing at it count.
func (r *MealRequestRepo) HasPendingCopy(ctx context.Context, originalID, requesterID string) (bool, error) {
	query := `
		SELECT EXISTS (
		  SELECT 1 FROM meal_requests
		  WHERE requester_id = $2
		    AND status_id = $3
		    AND is_deleted = FALSE
		    AND (id = $1 OR original_request_id = $1)
		)
	`
	var exists bool
	err := r.DB.QueryRowContext(ctx, query, originalID, requesterID, model.MealRequestStatusPending).Scan(&exists)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return exists, nil
}

const lineColumns = `
  id,
  meal_request_id,
  employee_id,
  employee_code,
  attendance_time,
  shift_hours,
  notes,
  is_accepted,
  is_deleted,
  created_at
`

// ListLines returns the non-deleted lines of a request.
func (r *MealRequestRepo) ListLines(ctx context.Context, requestID string) ([]*model.MealRequestLine, error) {
	query := `SELECT ` + lineColumns + `
		FROM meal_request_lines
		WHERE meal_request_id = $1 AND is_deleted = FALSE
		ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()
	return collectLines(rows)
}

// ListLinesForSync returns non-deleted lines of non-deleted requests no older
// than the window, joined with the parent request_time.
func (r *MealRequestRepo) ListLinesForSync(ctx context.Context, since time.Time) ([]*model.SyncLine, error) {
	query := `
		SELECT l.id, l.employee_id, l.employee_code, mr.request_time
		FROM meal_request_lines l
		JOIN meal_requests mr ON mr.id = l.meal_request_id
		WHERE l.is_deleted = FALSE
		  AND mr.is_deleted = FALSE
		  AND mr.request_time >= $1
		ORDER BY mr.request_time, l.id
	`
	rows, err := r.DB.QueryContext(ctx, query, since.UTC())
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()
	return collectSyncLines(rows)
}

// GetSyncLinesByIDs returns the sync shape for specific line ids, chunked.
func (r *MealRequestRepo) GetSyncLinesByIDs(ctx context.Context, lineIDs []string) ([]*model.SyncLine, error) {
	var out []*model.SyncLine
	for _, chunk := range pgxutil.Chunk(lineIDs) {
		query := `
			SELECT l.id, l.employee_id, l.employee_code, mr.request_time
			FROM meal_request_lines l
			JOIN meal_requests mr ON mr.id = l.meal_request_id
			WHERE l.is_deleted = FALSE AND l.id IN (` + pgxutil.Placeholders(1, len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		lines, err := collectSyncLines(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}

// GetAttendanceByLineIDs returns existing attendance rows for the lines, chunked.
func (r *MealRequestRepo) GetAttendanceByLineIDs(
	ctx context.Context,
	lineIDs []string,
) ([]*model.MealRequestLineAttendance, error) {
	var out []*model.MealRequestLineAttendance
	for _, chunk := range pgxutil.Chunk(lineIDs) {
		query := `
			SELECT id, meal_request_line_id, employee_code, attendance_date,
			       attendance_in, attendance_out, working_hours, attendance_synced_at
			FROM meal_request_line_attendance
			WHERE meal_request_line_id IN (` + pgxutil.Placeholders(1, len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := r.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, apperrors.MapDBError(err)
		}
		records, err := collectAttendance(rows)
		rows.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// UpsertAttendance writes the 1:1 attendance record for a line.
func (r *MealRequestRepo) UpsertAttendance(ctx context.Context, a model.MealRequestLineAttendance) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	query := `
		INSERT INTO meal_request_line_attendance
		  (id, meal_request_line_id, employee_code, attendance_date,
		   attendance_in, attendance_out, working_hours, attendance_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (meal_request_line_id) DO UPDATE SET
		  employee_code = EXCLUDED.employee_code,
		  attendance_date = EXCLUDED.attendance_date,
		  attendance_in = EXCLUDED.attendance_in,
		  attendance_out = EXCLUDED.attendance_out,
		  working_hours = EXCLUDED.working_hours,
		  attendance_synced_at = EXCLUDED.attendance_synced_at
	`
	_, err := r.DB.ExecContext(ctx, query,
		a.ID, a.MealRequestLineID, a.EmployeeCode, a.AttendanceDate.UTC(),
		a.AttendanceIn, a.AttendanceOut, a.WorkingHours, a.AttendanceSyncedAt.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// SetLineAttendanceTime mirrors the synced punch onto the line itself.
func (r *MealRequestRepo) SetLineAttendanceTime(ctx context.Context, lineID string, at *time.Time) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE meal_request_lines SET attendance_time = $2 WHERE id = $1`,
		lineID, at,
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// buildSummariesQuery assembles the listing statement. Department visibility
// is an EXISTS predicate on the request, not a join filter: a visible request
// reports its full line_count and accepted_count, not just the lines in the
// caller's departments.
func buildSummariesQuery(opts model.MealRequestListOptions) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	sb.WriteString(`
		SELECT mr.id, mr.status_id, s.code, u.username,
		       mt.name_en, mt.name_ar, mr.request_time,
		       COUNT(l.id) AS line_count,
		       COUNT(l.id) FILTER (WHERE l.is_accepted) AS accepted_count
		FROM meal_requests mr
		JOIN meal_request_statuses s ON s.id = mr.status_id
		JOIN users u ON u.id = mr.requester_id
		JOIN meal_types mt ON mt.id = mr.meal_type_id
		JOIN meal_request_lines l ON l.meal_request_id = mr.id AND l.is_deleted = FALSE
		WHERE mr.is_deleted = FALSE`)

	if len(opts.StatusIDs) > 0 {
		placeholders := make([]string, len(opts.StatusIDs))
		for i, id := range opts.StatusIDs {
			placeholders[i] = arg(id)
		}
		sb.WriteString(` AND mr.status_id IN (` + strings.Join(placeholders, ", ") + `)`)
	}
	if opts.Requester != "" {
		if _, err := uuid.Parse(opts.Requester); err == nil {
			sb.WriteString(` AND mr.requester_id = ` + arg(opts.Requester))
		} else {
			sb.WriteString(` AND u.username ILIKE ` + arg("%"+opts.Requester+"%"))
		}
	}
	if opts.From != nil {
		sb.WriteString(` AND mr.request_time >= ` + arg(opts.From.UTC()))
	}
	if opts.To != nil {
		sb.WriteString(` AND mr.request_time <= ` + arg(opts.To.UTC()))
	}
	if len(opts.VisibleDepartmentIDs) > 0 {
		placeholders := make([]string, len(opts.VisibleDepartmentIDs))
		for i, id := range opts.VisibleDepartmentIDs {
			placeholders[i] = arg(id)
		}
		sb.WriteString(` AND EXISTS (
			SELECT 1 FROM meal_request_lines vl
			JOIN employees ve ON ve.id = vl.employee_id
			WHERE vl.meal_request_id = mr.id
			  AND vl.is_deleted = FALSE
			  AND ve.department_id IN (` + strings.Join(placeholders, ", ") + `)
		)`)
	}

	sb.WriteString(`
		GROUP BY mr.id, mr.status_id, s.code, u.username, mt.name_en, mt.name_ar, mr.request_time
		HAVING COUNT(l.id) > 0
		ORDER BY mr.request_time DESC, mr.id
	`)
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ` + arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(` OFFSET ` + arg(opts.Offset))
	}
	return sb.String(), args
}

// ListSummaries returns the bilingual listing rows. Requests whose visible
// line count is zero after filtering are dropped via HAVING.
func (r *MealRequestRepo) ListSummaries(
	ctx context.Context,
	opts model.MealRequestListOptions,
) ([]*model.MealRequestSummary, error) {
	query, args := buildSummariesQuery(opts)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var summaries []*model.MealRequestSummary
	for rows.Next() {
		var s model.MealRequestSummary
		scanErr := rows.Scan(
			&s.MealRequestID, &s.StatusID, &s.StatusName, &s.RequesterName,
			&s.MealTypeNameEn, &s.MealTypeNameAr, &s.RequestTime,
			&s.LineCount, &s.AcceptedCount,
		)
		if scanErr != nil {
			return nil, fmt.Errorf("scan summary: %w", scanErr)
		}
		s.RequestTime = CoerceUTC(s.RequestTime)
		summaries = append(summaries, &s)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return summaries, nil
}

func scanMealRequest(row rowScanner) (*model.MealRequest, error) {
	var (
		m          model.MealRequest
		notes      sql.NullString
		closedBy   sql.NullString
		closedTime sql.NullTime
		originalID sql.NullString
	)
	err := row.Scan(
		&m.ID, &m.RequesterID, &m.StatusID, &m.MealTypeID, &m.RequestTime,
		&notes, &closedBy, &closedTime, &m.IsDeleted, &originalID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Notes = nullStringPtr(notes)
	m.ClosedByID = nullStringPtr(closedBy)
	m.ClosedTime = nullTimePtr(closedTime)
	m.OriginalRequestID = nullStringPtr(originalID)
	m.RequestTime = CoerceUTC(m.RequestTime)
	m.CreatedAt = CoerceUTC(m.CreatedAt)
	m.UpdatedAt = CoerceUTC(m.UpdatedAt)
	return &m, nil
}

func collectLines(rows *sql.Rows) ([]*model.MealRequestLine, error) {
	var lines []*model.MealRequestLine
	for rows.Next() {
		var (
			l              model.MealRequestLine
			attendanceTime sql.NullTime
			shiftHours     sql.NullFloat64
			notes          sql.NullString
		)
		err := rows.Scan(
			&l.ID, &l.MealRequestID, &l.EmployeeID, &l.EmployeeCode,
			&attendanceTime, &shiftHours, &notes, &l.IsAccepted, &l.IsDeleted, &l.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan line: %w", err)
		}
		l.AttendanceTime = nullTimePtr(attendanceTime)
		if shiftHours.Valid {
			l.ShiftHours = &shiftHours.Float64
		}
		l.Notes = nullStringPtr(notes)
		l.CreatedAt = CoerceUTC(l.CreatedAt)
		lines = append(lines, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return lines, nil
}

func collectSyncLines(rows *sql.Rows) ([]*model.SyncLine, error) {
	var lines []*model.SyncLine
	for rows.Next() {
		var l model.SyncLine
		if err := rows.Scan(&l.LineID, &l.EmployeeID, &l.EmployeeCode, &l.RequestTime); err != nil {
			return nil, fmt.Errorf("scan sync line: %w", err)
		}
		l.RequestTime = CoerceUTC(l.RequestTime)
		lines = append(lines, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return lines, nil
}

func collectAttendance(rows *sql.Rows) ([]*model.MealRequestLineAttendance, error) {
	var records []*model.MealRequestLineAttendance
	for rows.Next() {
		var (
			a            model.MealRequestLineAttendance
			in, out      sql.NullTime
			workingHours sql.NullFloat64
		)
		err := rows.Scan(
			&a.ID, &a.MealRequestLineID, &a.EmployeeCode, &a.AttendanceDate,
			&in, &out, &workingHours, &a.AttendanceSyncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		a.AttendanceIn = nullTimePtr(in)
		a.AttendanceOut = nullTimePtr(out)
		if workingHours.Valid {
			a.WorkingHours = &workingHours.Float64
		}
		a.AttendanceDate = CoerceUTC(a.AttendanceDate)
		a.AttendanceSyncedAt = CoerceUTC(a.AttendanceSyncedAt)
		records = append(records, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return records, nil
}
