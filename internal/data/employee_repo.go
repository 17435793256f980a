package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/mealdesk/mealdesk-api/internal/data/pgxutil"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// EmployeeRepo provides database operations for employees, departments, and
// department assignments.
type EmployeeRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewEmployeeRepo creates a new EmployeeRepo instance with the given database connection.
func NewEmployeeRepo(db *sql.DB) *EmployeeRepo {
	return &EmployeeRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewEmployeeRepoWithTimeProvider creates an EmployeeRepo with a custom TimeProvider.
func NewEmployeeRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *EmployeeRepo {
	return &EmployeeRepo{DB: db, timeProvider: tp}
}

const employeeColumns = `
  id,
  code,
  name_en,
  name_ar,
  title,
  is_active,
  department_id,
  created_at,
  updated_at
`

// GetByID returns the employee with the given id (the HRIS id).
func (r *EmployeeRepo) GetByID(ctx context.Context, id int64) (*model.Employee, error) {
	query := `SELECT ` + employeeColumns + ` FROM employees WHERE id = $1`
	emp, err := scanEmployee(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return emp, nil
}

// GetByCodes resolves employee codes to rows. Codes beyond the chunk size are
// split across queries, so callers may pass 10k+ codes.
func (r *EmployeeRepo) GetByCodes(ctx context.Context, codes []string) ([]*model.Employee, error) {
	var out []*model.Employee
	for _, chunk := range pgxutil.Chunk(codes) {
		query := `SELECT ` + employeeColumns + ` FROM employees WHERE code IN (` +
			pgxutil.Placeholders(1, len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, c := range chunk {
			args[i] = c
		}
		employees, err := r.queryEmployees(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, employees...)
	}
	return out, nil
}

// GetByIDs resolves employee ids to rows, chunked like GetByCodes.
func (r *EmployeeRepo) GetByIDs(ctx context.Context, ids []int64) ([]*model.Employee, error) {
	var out []*model.Employee
	for _, chunk := range pgxutil.Chunk(ids) {
		query := `SELECT ` + employeeColumns + ` FROM employees WHERE id IN (` +
			pgxutil.Placeholders(1, len(chunk)) + `)`
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		employees, err := r.queryEmployees(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		out = append(out, employees...)
	}
	return out, nil
}

func (r *EmployeeRepo) queryEmployees(ctx context.Context, query string, args ...any) ([]*model.Employee, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var employees []*model.Employee
	for rows.Next() {
		emp, scanErr := scanEmployee(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan employee: %w", scanErr)
		}
		employees = append(employees, emp)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return employees, nil
}

// DeactivateAllTx marks every employee inactive at the start of a replication
// run; the upsert pass reactivates the ones still present upstream.
func (r *EmployeeRepo) DeactivateAllTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE employees SET is_active = FALSE, updated_at = $1 WHERE is_active = TRUE`,
		r.timeProvider.Now(),
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

// UpsertTx inserts or updates one employee keyed by its HRIS id.
func (r *EmployeeRepo) UpsertTx(ctx context.Context, tx *sql.Tx, p model.UpsertEmployeeParams) (bool, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO employees (id, code, name_en, name_ar, title, is_active, department_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $7)
		ON CONFLICT (id) DO UPDATE SET
		  code = EXCLUDED.code,
		  name_en = EXCLUDED.name_en,
		  name_ar = EXCLUDED.name_ar,
		  title = EXCLUDED.title,
		  is_active = TRUE,
		  department_id = EXCLUDED.department_id,
		  updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := tx.QueryRowContext(ctx, query, p.ID, p.Code, p.NameEn, p.NameAr, p.Title, p.DepartmentID, now).
		Scan(&inserted)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return inserted, nil
}

// UpsertDepartmentTx inserts or updates a department by HRIS id without parent
// linkage (pass 1) and returns the local id for the hris→local map.
func (r *EmployeeRepo) UpsertDepartmentTx(
	ctx context.Context,
	tx *sql.Tx,
	p model.UpsertDepartmentParams,
) (string, bool, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO departments (id, hris_id, name_en, name_ar, parent_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, TRUE, $5, $5)
		ON CONFLICT (hris_id) DO UPDATE SET
		  name_en = EXCLUDED.name_en,
		  name_ar = EXCLUDED.name_ar,
		  is_active = TRUE,
		  updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted
	`
	var (
		localID  string
		inserted bool
	)
	err := tx.QueryRowContext(ctx, query, uuid.NewString(), p.HRISID, p.NameEn, p.NameAr, now).
		Scan(&localID, &inserted)
	if err != nil {
		return "", false, apperrors.MapDBError(err)
	}
	return localID, inserted, nil
}

// SetDepartmentParentTx links a department to its parent (pass 2). Nodes whose
// parent is absent stay top-level; callers simply skip them.
func (r *EmployeeRepo) SetDepartmentParentTx(ctx context.Context, tx *sql.Tx, localID, parentLocalID string) error {
	if localID == parentLocalID {
		return apperrors.Validation("department cannot be its own parent")
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE departments SET parent_id = $2, updated_at = $3 WHERE id = $1`,
		localID, parentLocalID, r.timeProvider.Now(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// DeactivateHRISAssignmentsTx deactivates HRIS-synced assignment rows only;
// manual rows are preserved across replication runs.
func (r *EmployeeRepo) DeactivateHRISAssignmentsTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE department_assignments
		SET is_active = FALSE, updated_at = $1
		WHERE is_synced_from_hris = TRUE AND is_active = TRUE
	`, r.timeProvider.Now())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

const assignmentColumns = `
  id,
  department_id,
  user_id,
  is_synced_from_hris,
  is_active,
  created_by,
  created_at,
  updated_at
`

// GetAssignmentTx returns the assignment for a (department, user) pair, or a
// not_found error.
func (r *EmployeeRepo) GetAssignmentTx(
	ctx context.Context,
	tx *sql.Tx,
	departmentID, userID string,
) (*model.DepartmentAssignment, error) {
	query := `SELECT ` + assignmentColumns + `
		FROM department_assignments WHERE department_id = $1 AND user_id = $2`
	a, err := scanAssignment(tx.QueryRowContext(ctx, query, departmentID, userID))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return a, nil
}

// ReactivateAssignmentTx reactivates an HRIS-synced assignment.
func (r *EmployeeRepo) ReactivateAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE department_assignments SET is_active = TRUE, updated_at = $2 WHERE id = $1`,
		id, r.timeProvider.Now(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// PromoteAssignmentTx converts a manual assignment to HRIS-managed after the
// external source re-asserted the same pair.
func (r *EmployeeRepo) PromoteAssignmentTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE department_assignments
		SET is_synced_from_hris = TRUE, is_active = TRUE, updated_at = $2
		WHERE id = $1
	`, id, r.timeProvider.Now())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// InsertAssignmentTx inserts a new HRIS-managed assignment.
func (r *EmployeeRepo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, departmentID, userID string) error {
	now := r.timeProvider.Now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO department_assignments
		  (id, department_id, user_id, is_synced_from_hris, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, TRUE, $4, $4)
	`, uuid.NewString(), departmentID, userID, now)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// ListAssignedDepartmentIDs returns the active department ids assigned to a user.
func (r *EmployeeRepo) ListAssignedDepartmentIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT department_id FROM department_assignments
		WHERE user_id = $1 AND is_active = TRUE
	`, userID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if scanErr := rows.Scan(&id); scanErr != nil {
			return nil, fmt.Errorf("scan department id: %w", scanErr)
		}
		ids = append(ids, id)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return ids, nil
}

func scanEmployee(row rowScanner) (*model.Employee, error) {
	var (
		e            model.Employee
		title        sql.NullString
		departmentID sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.Code, &e.NameEn, &e.NameAr, &title, &e.IsActive,
		&departmentID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Title = nullStringPtr(title)
	e.DepartmentID = nullStringPtr(departmentID)
	e.CreatedAt = CoerceUTC(e.CreatedAt)
	e.UpdatedAt = CoerceUTC(e.UpdatedAt)
	return &e, nil
}

func scanAssignment(row rowScanner) (*model.DepartmentAssignment, error) {
	var (
		a         model.DepartmentAssignment
		createdBy sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.DepartmentID, &a.UserID, &a.IsSyncedFromHRIS, &a.IsActive,
		&createdBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.CreatedBy = nullStringPtr(createdBy)
	a.CreatedAt = CoerceUTC(a.CreatedAt)
	a.UpdatedAt = CoerceUTC(a.UpdatedAt)
	return &a, nil
}
