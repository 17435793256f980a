// Package hris reads the external HR system of record over its own connection
// pool. The replicator consumes the snapshot; this adapter never writes.
package hris

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

// Source implements ports.HRISSource against the HR store.
type Source struct {
	db      *sql.DB
	timeout time.Duration
	logger  *slog.Logger
}

// NewSource creates the HRIS reader. The *sql.DB is the dedicated HR-store
// pool, not the application pool.
func NewSource(db *sql.DB, timeout time.Duration, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Source{db: db, timeout: timeout, logger: logger.With("component", "hris")}
}

// Snapshot reads all four entity sets. A failed per-entity read leaves that
// slice nil and logs; the replicator treats nil as "abort, do not commit".
func (s *Source) Snapshot(ctx context.Context) (*model.HRISSnapshot, error) {
	snap := &model.HRISSnapshot{}

	if employees, err := s.readEmployees(ctx); err != nil {
		s.logger.Warn("hris employee read failed", "error", err)
	} else {
		snap.Employees = employees
	}
	if departments, err := s.readDepartments(ctx); err != nil {
		s.logger.Warn("hris department read failed", "error", err)
	} else {
		snap.Departments = departments
	}
	if users, err := s.readSecurityUsers(ctx); err != nil {
		s.logger.Warn("hris security user read failed", "error", err)
	} else {
		snap.SecurityUsers = users
	}
	if assignments, err := s.readAssignments(ctx); err != nil {
		s.logger.Warn("hris assignment read failed", "error", err)
	} else {
		snap.Assignments = assignments
	}
	return snap, nil
}

func (s *Source) readEmployees(ctx context.Context) ([]model.HRISEmployee, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.employee_id, e.employee_code, e.name_en, e.name_ar,
		       COALESCE(e.job_title, ''), e.department_id
		FROM hr.employees e
		WHERE e.is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query hr employees: %w", err)
	}
	defer rows.Close()

	// Non-nil even when empty: an empty result is a legitimate read.
	employees := []model.HRISEmployee{}
	for rows.Next() {
		var e model.HRISEmployee
		if err = rows.Scan(&e.ID, &e.Code, &e.NameEn, &e.NameAr, &e.Title, &e.DepartmentID); err != nil {
			return nil, fmt.Errorf("scan hr employee: %w", err)
		}
		employees = append(employees, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hr employees: %w", err)
	}
	return employees, nil
}

func (s *Source) readDepartments(ctx context.Context) ([]model.HRISDepartment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT d.department_id, d.name_en, d.name_ar, d.parent_department_id
		FROM hr.departments d
	`)
	if err != nil {
		return nil, fmt.Errorf("query hr departments: %w", err)
	}
	defer rows.Close()

	departments := []model.HRISDepartment{}
	for rows.Next() {
		var (
			d      model.HRISDepartment
			parent sql.NullInt64
		)
		if err = rows.Scan(&d.ID, &d.NameEn, &d.NameAr, &parent); err != nil {
			return nil, fmt.Errorf("scan hr department: %w", err)
		}
		if parent.Valid {
			d.ParentID = &parent.Int64
		}
		departments = append(departments, d)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hr departments: %w", err)
	}
	return departments, nil
}

func (s *Source) readSecurityUsers(ctx context.Context) ([]model.HRISSecurityUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_id, u.user_name, u.employee_id,
		       COALESCE(u.is_deleted, 0), COALESCE(u.is_locked, 0)
		FROM hr.security_users u
	`)
	if err != nil {
		return nil, fmt.Errorf("query hr security users: %w", err)
	}
	defer rows.Close()

	users := []model.HRISSecurityUser{}
	for rows.Next() {
		var (
			u                   model.HRISSecurityUser
			employeeID          sql.NullInt64
			isDeleted, isLocked int
		)
		if err = rows.Scan(&u.ID, &u.UserName, &employeeID, &isDeleted, &isLocked); err != nil {
			return nil, fmt.Errorf("scan hr security user: %w", err)
		}
		if employeeID.Valid {
			u.EmployeeID = &employeeID.Int64
		}
		u.IsDeleted = isDeleted != 0
		u.IsLocked = isLocked != 0
		users = append(users, u)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hr security users: %w", err)
	}
	return users, nil
}

func (s *Source) readAssignments(ctx context.Context) ([]model.HRISAssignment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.employee_id, a.department_id
		FROM hr.employee_departments a
		WHERE a.is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("query hr assignments: %w", err)
	}
	defer rows.Close()

	assignments := []model.HRISAssignment{}
	for rows.Next() {
		var a model.HRISAssignment
		if err = rows.Scan(&a.EmployeeID, &a.DepartmentID); err != nil {
			return nil, fmt.Errorf("scan hr assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hr assignments: %w", err)
	}
	return assignments, nil
}
