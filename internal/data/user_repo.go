package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

// UserRepo provides database operations for users, roles, and permissions.
type UserRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewUserRepo creates a new UserRepo instance with the given database connection.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewUserRepoWithTimeProvider creates a UserRepo with a custom TimeProvider (useful for testing).
func NewUserRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *UserRepo {
	return &UserRepo{DB: db, timeProvider: tp}
}

const userColumns = `
  id,
  username,
  password_hash,
  is_super_admin,
  is_active,
  is_blocked,
  user_source,
  preferred_lang,
  status_override,
  override_reason,
  override_set_by,
  override_set_at,
  employee_id,
  created_at,
  updated_at
`

// GetByID returns the user with the given id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	row := r.DB.QueryRowContext(ctx, query, id)
	user, err := scanUser(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return user, nil
}

// GetByUsername returns the user with the given username. Usernames are
// compared case-insensitively.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(username) = LOWER($1)`
	row := r.DB.QueryRowContext(ctx, query, username)
	user, err := scanUser(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return user, nil
}

// ListRoleNames returns the active role names granted to the user.
func (r *UserRepo) ListRoleNames(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT ro.name_en
		FROM role_permissions rp
		JOIN roles ro ON ro.id = rp.role_id
		WHERE rp.user_id = $1 AND ro.is_active = TRUE
		ORDER BY ro.name_en
	`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if scanErr := rows.Scan(&name); scanErr != nil {
			return nil, fmt.Errorf("scan role name: %w", scanErr)
		}
		names = append(names, name)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return names, nil
}

// LinkEmployeeTx attaches employees to users by case-insensitive username
// match against the security-user mirror. Only users without an employee link
// are touched, and an employee is never attached to two users.
func (r *UserRepo) LinkEmployeeTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := `
		UPDATE users u
		SET employee_id = su.employee_id,
		    updated_at = $1
		FROM hris_security_users su
		WHERE LOWER(u.username) = LOWER(su.user_name)
		  AND u.employee_id IS NULL
		  AND su.employee_id IS NOT NULL
		  AND su.is_deleted = FALSE
		  AND NOT EXISTS (
		      SELECT 1 FROM users other WHERE other.employee_id = su.employee_id
		  )
	`
	res, err := tx.ExecContext(ctx, query, r.timeProvider.Now())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// CreateStubTx inserts an inactive, passwordless HRIS-sourced user. Returns
// false when the username already exists or the employee is already linked.
func (r *UserRepo) CreateStubTx(ctx context.Context, tx *sql.Tx, p model.CreateStubUserParams) (bool, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO users (
		  id, username, password_hash, is_super_admin, is_active, is_blocked,
		  user_source, status_override, employee_id, created_at, updated_at
		)
		SELECT $1, $2, NULL, FALSE, FALSE, FALSE, $3, FALSE, $4, $5, $5
		WHERE NOT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($2))
		  AND NOT EXISTS (SELECT 1 FROM users WHERE employee_id = $4)
	`
	res, err := tx.ExecContext(ctx, query, p.ID, p.Username, model.UserSourceHRIS, p.EmployeeID, now)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// SyncStatusesTx applies Strategy A: HRIS-sourced users without a status
// override take is_active from the security-user mirror. Manual users and
// overridden users are never touched.
func (r *UserRepo) SyncStatusesTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := `
		UPDATE users u
		SET is_active = NOT (su.is_deleted OR su.is_locked),
		    updated_at = $1
		FROM hris_security_users su
		WHERE u.employee_id = su.employee_id
		  AND u.user_source = $2
		  AND u.status_override = FALSE
		  AND u.is_active <> NOT (su.is_deleted OR su.is_locked)
	`
	res, err := tx.ExecContext(ctx, query, r.timeProvider.Now(), model.UserSourceHRIS)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// CountOverrideConflictsTx counts overridden users the sync would otherwise
// have flipped, so the run summary can report them as skipped.
func (r *UserRepo) CountOverrideConflictsTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM users u
		JOIN hris_security_users su ON u.employee_id = su.employee_id
		WHERE u.user_source = $1
		  AND u.status_override = TRUE
		  AND u.is_active <> NOT (su.is_deleted OR su.is_locked)
	`
	var count int64
	if err := tx.QueryRowContext(ctx, query, model.UserSourceHRIS).Scan(&count); err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return count, nil
}

// MapEmployeeUsersTx returns employee_id → user id for every linked user, the
// lookup the assignment-sync phase resolves HRIS rows through.
func (r *UserRepo) MapEmployeeUsersTx(ctx context.Context, tx *sql.Tx) (map[int64]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT employee_id, id FROM users WHERE employee_id IS NOT NULL`)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			employeeID int64
			userID     string
		)
		if scanErr := rows.Scan(&employeeID, &userID); scanErr != nil {
			return nil, fmt.Errorf("scan employee link: %w", scanErr)
		}
		out[employeeID] = userID
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return out, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u             model.User
		passwordHash  sql.NullString
		preferredLang sql.NullString
		reason        sql.NullString
		setBy         sql.NullString
		setAt         sql.NullTime
		employeeID    sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&passwordHash,
		&u.IsSuperAdmin,
		&u.IsActive,
		&u.IsBlocked,
		&u.UserSource,
		&preferredLang,
		&u.StatusOverride,
		&reason,
		&setBy,
		&setAt,
		&employeeID,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if passwordHash.Valid {
		u.PasswordHash = &passwordHash.String
	}
	if preferredLang.Valid {
		u.PreferredLang = &preferredLang.String
	}
	if reason.Valid {
		u.OverrideReason = &reason.String
	}
	if setBy.Valid {
		u.OverrideSetBy = &setBy.String
	}
	if setAt.Valid {
		t := CoerceUTC(setAt.Time)
		u.OverrideSetAt = &t
	}
	if employeeID.Valid {
		u.EmployeeID = &employeeID.Int64
	}
	u.CreatedAt = CoerceUTC(u.CreatedAt)
	u.UpdatedAt = CoerceUTC(u.UpdatedAt)
	return &u, nil
}

// nullTimePtr converts a nullable time to a *time.Time in UTC.
func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := CoerceUTC(t.Time)
	return &v
}

// nullStringPtr converts a nullable string to a *string.
func nullStringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	return &s.String
}
