package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// SecurityUserRepo manages the local mirror of HRIS security users. The
// replicator owns every row in this table.
type SecurityUserRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSecurityUserRepo creates a new SecurityUserRepo.
func NewSecurityUserRepo(db *sql.DB) *SecurityUserRepo {
	return &SecurityUserRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSecurityUserRepoWithTimeProvider creates a SecurityUserRepo with a custom TimeProvider.
func NewSecurityUserRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SecurityUserRepo {
	return &SecurityUserRepo{DB: db, timeProvider: tp}
}

// MarkAllDeletedTx flags every mirror row deleted at the start of a run; the
// upsert pass clears the flag for users still present upstream.
func (r *SecurityUserRepo) MarkAllDeletedTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE hris_security_users SET is_deleted = TRUE, synced_at = $1 WHERE is_deleted = FALSE`,
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

// UpsertTx inserts or updates one mirror row keyed by the HRIS id. The
// employee link is intentionally not written here; LinkEmployeesTx sets it
// only when the referenced employee exists locally.
func (r *SecurityUserRepo) UpsertTx(ctx context.Context, tx *sql.Tx, u model.HRISSecurityUser) (bool, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO hris_security_users (id, user_name, employee_id, is_deleted, is_locked, synced_at, created_at)
		VALUES ($1, $2, NULL, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
		  user_name = EXCLUDED.user_name,
		  is_deleted = EXCLUDED.is_deleted,
		  is_locked = EXCLUDED.is_locked,
		  synced_at = EXCLUDED.synced_at
		RETURNING (xmax = 0) AS inserted
	`
	var inserted bool
	err := tx.QueryRowContext(ctx, query, u.ID, u.UserName, u.IsDeleted, u.IsLocked, now).Scan(&inserted)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	return inserted, nil
}

// LinkEmployeesTx attaches upstream employee ids to mirror rows, but only
// where the employee row exists locally so the foreign key cannot break on a
// partial upstream read.
func (r *SecurityUserRepo) LinkEmployeesTx(ctx context.Context, tx *sql.Tx) (int64, error) {
	query := `
		UPDATE hris_security_users su
		SET employee_id = src.employee_id,
		    synced_at = $1
		FROM hris_security_user_staging src
		WHERE su.id = src.id
		  AND src.employee_id IS NOT NULL
		  AND su.employee_id IS DISTINCT FROM src.employee_id
		  AND EXISTS (SELECT 1 FROM employees e WHERE e.id = src.employee_id)
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

// StageEmployeeLinksTx loads the snapshot's (id, employee_id) pairs into the
// per-transaction staging table LinkEmployeesTx joins against. Chunked so a
// large workforce stays within parameter limits.
func (r *SecurityUserRepo) StageEmployeeLinksTx(ctx context.Context, tx *sql.Tx, users []model.HRISSecurityUser) error {
	_, err := tx.ExecContext(ctx, `
		CREATE TEMPORARY TABLE IF NOT EXISTS hris_security_user_staging (
		  id BIGINT PRIMARY KEY,
		  employee_id BIGINT
		) ON COMMIT DROP
	`)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if _, err = tx.ExecContext(ctx, `TRUNCATE hris_security_user_staging`); err != nil {
		return apperrors.MapDBError(err)
	}

	const perRow = 2
	for start := 0; start < len(users); start += 500 {
		end := start + 500
		if end > len(users) {
			end = len(users)
		}
		chunk := users[start:end]

		query := `INSERT INTO hris_security_user_staging (id, employee_id) VALUES `
		args := make([]any, 0, len(chunk)*perRow)
		for i, u := range chunk {
			if i > 0 {
				query += ", "
			}
			query += fmt.Sprintf("($%d, $%d)", i*perRow+1, i*perRow+2)
			args = append(args, u.ID, u.EmployeeID)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return apperrors.MapDBError(err)
		}
	}
	return nil
}

// ListTx returns every non-deleted mirror row inside the run's transaction.
func (r *SecurityUserRepo) ListTx(ctx context.Context, tx *sql.Tx) ([]*model.SecurityUser, error) {
	query := `
		SELECT id, user_name, employee_id, is_deleted, is_locked, synced_at, created_at
		FROM hris_security_users
		WHERE is_deleted = FALSE
		ORDER BY id
	`
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var users []*model.SecurityUser
	for rows.Next() {
		var (
			u          model.SecurityUser
			employeeID sql.NullInt64
			createdAt  sql.NullTime
		)
		scanErr := rows.Scan(&u.ID, &u.UserName, &employeeID, &u.IsDeleted, &u.IsLocked, &u.SyncedAt, &createdAt)
		if scanErr != nil {
			return nil, fmt.Errorf("scan security user: %w", scanErr)
		}
		if employeeID.Valid {
			u.EmployeeID = &employeeID.Int64
		}
		u.SyncedAt = CoerceUTC(u.SyncedAt)
		u.CreatedAt = nullTimePtr(createdAt)
		users = append(users, &u)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return users, nil
}
