package data

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// SessionRepo provides database operations for refresh sessions.
type SessionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewSessionRepo creates a new SessionRepo instance with the given database connection.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewSessionRepoWithTimeProvider creates a SessionRepo with a custom TimeProvider (useful for testing).
func NewSessionRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *SessionRepo {
	return &SessionRepo{DB: db, timeProvider: tp}
}

const sessionColumns = `
  id,
  user_id,
  refresh_token_id,
  created_at,
  last_seen_at,
  expires_at,
  revoked,
  device_info,
  ip_address,
  fingerprint,
  metadata
`

// Create persists a new session row.
func (r *SessionRepo) Create(ctx context.Context, p model.CreateSessionParams) (*model.Session, error) {
	now := r.timeProvider.Now()
	query := `
		INSERT INTO sessions (
		  id, user_id, refresh_token_id, created_at, last_seen_at, expires_at,
		  revoked, device_info, ip_address, fingerprint, metadata
		)
		VALUES ($1, $2, $3, $4, $4, $5, FALSE, $6, $7, $8, $9)
		RETURNING ` + sessionColumns
	row := r.DB.QueryRowContext(ctx, query,
		p.ID, p.UserID, p.RefreshTokenID, now, p.ExpiresAt.UTC(),
		p.DeviceInfo, p.IPAddress, p.Fingerprint, nullableJSON(p.Metadata),
	)
	sess, err := scanSession(row)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return sess, nil
}

// GetByID returns the session with the given id.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	sess, err := scanSession(r.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return sess, nil
}

// GetByRefreshTokenIDForUpdate locks the session row carrying the given
// refresh token jti inside tx. Concurrent refreshes serialise here; this row
// lock is the sole mechanism preventing refresh-token replay.
func (r *SessionRepo) GetByRefreshTokenIDForUpdate(
	ctx context.Context,
	tx *sql.Tx,
	refreshJTI string,
) (*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_id = $1 FOR UPDATE`
	sess, err := scanSession(tx.QueryRowContext(ctx, query, refreshJTI))
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return sess, nil
}

// RotateTx atomically replaces refresh_token_id and bumps last_seen_at within
// the transaction that holds the row lock.
func (r *SessionRepo) RotateTx(ctx context.Context, tx *sql.Tx, p model.RotateSessionParams) error {
	query := `
		UPDATE sessions
		SET refresh_token_id = $2, last_seen_at = $3
		WHERE id = $1 AND revoked = FALSE
	`
	res, err := tx.ExecContext(ctx, query, p.SessionID, p.NewRefreshTokenID, p.LastSeenAt.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.RevokedToken("session was revoked during rotation")
	}
	return nil
}

// Revoke marks a session revoked. Returns false when no row matched.
func (r *SessionRepo) Revoke(ctx context.Context, sessionID string) (bool, error) {
	query := `UPDATE sessions SET revoked = TRUE WHERE id = $1 AND revoked = FALSE`
	res, err := r.DB.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return n > 0, nil
}

// RevokeAllForUser revokes every active session of a user, optionally
// excluding one. Returns the number revoked.
func (r *SessionRepo) RevokeAllForUser(ctx context.Context, userID string, exceptSessionID *string) (int64, error) {
	query := `
		UPDATE sessions
		SET revoked = TRUE
		WHERE user_id = $1 AND revoked = FALSE AND ($2::uuid IS NULL OR id <> $2)
	`
	res, err := r.DB.ExecContext(ctx, query, userID, exceptSessionID)
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// ListActiveByUser returns unrevoked, unexpired sessions ordered oldest first,
// the order EnforceLimit revokes in.
func (r *SessionRepo) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*model.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY created_at ASC
	`
	rows, err := r.DB.QueryContext(ctx, query, userID, now.UTC())
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer rows.Close()

	var sessions []*model.Session
	for rows.Next() {
		sess, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan session: %w", scanErr)
		}
		sessions = append(sessions, sess)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, apperrors.MapDBError(rowsErr)
	}
	return sessions, nil
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		s           model.Session
		deviceInfo  sql.NullString
		ipAddress   sql.NullString
		fingerprint sql.NullString
		metadata    []byte
	)
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.RefreshTokenID,
		&s.CreatedAt,
		&s.LastSeenAt,
		&s.ExpiresAt,
		&s.Revoked,
		&deviceInfo,
		&ipAddress,
		&fingerprint,
		&metadata,
	)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = CoerceUTC(s.CreatedAt)
	s.LastSeenAt = CoerceUTC(s.LastSeenAt)
	s.ExpiresAt = CoerceUTC(s.ExpiresAt)
	s.DeviceInfo = nullStringPtr(deviceInfo)
	s.IPAddress = nullStringPtr(ipAddress)
	s.Fingerprint = nullStringPtr(fingerprint)
	if len(metadata) > 0 {
		s.Metadata = metadata
	}
	return &s, nil
}

// nullableJSON maps empty JSON to NULL for insertion.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

// RevokedTokenRepo provides database operations for the revoked-token table.
type RevokedTokenRepo struct {
	DB *sql.DB
}

// NewRevokedTokenRepo creates a new RevokedTokenRepo.
func NewRevokedTokenRepo(db *sql.DB) *RevokedTokenRepo {
	return &RevokedTokenRepo{DB: db}
}

// Insert records a revoked jti. Re-revoking the same jti is a no-op.
func (r *RevokedTokenRepo) Insert(ctx context.Context, t model.RevokedToken) error {
	query := `
		INSERT INTO revoked_tokens (jti, token_type, user_id, revoked_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (jti) DO NOTHING
	`
	_, err := r.DB.ExecContext(ctx, query, t.JTI, t.TokenType, t.UserID, t.RevokedAt.UTC(), t.ExpiresAt.UTC())
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Exists reports whether a jti has been revoked.
func (r *RevokedTokenRepo) Exists(ctx context.Context, jti string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`
	if err := r.DB.QueryRowContext(ctx, query, jti).Scan(&exists); err != nil {
		return false, apperrors.MapDBError(err)
	}
	return exists, nil
}

// DeleteExpired removes rows whose expires_at has passed. Returns rows deleted.
func (r *RevokedTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now.UTC())
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}
