package data

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

// AuditLogRepo appends rows to the per-kind audit log tables. The tables are
// append-only; nothing in the core reads them back.
type AuditLogRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewAuditLogRepo creates a new AuditLogRepo.
func NewAuditLogRepo(db *sql.DB) *AuditLogRepo {
	return &AuditLogRepo{DB: db, timeProvider: &RealTimeProvider{}}
}

// NewAuditLogRepoWithTimeProvider creates an AuditLogRepo with a custom TimeProvider.
func NewAuditLogRepoWithTimeProvider(db *sql.DB, tp TimeProvider) *AuditLogRepo {
	return &AuditLogRepo{DB: db, timeProvider: tp}
}

// auditTable maps a log kind to its table. Unknown kinds land in the
// configuration log rather than being dropped.
func auditTable(kind model.AuditLogKind) string {
	switch kind {
	case model.AuditLogAuthentication:
		return "log_authentication"
	case model.AuditLogMealRequest:
		return "log_meal_requests"
	case model.AuditLogUser:
		return "log_users"
	case model.AuditLogRole:
		return "log_roles"
	case model.AuditLogReplication:
		return "log_replication"
	default:
		return "log_configuration"
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *AuditLogRepo) append(ctx context.Context, ex execer, e model.AuditEntry) error {
	at := e.At
	if at.IsZero() {
		at = r.timeProvider.Now()
	}
	query := `
		INSERT INTO ` + auditTable(e.Kind) + `
		  (id, action, actor_id, target_id, result, old_value, new_value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := ex.ExecContext(ctx, query,
		uuid.NewString(), e.Action, e.ActorID, e.TargetID,
		nullableJSON(e.Result), nullableJSON(e.OldValue), nullableJSON(e.NewValue), at.UTC(),
	)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Append writes one audit row outside any transaction.
func (r *AuditLogRepo) Append(ctx context.Context, e model.AuditEntry) error {
	return r.append(ctx, r.DB, e)
}

// AppendTx writes one audit row inside the caller's transaction so the event
// commits or rolls back with the change it records.
func (r *AuditLogRepo) AppendTx(ctx context.Context, tx *sql.Tx, e model.AuditEntry) error {
	return r.append(ctx, tx, e)
}
