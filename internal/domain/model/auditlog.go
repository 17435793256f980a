package model

import (
	"encoding/json"
	"time"
)

// AuditLogKind selects the append-only log table a row is written to.
type AuditLogKind string

const (
	AuditLogAuthentication AuditLogKind = "authentication"
	AuditLogMealRequest    AuditLogKind = "meal_request"
	AuditLogUser           AuditLogKind = "user"
	AuditLogRole           AuditLogKind = "role"
	AuditLogConfiguration  AuditLogKind = "configuration"
	AuditLogReplication    AuditLogKind = "replication"
)

// AuditEntry is one business event. The log tables are append-only and never
// read by the core; Result, OldValue, and NewValue are opaque JSON.
type AuditEntry struct {
	Kind     AuditLogKind    `json:"kind"`
	Action   string          `json:"action"`
	ActorID  *string         `json:"actor_id,omitempty"`
	TargetID *string         `json:"target_id,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
	At       time.Time       `json:"at"`
}
