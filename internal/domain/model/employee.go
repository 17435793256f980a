package model

import "time"

// Employee mirrors an HRIS employee. The primary key equals the external HRIS
// id, which makes replication upserts idempotent without a mapping table.
type Employee struct {
	ID           int64     `json:"id"`
	Code         string    `json:"code"`
	NameEn       string    `json:"name_en"`
	NameAr       string    `json:"name_ar"`
	Title        *string   `json:"title,omitempty"`
	IsActive     bool      `json:"is_active"`
	DepartmentID *string   `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Department is a bilingual organisational unit. ParentID is an adjacency link
// (on-delete set-null); cycles are never materialised.
type Department struct {
	ID        string    `json:"id"`
	HRISID    int64     `json:"hris_id"`
	NameEn    string    `json:"name_en"`
	NameAr    string    `json:"name_ar"`
	ParentID  *string   `json:"parent_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DepartmentAssignment links a user to a department for visibility scoping.
// Only rows with IsSyncedFromHRIS=true are deactivated during replication;
// manual rows are preserved.
type DepartmentAssignment struct {
	ID               string    `json:"id"`
	DepartmentID     string    `json:"department_id"`
	UserID           string    `json:"user_id"`
	IsSyncedFromHRIS bool      `json:"is_synced_from_hris"`
	IsActive         bool      `json:"is_active"`
	CreatedBy        *string   `json:"created_by,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UpsertEmployeeParams carries one HRIS employee into the local table.
type UpsertEmployeeParams struct {
	ID           int64
	Code         string
	NameEn       string
	NameAr       string
	Title        *string
	DepartmentID *string
}

// UpsertDepartmentParams carries one HRIS department into the local table.
// Parent linkage happens in a second pass once all ids are known.
type UpsertDepartmentParams struct {
	HRISID int64
	NameEn string
	NameAr string
}
