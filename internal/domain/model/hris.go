package model

import "time"

// External HRIS records as read from the HR system of record. These never
// touch the local store directly; the replicator reconciles them.

// HRISEmployee is an active employee row from the external source.
type HRISEmployee struct {
	ID           int64  `json:"id"`
	Code         string `json:"code"`
	NameEn       string `json:"name_en"`
	NameAr       string `json:"name_ar"`
	Title        string `json:"title"`
	DepartmentID int64  `json:"department_id"`
}

// HRISDepartment is a department row with its external parent link.
type HRISDepartment struct {
	ID       int64  `json:"id"`
	NameEn   string `json:"name_en"`
	NameAr   string `json:"name_ar"`
	ParentID *int64 `json:"parent_id,omitempty"`
}

// HRISSecurityUser links a username to an external employee id and carries the
// account flags the status-sync phase reads.
type HRISSecurityUser struct {
	ID         int64  `json:"id"`
	UserName   string `json:"user_name"`
	EmployeeID *int64 `json:"employee_id,omitempty"`
	IsDeleted  bool   `json:"is_deleted"`
	IsLocked   bool   `json:"is_locked"`
}

// HRISAssignment is one (employee, department) visibility row.
type HRISAssignment struct {
	EmployeeID   int64 `json:"employee_id"`
	DepartmentID int64 `json:"department_id"`
}

// HRISSnapshot is a single consistent read of the external source. A nil slice
// (as opposed to an empty one) marks a failed read of that entity and aborts
// the replication run.
type HRISSnapshot struct {
	Employees     []HRISEmployee
	Departments   []HRISDepartment
	SecurityUsers []HRISSecurityUser
	Assignments   []HRISAssignment
}

// SecurityUser is the local mirror of an HRIS security user. The replicator
// owns every row; the linking phases read it to attach Users to Employees.
type SecurityUser struct {
	ID         int64      `json:"id"`
	UserName   string     `json:"user_name"`
	EmployeeID *int64     `json:"employee_id,omitempty"`
	IsDeleted  bool       `json:"is_deleted"`
	IsLocked   bool       `json:"is_locked"`
	SyncedAt   time.Time  `json:"synced_at"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// TMSAttendance is one attendance record from the external time-management
// source for a given employee and calendar date.
type TMSAttendance struct {
	EmployeeID   int64      `json:"employee_id"`
	Date         time.Time  `json:"date"`
	TimeIn       *time.Time `json:"time_in,omitempty"`
	TimeOut      *time.Time `json:"time_out,omitempty"`
	WorkingHours *float64   `json:"working_hours,omitempty"`
}

// ReplicationCounts summarises one replication operation.
type ReplicationCounts struct {
	Processed int `json:"records_processed"`
	Created   int `json:"records_created"`
	Updated   int `json:"records_updated"`
	Skipped   int `json:"records_skipped"`
	Failed    int `json:"records_failed"`
}

// ReplicationSummary aggregates per-operation counts for a full run.
type ReplicationSummary struct {
	Departments ReplicationCounts `json:"departments"`
	Employees   ReplicationCounts `json:"employees"`
	Users       ReplicationCounts `json:"security_users"`
	Assignments ReplicationCounts `json:"assignments"`
	DurationMS  int64             `json:"duration_ms"`
}

// AttendanceSyncResult aggregates one attendance-sync run.
type AttendanceSyncResult struct {
	Total     int `json:"total"`
	Synced    int `json:"synced"`
	Unchanged int `json:"unchanged"`
	NotFound  int `json:"not_found"`
	Errors    int `json:"errors"`
}
