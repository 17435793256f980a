package model

import "time"

// Meal-request status codes. Stable and wire-visible.
const (
	MealRequestStatusPending    = 1
	MealRequestStatusApproved   = 2
	MealRequestStatusRejected   = 3
	MealRequestStatusOnProgress = 4
)

// MealRequestStatusName returns the canonical code name for a status id.
func MealRequestStatusName(id int) string {
	switch id {
	case MealRequestStatusPending:
		return "pending"
	case MealRequestStatusApproved:
		return "approved"
	case MealRequestStatusRejected:
		return "rejected"
	case MealRequestStatusOnProgress:
		return "on_progress"
	default:
		return "unknown"
	}
}

// MealRequest is the root of the request lifecycle. OriginalRequestID points at
// the chain root when this request is a copy; the root itself carries nil.
type MealRequest struct {
	ID                string     `json:"id"`
	RequesterID       string     `json:"requester_id"`
	StatusID          int        `json:"status_id"`
	MealTypeID        string     `json:"meal_type_id"`
	RequestTime       time.Time  `json:"request_time"`
	Notes             *string    `json:"notes,omitempty"`
	ClosedByID        *string    `json:"closed_by_id,omitempty"`
	ClosedTime        *time.Time `json:"closed_time,omitempty"`
	IsDeleted         bool       `json:"is_deleted"`
	OriginalRequestID *string    `json:"original_request_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ChainRoot returns the id identifying this request's copy chain.
func (r *MealRequest) ChainRoot() string {
	if r.OriginalRequestID != nil {
		return *r.OriginalRequestID
	}
	return r.ID
}

// MealRequestLine is one employee entry on a request. EmployeeCode is a
// denormalised snapshot of Employee.Code at creation time; AttendanceTime is
// populated asynchronously by the attendance sync.
type MealRequestLine struct {
	ID             string     `json:"id"`
	MealRequestID  string     `json:"meal_request_id"`
	EmployeeID     int64      `json:"employee_id"`
	EmployeeCode   string     `json:"employee_code"`
	AttendanceTime *time.Time `json:"attendance_time,omitempty"`
	ShiftHours     *float64   `json:"shift_hours,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	IsAccepted     bool       `json:"is_accepted"`
	IsDeleted      bool       `json:"is_deleted"`
	CreatedAt      time.Time  `json:"created_at"`
}

// MealRequestLineAttendance is the 1:1 attendance record for a line, synced
// from the external time-management source.
type MealRequestLineAttendance struct {
	ID                string     `json:"id"`
	MealRequestLineID string     `json:"meal_request_line_id"`
	EmployeeCode      string     `json:"employee_code"`
	AttendanceDate    time.Time  `json:"attendance_date"`
	AttendanceIn      *time.Time `json:"attendance_in,omitempty"`
	AttendanceOut     *time.Time `json:"attendance_out,omitempty"`
	// WorkingHours is decimal(4,2); nil when the punches could not produce one.
	WorkingHours       *float64  `json:"working_hours,omitempty"`
	AttendanceSyncedAt time.Time `json:"attendance_synced_at"`
}

// CreateMealRequestParams groups inputs for creating a request with lines.
// OriginalRequestID is set only on the copy path and always points at the
// chain root.
type CreateMealRequestParams struct {
	RequesterID       string
	MealTypeID        string
	Notes             *string
	OriginalRequestID *string
	Lines             []CreateMealRequestLineParams
}

// CreateMealRequestLineParams is one requested employee line.
type CreateMealRequestLineParams struct {
	EmployeeID int64
	ShiftHours *float64
	Notes      *string
}

// UpdateMealRequestStatusParams groups inputs for a status transition.
// ExpectedStatus enables optimistic concurrency: when set, the transition fails
// with status_already_changed if the current status differs.
type UpdateMealRequestStatusParams struct {
	RequestID      string
	NewStatus      int
	ActorID        string
	ExpectedStatus *int
}

// SyncLine is a line joined with its parent request_time, the shape the
// attendance sync operates on. AttendanceDate derives from the request time,
// not the line's created_at; that is the contract with the time source.
type SyncLine struct {
	LineID       string    `json:"line_id"`
	EmployeeID   int64     `json:"employee_id"`
	EmployeeCode string    `json:"employee_code"`
	RequestTime  time.Time `json:"request_time"`
}

// AttendanceDate returns the UTC calendar date the line's attendance keys on.
func (l *SyncLine) AttendanceDate() time.Time {
	t := l.RequestTime.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MealRequestSummary is the bilingual listing row.
type MealRequestSummary struct {
	MealRequestID  string    `json:"meal_request_id"`
	StatusID       int       `json:"status_id"`
	StatusName     string    `json:"status_name"`
	RequesterName  string    `json:"requester_name"`
	MealTypeNameEn string    `json:"meal_type_name_en"`
	MealTypeNameAr string    `json:"meal_type_name_ar"`
	RequestTime    time.Time `json:"request_time"`
	LineCount      int       `json:"line_count"`
	AcceptedCount  int       `json:"accepted_count"`
}

// MealRequestListOptions carries listing filters. Requester is matched exactly
// on requester_id when it parses as a UUID, otherwise as a case-insensitive
// username substring. VisibleDepartmentIDs scopes results to requests with at
// least one line in an assigned department; empty means no restriction.
type MealRequestListOptions struct {
	StatusIDs            []int
	Requester            string
	From                 *time.Time
	To                   *time.Time
	VisibleDepartmentIDs []string
	Limit                int
	Offset               int
}
