// Package ports defines interfaces (hexagonal ports) for capabilities the core
// consumes. Implementations live in internal/adapters; orchestration in
// internal/service.
package ports

import (
	"context"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/domain/auth"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

// TokenAuthority signs and verifies the two token kinds. Verification rejects
// tokens whose type does not match the call site.
type TokenAuthority interface {
	// IssuePair signs a fresh access/refresh pair for the claims template.
	// The jti and exp fields of the template are ignored and generated.
	IssuePair(claims auth.Claims) (auth.TokenPair, error)

	// VerifyAccess parses and verifies an access token.
	VerifyAccess(token string) (*auth.Claims, error)

	// VerifyRefresh parses and verifies a refresh token.
	VerifyRefresh(token string) (*auth.Claims, error)
}

// Hasher hashes and verifies passwords. Legacy-hash migration policy lives in
// the implementation, not at call sites.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify returns nil when the password matches the stored hash.
	Verify(hash, password string) error
}

// DispatchRequest identifies one job invocation handed to the dispatcher.
type DispatchRequest struct {
	JobKey      string
	ExecutionID string
	TriggeredBy *string
	// Timeout bounds in-process execution wall clock; zero means unbounded.
	Timeout time.Duration
}

// DispatchOutcome tags the two dispatch results.
type DispatchOutcome int

const (
	// DispatchCompleted means the work ran in-process to a terminal state.
	DispatchCompleted DispatchOutcome = iota
	// DispatchHandedOff means the work was enqueued externally; the external
	// worker writes the terminal status through the same update path.
	DispatchHandedOff
)

// DispatchResult reports either in-process completion or external handoff.
type DispatchResult struct {
	Outcome DispatchOutcome

	// Completed route
	Succeeded bool
	Summary   string
	Err       error

	// Handed-off route
	TaskID string
}

// Dispatcher routes a job invocation to an in-process worker or an external
// queue. Implementations must complete or fail deterministically even when the
// external route is unavailable.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// JobFunc is an executable task function. The returned summary is recorded on
// the execution row.
type JobFunc func(ctx context.Context) (summary string, err error)

// ExecutionStarter stamps an execution as running the moment in-process work
// actually begins. Handed-off executions are stamped running at enqueue time
// instead.
type ExecutionStarter interface {
	MarkStarted(ctx context.Context, executionID string) error
}

// HRISSource reads a consistent snapshot from the external HR system of record.
type HRISSource interface {
	Snapshot(ctx context.Context) (*model.HRISSnapshot, error)
}

// TMSSource reads attendance records from the external time-management system.
type TMSSource interface {
	// AttendanceFor returns records for the given UTC calendar date and
	// external employee ids, one batched query per date.
	AttendanceFor(ctx context.Context, date time.Time, employeeIDs []int64) ([]model.TMSAttendance, error)
}
