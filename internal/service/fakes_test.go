package service

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/mealdesk/mealdesk-api/internal/core"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
	"github.com/mealdesk/mealdesk-api/internal/ports"
)

// Handwritten fakes embedding the port interfaces. Only the methods a test
// exercises are implemented; an unexpected call panics on the nil embed.

type fakeUserRepo struct {
	core.UserRepository

	users map[string]*model.User // keyed by id
	roles map[string][]string

	linked     int64
	synced     int64
	overridden int64
	stubs      []model.CreateStubUserParams
}

func newFakeUserRepo(users ...*model.User) *fakeUserRepo {
	r := &fakeUserRepo{
		users: make(map[string]*model.User),
		roles: make(map[string][]string),
	}
	for _, u := range users {
		r.users[u.ID] = u
	}
	return r
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := r.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.NotFoundf("user %s not found", id)
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, apperrors.NotFoundf("user %s not found", username)
}

func (r *fakeUserRepo) ListRoleNames(_ context.Context, userID string) ([]string, error) {
	return r.roles[userID], nil
}

func (r *fakeUserRepo) LinkEmployeeTx(_ context.Context, _ *sql.Tx) (int64, error) {
	return r.linked, nil
}

func (r *fakeUserRepo) CreateStubTx(_ context.Context, _ *sql.Tx, p model.CreateStubUserParams) (bool, error) {
	for _, u := range r.users {
		if strings.EqualFold(u.Username, p.Username) {
			return false, nil
		}
	}
	r.stubs = append(r.stubs, p)
	r.users[p.ID] = &model.User{ID: p.ID, Username: p.Username}
	return true, nil
}

func (r *fakeUserRepo) SyncStatusesTx(_ context.Context, _ *sql.Tx) (int64, error) {
	return r.synced, nil
}

func (r *fakeUserRepo) CountOverrideConflictsTx(_ context.Context, _ *sql.Tx) (int64, error) {
	return r.overridden, nil
}

type fakeSecurityUserRepo struct {
	core.SecurityUserRepository

	mirror []*model.SecurityUser
}

func (r *fakeSecurityUserRepo) ListTx(_ context.Context, _ *sql.Tx) ([]*model.SecurityUser, error) {
	return r.mirror, nil
}

type fakeSessionRepo struct {
	core.SessionRepository

	mu      sync.Mutex
	created []*model.Session
	active  []*model.Session
	revoked []string
}

func (r *fakeSessionRepo) Create(_ context.Context, p model.CreateSessionParams) (*model.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &model.Session{
		ID:             p.ID,
		UserID:         p.UserID,
		RefreshTokenID: p.RefreshTokenID,
		ExpiresAt:      p.ExpiresAt,
		DeviceInfo:     p.DeviceInfo,
		IPAddress:      p.IPAddress,
		Fingerprint:    p.Fingerprint,
		Metadata:       p.Metadata,
	}
	r.created = append(r.created, s)
	return s, nil
}

func (r *fakeSessionRepo) ListActiveByUser(_ context.Context, userID string, _ time.Time) ([]*model.Session, error) {
	out := make([]*model.Session, 0, len(r.active))
	for _, s := range r.active {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) Revoke(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked = append(r.revoked, sessionID)
	return true, nil
}

func (r *fakeSessionRepo) RevokeAllForUser(_ context.Context, userID string, _ *string) (int64, error) {
	var n int64
	for _, s := range r.active {
		if s.UserID == userID {
			r.revoked = append(r.revoked, s.ID)
			n++
		}
	}
	return n, nil
}

type fakeRevokedRepo struct {
	core.RevokedTokenRepository

	mu       sync.Mutex
	inserted []model.RevokedToken
	jtis     map[string]bool
	purged   int64
}

func newFakeRevokedRepo(jtis ...string) *fakeRevokedRepo {
	r := &fakeRevokedRepo{jtis: make(map[string]bool)}
	for _, j := range jtis {
		r.jtis[j] = true
	}
	return r
}

func (r *fakeRevokedRepo) Insert(_ context.Context, t model.RevokedToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, t)
	r.jtis[t.JTI] = true
	return nil
}

func (r *fakeRevokedRepo) Exists(_ context.Context, jti string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jtis[jti], nil
}

func (r *fakeRevokedRepo) DeleteExpired(_ context.Context, _ time.Time) (int64, error) {
	return r.purged, nil
}

type fakeAuditRepo struct {
	core.AuditLogRepository

	mu      sync.Mutex
	entries []model.AuditEntry
}

func (r *fakeAuditRepo) Append(_ context.Context, e model.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeAuditRepo) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Action
	}
	return out
}

type fakeEmployeeRepo struct {
	core.EmployeeRepository

	employees map[int64]*model.Employee
	deptIDs   []string
}

func newFakeEmployeeRepo(employees ...*model.Employee) *fakeEmployeeRepo {
	r := &fakeEmployeeRepo{employees: make(map[int64]*model.Employee)}
	for _, e := range employees {
		r.employees[e.ID] = e
	}
	return r
}

func (r *fakeEmployeeRepo) GetByIDs(_ context.Context, ids []int64) ([]*model.Employee, error) {
	var out []*model.Employee
	for _, id := range ids {
		if e, ok := r.employees[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *fakeEmployeeRepo) ListAssignedDepartmentIDs(_ context.Context, _ string) ([]string, error) {
	return r.deptIDs, nil
}

type fakeMealRepo struct {
	core.MealRequestRepository

	mu         sync.Mutex
	requests   map[string]*model.MealRequest
	lines      map[string][]*model.MealRequestLine
	pendingIn  map[string]bool // chain roots with a pending copy
	syncLines  []*model.SyncLine
	attendance map[string]*model.MealRequestLineAttendance

	upserts      []model.MealRequestLineAttendance
	lineTimes    map[string]*time.Time
	statusWrites map[string]int
	summaries    []*model.MealRequestSummary
	lastListOpts model.MealRequestListOptions
}

func newFakeMealRepo() *fakeMealRepo {
	return &fakeMealRepo{
		requests:     make(map[string]*model.MealRequest),
		lines:        make(map[string][]*model.MealRequestLine),
		pendingIn:    make(map[string]bool),
		attendance:   make(map[string]*model.MealRequestLineAttendance),
		lineTimes:    make(map[string]*time.Time),
		statusWrites: make(map[string]int),
	}
}

func (r *fakeMealRepo) GetByID(_ context.Context, id string) (*model.MealRequest, error) {
	if req, ok := r.requests[id]; ok {
		return req, nil
	}
	return nil, apperrors.NotFoundf("meal request %s not found", id)
}

func (r *fakeMealRepo) HasPendingCopy(_ context.Context, originalID, _ string) (bool, error) {
	return r.pendingIn[originalID], nil
}

func (r *fakeMealRepo) ListLines(_ context.Context, requestID string) ([]*model.MealRequestLine, error) {
	return r.lines[requestID], nil
}

func (r *fakeMealRepo) SetStatus(_ context.Context, requestID string, statusID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statusWrites[requestID] = statusID
	return nil
}

func (r *fakeMealRepo) ListLinesForSync(_ context.Context, _ time.Time) ([]*model.SyncLine, error) {
	return r.syncLines, nil
}

func (r *fakeMealRepo) GetSyncLinesByIDs(_ context.Context, lineIDs []string) ([]*model.SyncLine, error) {
	want := make(map[string]bool, len(lineIDs))
	for _, id := range lineIDs {
		want[id] = true
	}
	var out []*model.SyncLine
	for _, l := range r.syncLines {
		if want[l.LineID] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeMealRepo) GetAttendanceByLineIDs(_ context.Context, lineIDs []string) ([]*model.MealRequestLineAttendance, error) {
	var out []*model.MealRequestLineAttendance
	for _, id := range lineIDs {
		if a, ok := r.attendance[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeMealRepo) UpsertAttendance(_ context.Context, a model.MealRequestLineAttendance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upserts = append(r.upserts, a)
	r.attendance[a.MealRequestLineID] = &a
	return nil
}

func (r *fakeMealRepo) SetLineAttendanceTime(_ context.Context, lineID string, at *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lineTimes[lineID] = at
	return nil
}

func (r *fakeMealRepo) ListSummaries(_ context.Context, opts model.MealRequestListOptions) ([]*model.MealRequestSummary, error) {
	r.lastListOpts = opts
	return r.summaries, nil
}

type fakeTMSSource struct {
	mu      sync.Mutex
	records map[string][]model.TMSAttendance // keyed by yyyy-mm-dd
	err     error
	queries int
}

func (s *fakeTMSSource) AttendanceFor(_ context.Context, date time.Time, _ []int64) ([]model.TMSAttendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.err != nil {
		return nil, s.err
	}
	return s.records[date.Format("2006-01-02")], nil
}

type fakeSchedulerRepo struct {
	core.SchedulerRepository

	mu          sync.Mutex
	jobs        map[string]*model.ScheduledJob
	lastRun     map[string]time.Time
	activeID    string
	activeCount int

	releasedLocks  int64
	staleInstances int64
	purged         int64

	completed []model.CompleteExecutionParams
	released  []string          // "jobID/executionID" per ReleaseLock call
	handoffs  map[string]string // executionID -> appended summary
}

func newFakeSchedulerRepo(jobs ...*model.ScheduledJob) *fakeSchedulerRepo {
	r := &fakeSchedulerRepo{
		jobs:    make(map[string]*model.ScheduledJob),
		lastRun: make(map[string]time.Time),
	}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeSchedulerRepo) GetJob(_ context.Context, id string) (*model.ScheduledJob, error) {
	if j, ok := r.jobs[id]; ok {
		return j, nil
	}
	return nil, apperrors.NotFoundf("job %s not found", id)
}

func (r *fakeSchedulerRepo) SetJobLastRun(_ context.Context, jobID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun[jobID] = at
	return nil
}

func (r *fakeSchedulerRepo) ActiveExecutionID(_ context.Context, _ string) (string, bool, error) {
	return r.activeID, r.activeID != "", nil
}

func (r *fakeSchedulerRepo) CountActiveExecutions(_ context.Context, _ string) (int, error) {
	return r.activeCount, nil
}

func (r *fakeSchedulerRepo) CompleteExecution(_ context.Context, p model.CompleteExecutionParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, p)
	return nil
}

func (r *fakeSchedulerRepo) ReleaseLock(_ context.Context, jobID, executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, jobID+"/"+executionID)
	return nil
}

func (r *fakeSchedulerRepo) RecordHandoff(_ context.Context, executionID, summary string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handoffs == nil {
		r.handoffs = make(map[string]string)
	}
	r.handoffs[executionID] = summary
	return nil
}

func (r *fakeSchedulerRepo) ReleaseExpiredLocks(_ context.Context, _ time.Time) (int64, error) {
	return r.releasedLocks, nil
}

func (r *fakeSchedulerRepo) MarkStaleInstances(_ context.Context, _ time.Time) (int64, error) {
	return r.staleInstances, nil
}

func (r *fakeSchedulerRepo) PurgeExecutionsBefore(_ context.Context, _ time.Time) (int64, error) {
	return r.purged, nil
}

type fakeDispatcher struct {
	mu       sync.Mutex
	requests []ports.DispatchRequest
	result   ports.DispatchResult
	err      error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, req ports.DispatchRequest) (ports.DispatchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.result, d.err
}
