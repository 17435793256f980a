package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealdesk/mealdesk-api/internal/data"
	"github.com/mealdesk/mealdesk-api/internal/domain/model"
	apperrors "github.com/mealdesk/mealdesk-api/internal/errors"
)

type fakeHRISSource struct {
	snapshot *model.HRISSnapshot
	err      error
}

func (s *fakeHRISSource) Snapshot(context.Context) (*model.HRISSnapshot, error) {
	return s.snapshot, s.err
}

func newReplicatorFixture(source *fakeHRISSource, audit *fakeAuditRepo) *ReplicatorService {
	tp := data.NewFixedTimeProvider(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewReplicatorService(
		nil, source, newFakeUserRepo(), newFakeEmployeeRepo(), nil, audit,
		tp, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestReplicatorService_Run_SourceUnreachable(t *testing.T) {
	audit := &fakeAuditRepo{}
	svc := newReplicatorFixture(&fakeHRISSource{err: errors.New("connection refused")}, audit)

	_, err := svc.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExternalUnavailable, apperrors.GetCode(err))

	// The failure lands in the audit log even though no transaction opened.
	require.Len(t, audit.entries, 1)
	assert.Equal(t, "failed", audit.entries[0].Action)

	var detail map[string]string
	require.NoError(t, json.Unmarshal(audit.entries[0].Result, &detail))
	assert.Equal(t, "snapshot", detail["phase"])
	assert.Contains(t, detail["error"], "connection refused")
}

func TestReplicatorService_Run_IncompleteSnapshotAborts(t *testing.T) {
	// A nil entity slice marks a failed read. Running the deactivate phase
	// against it would wipe the local mirror, so the run must abort before
	// touching the store.
	tests := []struct {
		name     string
		snapshot *model.HRISSnapshot
	}{
		{
			name: "employees missing",
			snapshot: &model.HRISSnapshot{
				Departments:   []model.HRISDepartment{},
				SecurityUsers: []model.HRISSecurityUser{},
			},
		},
		{
			name: "departments missing",
			snapshot: &model.HRISSnapshot{
				Employees:     []model.HRISEmployee{},
				SecurityUsers: []model.HRISSecurityUser{},
			},
		},
		{
			name: "security users missing",
			snapshot: &model.HRISSnapshot{
				Employees:   []model.HRISEmployee{},
				Departments: []model.HRISDepartment{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit := &fakeAuditRepo{}
			svc := newReplicatorFixture(&fakeHRISSource{snapshot: tt.snapshot}, audit)

			_, err := svc.Run(context.Background())
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeExternalUnavailable, apperrors.GetCode(err))
			assert.Contains(t, err.Error(), "incomplete")
			assert.Equal(t, []string{"failed"}, audit.actions())
		})
	}
}

func int64Ptr(v int64) *int64 { return &v }

func TestReplicatorService_UserPhases_CreatesStubs(t *testing.T) {
	users := newFakeUserRepo(&model.User{ID: "u1", Username: "existing"})
	users.linked = 2
	users.synced = 3
	users.overridden = 1
	secUsers := &fakeSecurityUserRepo{mirror: []*model.SecurityUser{
		{ID: 1, UserName: "existing", EmployeeID: int64Ptr(42)},
		{ID: 2, UserName: "newcomer", EmployeeID: int64Ptr(77)},
		{ID: 3, UserName: "orphan"}, // no employee link, no stub
	}}
	tp := data.NewFixedTimeProvider(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	svc := NewReplicatorService(
		nil, &fakeHRISSource{}, users, newFakeEmployeeRepo(), secUsers, &fakeAuditRepo{},
		tp, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	var counts model.ReplicationCounts
	require.NoError(t, svc.userPhases(context.Background(), nil, &counts))

	// Only the mirror row with an employee link and no matching account
	// becomes a stub, carrying that employee id.
	require.Len(t, users.stubs, 1)
	stub := users.stubs[0]
	assert.Equal(t, "newcomer", stub.Username)
	assert.Equal(t, int64(77), stub.EmployeeID)
	assert.NotEmpty(t, stub.ID)

	assert.Equal(t, 1, counts.Created)
	assert.Equal(t, 5, counts.Updated) // linked + status-synced
	assert.Equal(t, 1, counts.Skipped) // override conflicts
}

func TestReplicatorService_RunAsJob_PropagatesFailure(t *testing.T) {
	svc := newReplicatorFixture(&fakeHRISSource{err: errors.New("timeout")}, &fakeAuditRepo{})

	_, err := svc.RunAsJob(context.Background())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeExternalUnavailable, apperrors.GetCode(err))
}
