package service

import (
	"context"
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

func newMealFixture(meals *fakeMealRepo, employees *fakeEmployeeRepo) *MealRequestService {
	tp := data.NewFixedTimeProvider(time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC))
	return NewMealRequestService(
		nil, meals, employees, nil, nil,
		tp, slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func TestMealRequestService_Create_Validation(t *testing.T) {
	svc := newMealFixture(newFakeMealRepo(), newFakeEmployeeRepo())

	tests := []struct {
		name  string
		p     model.CreateMealRequestParams
		field string
	}{
		{
			name:  "missing requester",
			p:     model.CreateMealRequestParams{MealTypeID: "mt-1", Lines: []model.CreateMealRequestLineParams{{EmployeeID: 1}}},
			field: "requester_id",
		},
		{
			name:  "missing meal type",
			p:     model.CreateMealRequestParams{RequesterID: "u-1", Lines: []model.CreateMealRequestLineParams{{EmployeeID: 1}}},
			field: "meal_type_id",
		},
		{
			name:  "no lines",
			p:     model.CreateMealRequestParams{RequesterID: "u-1", MealTypeID: "mt-1"},
			field: "lines",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.p)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			assert.Equal(t, tt.field, apperrors.GetField(err))
		})
	}
}

func TestMealRequestService_Create_AllLinesUnknown(t *testing.T) {
	// Employee repo is empty, so every line names an unknown employee.
	svc := newMealFixture(newFakeMealRepo(), newFakeEmployeeRepo())

	_, err := svc.Create(context.Background(), model.CreateMealRequestParams{
		RequesterID: "u-1",
		MealTypeID:  "mt-1",
		Lines: []model.CreateMealRequestLineParams{
			{EmployeeID: 404},
			{EmployeeID: 405},
		},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "lines", apperrors.GetField(err))
}

func TestMealRequestService_Copy_Guards(t *testing.T) {
	deleted := &model.MealRequest{ID: "r-del", RequesterID: "u-1", StatusID: model.MealRequestStatusApproved, IsDeleted: true}
	foreign := &model.MealRequest{ID: "r-foreign", RequesterID: "u-2", StatusID: model.MealRequestStatusApproved}
	pending := &model.MealRequest{ID: "r-pending", RequesterID: "u-1", StatusID: model.MealRequestStatusPending}
	approved := &model.MealRequest{ID: "r-ok", RequesterID: "u-1", StatusID: model.MealRequestStatusApproved}

	tests := []struct {
		name     string
		sourceID string
		check    func(t *testing.T, err error)
	}{
		{
			name:     "unknown source",
			sourceID: "r-missing",
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsNotFound(err))
			},
		},
		{
			name:     "deleted source reads as not found",
			sourceID: "r-del",
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsNotFound(err))
			},
		},
		{
			name:     "someone else's request",
			sourceID: "r-foreign",
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsAuthorization(err))
			},
		},
		{
			name:     "source still pending",
			sourceID: "r-pending",
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsValidation(err))
				assert.Contains(t, err.Error(), "still pending")
			},
		},
		{
			name:     "pending copy already in the chain",
			sourceID: "r-ok",
			check: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsValidation(err))
				assert.Contains(t, err.Error(), "pending copy already exists")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meals := newFakeMealRepo()
			for _, r := range []*model.MealRequest{deleted, foreign, pending, approved} {
				meals.requests[r.ID] = r
			}
			meals.pendingIn["r-ok"] = true
			svc := newMealFixture(meals, newFakeEmployeeRepo())

			_, _, err := svc.Copy(context.Background(), tt.sourceID, "u-1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestMealRequestService_Copy_ChecksChainRoot(t *testing.T) {
	// The source is itself a copy; the duplicate guard must look at the chain
	// root, not the immediate source.
	root := "r-root"
	meals := newFakeMealRepo()
	meals.requests["r-copy"] = &model.MealRequest{
		ID:                "r-copy",
		RequesterID:       "u-1",
		StatusID:          model.MealRequestStatusRejected,
		OriginalRequestID: &root,
	}
	meals.pendingIn[root] = true
	svc := newMealFixture(meals, newFakeEmployeeRepo())

	_, _, err := svc.Copy(context.Background(), "r-copy", "u-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestMealRequestService_UpdateStatus_RejectsUnknownCode(t *testing.T) {
	svc := newMealFixture(newFakeMealRepo(), newFakeEmployeeRepo())

	err := svc.UpdateStatus(context.Background(), model.UpdateMealRequestStatusParams{
		RequestID: "r-1",
		NewStatus: 99,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Equal(t, "status", apperrors.GetField(err))
}

func TestMealRequestService_Get(t *testing.T) {
	meals := newFakeMealRepo()
	meals.requests["r-1"] = &model.MealRequest{ID: "r-1", StatusID: model.MealRequestStatusPending}
	meals.requests["r-del"] = &model.MealRequest{ID: "r-del", IsDeleted: true}
	meals.lines["r-1"] = []*model.MealRequestLine{{ID: "l-1", EmployeeCode: "E100"}}
	svc := newMealFixture(meals, newFakeEmployeeRepo())

	t.Run("found with lines", func(t *testing.T) {
		request, lines, err := svc.Get(context.Background(), "r-1")
		require.NoError(t, err)
		assert.Equal(t, "r-1", request.ID)
		require.Len(t, lines, 1)
		assert.Equal(t, "E100", lines[0].EmployeeCode)
	})

	t.Run("soft-deleted reads as not found", func(t *testing.T) {
		_, _, err := svc.Get(context.Background(), "r-del")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("unknown id", func(t *testing.T) {
		_, _, err := svc.Get(context.Background(), "r-404")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestMealRequestService_List_DefaultStatusesHideOnProgress(t *testing.T) {
	meals := newFakeMealRepo()
	svc := newMealFixture(meals, newFakeEmployeeRepo())

	_, err := svc.List(context.Background(), "u-1", model.MealRequestListOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int{
		model.MealRequestStatusPending,
		model.MealRequestStatusApproved,
		model.MealRequestStatusRejected,
	}, meals.lastListOpts.StatusIDs)
	assert.NotContains(t, meals.lastListOpts.StatusIDs, model.MealRequestStatusOnProgress)
}

func TestMealRequestService_List_ExplicitStatusFilterKept(t *testing.T) {
	meals := newFakeMealRepo()
	svc := newMealFixture(meals, newFakeEmployeeRepo())

	_, err := svc.List(context.Background(), "u-1", model.MealRequestListOptions{
		StatusIDs: []int{model.MealRequestStatusOnProgress},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{model.MealRequestStatusOnProgress}, meals.lastListOpts.StatusIDs)
}

func TestMealRequestService_List_DepartmentVisibility(t *testing.T) {
	meals := newFakeMealRepo()
	employees := newFakeEmployeeRepo()
	employees.deptIDs = []string{"d-1", "d-2"}
	svc := newMealFixture(meals, employees)

	_, err := svc.List(context.Background(), "u-1", model.MealRequestListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"d-1", "d-2"}, meals.lastListOpts.VisibleDepartmentIDs)
}
