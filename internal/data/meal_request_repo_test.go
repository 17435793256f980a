package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mealdesk/mealdesk-api/internal/domain/model"
)

func TestBuildSummariesQuery_DepartmentVisibility(t *testing.T) {
	query, args := buildSummariesQuery(model.MealRequestListOptions{
		VisibleDepartmentIDs: []string{"d1", "d2"},
	})

	// Visibility scopes which requests appear, never which lines are counted:
	// the aggregate join stays unfiltered and the department restriction is an
	// EXISTS predicate on the request.
	assert.Contains(t, query, "AND EXISTS (")
	assert.Contains(t, query, "ve.department_id IN ($1, $2)")
	assert.NotContains(t, query, "JOIN employees e ON")
	assert.Equal(t, []any{"d1", "d2"}, args)
}

func TestBuildSummariesQuery_Filters(t *testing.T) {
	from := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)

	t.Run("status and window", func(t *testing.T) {
		query, args := buildSummariesQuery(model.MealRequestListOptions{
			StatusIDs: []int{1, 2},
			From:      &from,
			To:        &to,
			Limit:     20,
			Offset:    40,
		})
		assert.Contains(t, query, "mr.status_id IN ($1, $2)")
		assert.Contains(t, query, "mr.request_time >= $3")
		assert.Contains(t, query, "mr.request_time <= $4")
		assert.Contains(t, query, "LIMIT $5")
		assert.Contains(t, query, "OFFSET $6")
		assert.Equal(t, []any{1, 2, from, to, 20, 40}, args)
	})

	t.Run("requester by id", func(t *testing.T) {
		query, args := buildSummariesQuery(model.MealRequestListOptions{
			Requester: "7f6c2a6e-3f59-4b5b-9f0e-4d3f1b2a9c8d",
		})
		assert.Contains(t, query, "mr.requester_id = $1")
		require.Len(t, args, 1)
	})

	t.Run("requester by username fragment", func(t *testing.T) {
		query, args := buildSummariesQuery(model.MealRequestListOptions{
			Requester: "jdoe",
		})
		assert.Contains(t, query, "u.username ILIKE $1")
		assert.Equal(t, []any{"%jdoe%"}, args)
	})

	t.Run("empty requests are dropped", func(t *testing.T) {
		query, _ := buildSummariesQuery(model.MealRequestListOptions{})
		assert.Contains(t, query, "HAVING COUNT(l.id) > 0")
		assert.Contains(t, query, "ORDER BY mr.request_time DESC, mr.id")
	})
}
