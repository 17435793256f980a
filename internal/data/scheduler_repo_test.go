package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListSchedulableJobsDispatchOrder(t *testing.T) {
	// Due jobs are dispatched highest priority first, newest job first within
	// a priority.
	assert.Contains(t, listSchedulableJobsQuery, "ORDER BY j.priority DESC, j.created_at DESC")
}

func TestListExecutionsOrder(t *testing.T) {
	// Execution history lists newest scheduled first.
	assert.Contains(t, listExecutionsQuery, "ORDER BY scheduled_at DESC")
}
