package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedTimeProvider(t *testing.T) {
	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	tp := NewFixedTimeProvider(base)

	assert.Equal(t, base, tp.Now())

	tp.AddTime(90 * time.Minute)
	assert.Equal(t, base.Add(90*time.Minute), tp.Now())

	later := base.AddDate(0, 1, 0)
	tp.SetTime(later)
	assert.Equal(t, later, tp.Now())
}

func TestFixedTimeProvider_NormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("AST", 3*3600)
	local := time.Date(2026, 3, 15, 15, 0, 0, 0, loc)

	tp := NewFixedTimeProvider(local)
	assert.Equal(t, time.UTC, tp.Now().Location())
	assert.Equal(t, 12, tp.Now().Hour())
}

func TestCoerceUTC(t *testing.T) {
	t.Run("already UTC is unchanged", func(t *testing.T) {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		assert.Equal(t, ts, CoerceUTC(ts))
	})

	t.Run("local wall clock is reinterpreted not converted", func(t *testing.T) {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
		got := CoerceUTC(ts)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 3, got.Hour())
		assert.Equal(t, 4, got.Minute())
	})

	t.Run("named zone converts by offset", func(t *testing.T) {
		loc := time.FixedZone("AST", 3*3600)
		ts := time.Date(2026, 1, 2, 6, 0, 0, 0, loc)
		got := CoerceUTC(ts)
		assert.Equal(t, time.UTC, got.Location())
		assert.Equal(t, 3, got.Hour())
	})
}
