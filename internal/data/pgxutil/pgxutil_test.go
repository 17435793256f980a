package pgxutil

import (
	"database/sql"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk(t *testing.T) {
	t.Run("empty input yields nil", func(t *testing.T) {
		assert.Nil(t, Chunk([]int64(nil)))
		assert.Nil(t, Chunk([]int64{}))
	})

	t.Run("small input is one chunk", func(t *testing.T) {
		chunks := Chunk([]int64{1, 2, 3})
		require.Len(t, chunks, 1)
		assert.Equal(t, []int64{1, 2, 3}, chunks[0])
	})

	t.Run("exactly chunk size is one chunk", func(t *testing.T) {
		items := make([]string, ChunkSize)
		chunks := Chunk(items)
		require.Len(t, chunks, 1)
		assert.Len(t, chunks[0], ChunkSize)
	})

	t.Run("large input splits preserving order", func(t *testing.T) {
		items := make([]int, ChunkSize*2+5)
		for i := range items {
			items[i] = i
		}
		chunks := Chunk(items)
		require.Len(t, chunks, 3)
		assert.Len(t, chunks[0], ChunkSize)
		assert.Len(t, chunks[1], ChunkSize)
		assert.Len(t, chunks[2], 5)

		assert.Equal(t, 0, chunks[0][0])
		assert.Equal(t, ChunkSize, chunks[1][0])
		assert.Equal(t, ChunkSize*2+4, chunks[2][4])
	})
}

func TestPlaceholders(t *testing.T) {
	tests := []struct {
		name     string
		start    int
		n        int
		expected string
	}{
		{"zero count", 1, 0, ""},
		{"negative count", 1, -3, ""},
		{"single from one", 1, 1, "$1"},
		{"several from one", 1, 3, "$1, $2, $3"},
		{"offset start", 4, 3, "$4, $5, $6"},
		{"double digit boundary", 9, 3, "$9, $10, $11"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Placeholders(tt.start, tt.n))
		})
	}
}

func TestToPgxIsoLevel(t *testing.T) {
	tests := []struct {
		level    sql.IsolationLevel
		expected pgx.TxIsoLevel
	}{
		{sql.LevelDefault, pgx.TxIsoLevel("")},
		{sql.LevelSerializable, pgx.Serializable},
		{sql.LevelLinearizable, pgx.Serializable},
		{sql.LevelRepeatableRead, pgx.RepeatableRead},
		{sql.LevelSnapshot, pgx.RepeatableRead},
		{sql.LevelReadCommitted, pgx.ReadCommitted},
		{sql.LevelWriteCommitted, pgx.ReadCommitted},
		{sql.LevelReadUncommitted, pgx.ReadUncommitted},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ToPgxIsoLevel(tt.level))
	}
}

func TestToPgxTxOptions(t *testing.T) {
	t.Run("nil options", func(t *testing.T) {
		opts := ToPgxTxOptions(nil)
		assert.Equal(t, pgx.TxOptions{}, opts)
	})

	t.Run("read only serializable", func(t *testing.T) {
		opts := ToPgxTxOptions(&sql.TxOptions{
			Isolation: sql.LevelSerializable,
			ReadOnly:  true,
		})
		assert.Equal(t, pgx.Serializable, opts.IsoLevel)
		assert.Equal(t, pgx.ReadOnly, opts.AccessMode)
	})

	t.Run("read write default", func(t *testing.T) {
		opts := ToPgxTxOptions(&sql.TxOptions{})
		assert.Equal(t, pgx.ReadWrite, opts.AccessMode)
	})
}
