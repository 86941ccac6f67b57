package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kaloyanBozhkov/linkbase/store"
)

func TestListFactsByRecencyQueryFilters(t *testing.T) {
	userID := int32(3)
	opts := &store.FactSearchOptions{
		UserID:           &userID,
		ConnectionIDs:    []int32{1, 2},
		SkipEmbeddingIDs: []int32{9},
		Limit:            11,
		Cursor:           &store.SearchCursor{LastFactID: 42},
	}

	query, args := listFactsByRecencyQuery(opts)

	assert.Contains(t, query, "c.user_id = ?")
	assert.Contains(t, query, "f.connection_id IN (?, ?)")
	assert.Contains(t, query, "f.embedding_id NOT IN (?)")
	assert.Contains(t, query, "f.id < ?")
	assert.Contains(t, query, "ORDER BY f.created_ts DESC, f.id DESC")
	assert.Contains(t, query, "LIMIT ?")
	assert.Equal(t, []any{int32(3), int32(1), int32(2), int32(9), int32(42), 11}, args)
}

func TestListFactsByRecencyQueryBare(t *testing.T) {
	query, args := listFactsByRecencyQuery(&store.FactSearchOptions{})

	assert.Contains(t, query, "WHERE 1 = 1")
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)
}
