package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/value"
)

func TestInsertAndQuery(t *testing.T) {
	s := NewStore()
	s.Insert("users", map[string]value.Value{"name": value.Str("ada")})
	s.Insert("users", map[string]value.Value{"name": value.Str("bob")})

	rows := s.Query("users", nil)
	require.Len(t, rows, 2)
	assert.Equal(t, value.Str("ada"), rows[0].Fields["name"])
}

func TestQueryFilters(t *testing.T) {
	s := NewStore()
	s.Insert("users", map[string]value.Value{"age": value.Int(20)})
	s.Insert("users", map[string]value.Value{"age": value.Int(30)})
	s.Insert("users", map[string]value.Value{"age": value.Int(40)})

	rows := s.Query("users", []Filter{{Field: "age", Op: "gte", Value: value.Int(30)}})
	assert.Len(t, rows, 2)

	rows = s.Query("users", []Filter{{Field: "age", Op: "in", Value: value.List([]value.Value{value.Int(20), value.Int(40)})}})
	assert.Len(t, rows, 2)
}

func TestQueryMissingFrame(t *testing.T) {
	s := NewStore()
	assert.Nil(t, s.Query("nope", nil))
}

func TestDelete(t *testing.T) {
	s := NewStore()
	s.Insert("users", map[string]value.Value{"name": value.Str("ada")})
	s.Insert("users", map[string]value.Value{"name": value.Str("bob")})

	removed := s.Delete("users", []Filter{{Field: "name", Op: "eq", Value: value.Str("ada")}})
	assert.Equal(t, 1, removed)
	assert.Len(t, s.Query("users", nil), 1)
}

func TestSnapshotRestore(t *testing.T) {
	s := NewStore()
	s.Insert("users", map[string]value.Value{"name": value.Str("ada")})
	snap := s.Snapshot()

	s.Insert("users", map[string]value.Value{"name": value.Str("bob")})
	assert.Len(t, s.Query("users", nil), 2)

	s.Restore(snap)
	rows := s.Query("users", nil)
	require.Len(t, rows, 1)
	assert.Equal(t, value.Str("ada"), rows[0].Fields["name"])
}
