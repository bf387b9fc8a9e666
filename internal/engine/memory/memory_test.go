package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n3flow/core/internal/engine/value"
)

func TestWriteAndRecallSessionScope(t *testing.T) {
	store := NewStore(nil, nil)
	scope := Scope{SessionID: "s1"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Write(KindShort, scope, value.Str("hello"), []string{"greeting"}, now)
	store.Write(KindShort, scope, value.Str("world"), nil, now)

	entries := store.Recall(KindShort, scope, now, 0)
	require.Len(t, entries, 2)
}

func TestRecallFallsBackToUserScope(t *testing.T) {
	store := NewStore(nil, nil)
	now := time.Now()
	store.Write(KindLong, Scope{UserID: "u1"}, value.Str("note"), nil, now)

	entries := store.Recall(KindLong, Scope{SessionID: "s-empty", UserID: "u1"}, now, 0)
	require.Len(t, entries, 1)
	assert.Equal(t, value.Str("note"), entries[0].Content)
}

func TestRecallSkipsExpired(t *testing.T) {
	policies := map[Kind]RetentionPolicy{KindShort: {TTL: time.Minute}}
	store := NewStore(policies, nil)
	scope := Scope{SessionID: "s1"}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Write(KindShort, scope, value.Str("stale"), nil, now)

	later := now.Add(2 * time.Minute)
	entries := store.Recall(KindShort, scope, later, 0)
	assert.Empty(t, entries)
}

func TestRecallOrdersByDecayedWeight(t *testing.T) {
	policies := map[Kind]RetentionPolicy{KindLong: {HalfLife: time.Hour}}
	store := NewStore(policies, nil)
	scope := Scope{SessionID: "s1"}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Write(KindLong, scope, value.Str("old"), nil, base)
	store.Write(KindLong, scope, value.Str("new"), nil, base.Add(59*time.Minute))

	entries := store.Recall(KindLong, scope, base.Add(time.Hour), 0)
	require.Len(t, entries, 2)
	assert.Equal(t, value.Str("new"), entries[0].Content)
}

func TestRecallLimit(t *testing.T) {
	store := NewStore(nil, nil)
	scope := Scope{SessionID: "s1"}
	now := time.Now()
	for i := 0; i < 5; i++ {
		store.Write(KindShort, scope, value.Int(int64(i)), nil, now)
	}
	entries := store.Recall(KindShort, scope, now, 2)
	assert.Len(t, entries, 2)
}

func TestComposeFiltersByTagAndLimit(t *testing.T) {
	store := NewStore(nil, nil)
	scope := Scope{SessionID: "s1"}
	now := time.Now()
	store.Write(KindShort, scope, value.Str("a"), []string{"x"}, now)
	store.Write(KindLong, scope, value.Str("b"), []string{"y"}, now)
	store.Write(KindLong, scope, value.Str("c"), []string{"x"}, now)

	out := store.Compose(RecallRule{Kinds: []Kind{KindShort, KindLong}, Tags: []string{"x"}, Limit: 5}, scope, now)
	require.Len(t, out, 2)
	for _, e := range out {
		assert.Contains(t, e.Tags, "x")
	}
}

func TestWriteScrubsPII(t *testing.T) {
	store := NewStore(nil, NewScrubber())
	scope := Scope{SessionID: "s1"}
	now := time.Now()

	entry := store.Write(KindProfile, scope, value.Str("contact me at jane@example.com"), nil, now)
	assert.NotContains(t, entry.Content.Str, "jane@example.com")
	assert.Contains(t, entry.Content.Str, "[redacted]")
}

func TestScrubberRecursesThroughCollections(t *testing.T) {
	s := NewScrubber()
	input := value.Map(map[string]value.Value{
		"emails": value.List([]value.Value{value.Str("a@b.com"), value.Str("plain text")}),
		"ssn":    value.Str("123-45-6789"),
	})
	out := s.Scrub(input)
	assert.Equal(t, value.Str("[redacted]"), out.Map["ssn"])
	assert.Equal(t, value.Str("[redacted]"), out.Map["emails"].List[0])
	assert.Equal(t, value.Str("plain text"), out.Map["emails"].List[1])
}
