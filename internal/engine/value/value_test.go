package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruthy(t *testing.T) {
	assert.False(t, Null().Truthy())
	assert.False(t, Bool(false).Truthy())
	assert.True(t, Bool(true).Truthy())
	assert.False(t, Int(0).Truthy())
	assert.True(t, Int(1).Truthy())
	assert.False(t, Str("").Truthy())
	assert.True(t, Str("x").Truthy())
	assert.False(t, List(nil).Truthy())
	assert.True(t, List([]Value{Int(1)}).Truthy())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(Int(1), Int(1)))
	assert.True(t, Equal(Int(1), Float(1.0)))
	assert.False(t, Equal(Int(1), Int(2)))
	assert.True(t, Equal(Str("a"), Str("a")))
	assert.True(t, Equal(List([]Value{Int(1), Str("a")}), List([]Value{Int(1), Str("a")})))
	assert.False(t, Equal(List([]Value{Int(1)}), List([]Value{Int(1), Int(2)})))
	assert.True(t, Equal(Map(map[string]Value{"a": Int(1)}), Map(map[string]Value{"a": Int(1)})))
	assert.False(t, Equal(Str("1"), Int(1)))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(Int(1), Int(2)))
	assert.Equal(t, 1, Compare(Float(2.5), Int(1)))
	assert.Equal(t, 0, Compare(Int(3), Float(3.0)))
	assert.Equal(t, -1, Compare(Str("a"), Str("b")))
}

func TestNativeRoundTrip(t *testing.T) {
	m := map[string]any{
		"name": "alice",
		"age":  int64(30),
		"tags": []any{"a", "b"},
	}
	v := FromNative(m)
	assert.Equal(t, KindMap, v.Kind)
	back := v.Native()
	assert.Equal(t, m, back)
}

func TestFromNativeScalars(t *testing.T) {
	assert.Equal(t, KindNull, FromNative(nil).Kind)
	assert.Equal(t, KindBool, FromNative(true).Kind)
	assert.Equal(t, KindStr, FromNative("s").Kind)
	assert.Equal(t, KindInt, FromNative(7).Kind)
	assert.Equal(t, KindFloat, FromNative(1.5).Kind)
}

func TestSortKeys(t *testing.T) {
	m := map[string]Value{"b": Int(1), "a": Int(2), "c": Int(3)}
	assert.Equal(t, []string{"a", "b", "c"}, SortKeys(m))
}

func TestString(t *testing.T) {
	assert.Equal(t, "42", Int(42).String())
	assert.Equal(t, "true", Bool(true).String())
	assert.Equal(t, "null", Null().String())
	assert.Equal(t, "hi", Str("hi").String())
}
