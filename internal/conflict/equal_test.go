package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual_Scalars(t *testing.T) {
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("a", "b"))
	assert.True(t, Equal(true, true))
	assert.False(t, Equal(true, false))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, "x"))
}

func TestEqual_NumbersAcrossTypes(t *testing.T) {
	// Payloads round-trip through JSON, so 42 may come back as float64(42).
	assert.True(t, Equal(42, float64(42)))
	assert.True(t, Equal(int64(7), 7))
	assert.False(t, Equal(42, float64(42.5)))
	assert.False(t, Equal(42, "42"))
}

func TestEqual_MapsOrderInsensitive(t *testing.T) {
	a := map[string]any{"x": 1, "y": map[string]any{"z": "deep"}}
	b := map[string]any{"y": map[string]any{"z": "deep"}, "x": float64(1)}

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, map[string]any{"x": 1}))
	assert.False(t, Equal(a, map[string]any{"x": 1, "y": map[string]any{"z": "other"}}))
}

func TestEqual_ArraysOrderSensitive(t *testing.T) {
	assert.True(t, Equal([]any{1, 2, 3}, []any{float64(1), float64(2), float64(3)}))
	assert.False(t, Equal([]any{1, 2, 3}, []any{3, 2, 1}))
	assert.False(t, Equal([]any{1, 2}, []any{1, 2, 3}))
}

func TestDiff(t *testing.T) {
	local := map[string]any{
		"total":  100,
		"name":   "trench A",
		"status": "open",
	}
	server := map[string]any{
		"total":  float64(150),
		"name":   "trench A",
		"closed": true,
	}

	diffs := Diff(local, server)

	assert.Len(t, diffs, 3)
	// Sorted by field name for determinism.
	assert.Equal(t, "closed", diffs[0].Field)
	assert.Equal(t, "status", diffs[1].Field)
	assert.Equal(t, "total", diffs[2].Field)

	assert.Nil(t, diffs[0].LocalValue)
	assert.Equal(t, true, diffs[0].ServerValue)
	assert.Equal(t, 100, diffs[2].LocalValue)
	assert.Equal(t, float64(150), diffs[2].ServerValue)
}

func TestDiff_Identical(t *testing.T) {
	local := map[string]any{"a": 1, "b": []any{1, 2}}
	server := map[string]any{"a": float64(1), "b": []any{float64(1), float64(2)}}

	assert.Empty(t, Diff(local, server))
}

func TestMergePayloads(t *testing.T) {
	local := map[string]any{"total": 100, "note": "local note"}
	server := map[string]any{"total": 150, "note": "server note", "closed": true}

	merged := MergePayloads(local, server, []string{"total"})

	assert.Equal(t, 100, merged["total"])
	assert.Equal(t, "server note", merged["note"])
	assert.Equal(t, true, merged["closed"])
}

func TestMergePayloads_AbsentLocalFieldDeletes(t *testing.T) {
	local := map[string]any{"total": 100}
	server := map[string]any{"total": 150, "note": "server note"}

	merged := MergePayloads(local, server, []string{"note"})

	_, ok := merged["note"]
	assert.False(t, ok)
}
