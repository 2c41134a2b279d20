package conflict

import (
	"sort"
)

// Equal reports deep structural equality between two payload values:
// order-insensitive for maps, order-sensitive for arrays. Numbers compare by
// value regardless of Go type, since payloads round-trip through JSON and come
// back as float64.
func Equal(a, b any) bool {
	if a == nil && b == nil {
		return true
	}

	if na, ok := asFloat(a); ok {
		nb, okb := asFloat(b)
		return okb && na == nb
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bvv, ok := bv[k]
			if !ok || !Equal(v, bvv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return a == b
	}
}

// Diff returns one FieldDiff per top-level field where the two snapshots
// differ under Equal, ordered by field name for determinism. A field present
// in only one snapshot counts as differing.
func Diff(local, server map[string]any) []FieldDiff {
	fields := make(map[string]struct{}, len(local)+len(server))
	for k := range local {
		fields[k] = struct{}{}
	}
	for k := range server {
		fields[k] = struct{}{}
	}

	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var diffs []FieldDiff
	for _, name := range names {
		lv, lok := local[name]
		sv, sok := server[name]
		if lok && sok && Equal(lv, sv) {
			continue
		}
		diffs = append(diffs, FieldDiff{Field: name, LocalValue: lv, ServerValue: sv})
	}

	return diffs
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
