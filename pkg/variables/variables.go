// Package variables implements per-instance variable scopes with
// last-write-wins merge and copy-on-snapshot semantics.
package variables

// Merge applies updates onto scope one key at a time, last write wins.
// Structured values replace wholesale; there is no deep merge. The scope
// map is mutated in place and also returned so callers can merge into nil.
func Merge(scope, updates map[string]any) map[string]any {
	if scope == nil {
		scope = make(map[string]any, len(updates))
	}

	for key, value := range updates {
		scope[key] = value
	}

	return scope
}

// Snapshot returns a deep copy of the scope. Values are limited to what
// JSON decoding produces (maps, slices, primitives), so a recursive copy is
// sufficient. Workers holding a snapshot never observe instance-side
// mutation.
func Snapshot(scope map[string]any) map[string]any {
	if scope == nil {
		return map[string]any{}
	}

	snapshot := make(map[string]any, len(scope))
	for key, value := range scope {
		snapshot[key] = copyValue(value)
	}

	return snapshot
}

func copyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		copied := make(map[string]any, len(typed))
		for key, inner := range typed {
			copied[key] = copyValue(inner)
		}

		return copied
	case []any:
		copied := make([]any, len(typed))
		for i, inner := range typed {
			copied[i] = copyValue(inner)
		}

		return copied
	default:
		return typed
	}
}
