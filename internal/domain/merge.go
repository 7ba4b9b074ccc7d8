package domain

// DeepMerge returns base with update merged in. Nested maps merge
// recursively; scalars, slices, and new keys from update overwrite; keys
// absent from update are preserved. Neither input is modified.
func DeepMerge(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for key, value := range base {
		out[key] = cloneValue(value)
	}
	for key, value := range update {
		nextMap, nextIsMap := value.(map[string]any)
		currentMap, currentIsMap := out[key].(map[string]any)
		if nextIsMap && currentIsMap {
			out[key] = DeepMerge(currentMap, nextMap)
			continue
		}
		out[key] = cloneValue(value)
	}
	return out
}

// cloneValue copies nested maps and slices so merged results never alias inputs.
func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
