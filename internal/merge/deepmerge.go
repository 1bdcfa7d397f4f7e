// Package merge layers manifest documents on top of each other.
package merge

// Layers deep-merges documents in order. Keys of later documents recursively
// overwrite keys of earlier ones, except that a nil or empty-string value in a
// later layer never erases a value set by an earlier one.
func Layers(layers ...map[string]any) map[string]any {
	result := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			if isUnset(v) {
				if _, exists := result[k]; exists {
					continue
				}
			}
			if v, ok := v.(map[string]any); ok {
				if dest, ok := result[k].(map[string]any); ok {
					result[k] = Layers(dest, v)
					continue
				}
			}
			result[k] = v
		}
	}
	return result
}

func isUnset(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}
