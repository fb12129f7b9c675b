package matcher

import "strings"

// fieldValue resolves a dot-separated path ("from.domain") against a
// decoded JSON payload. Unlike Runtime's template interpreter (spec
// §9), a missing path here simply evaluates to nil so operators like
// isNull behave naturally; Matcher never substitutes text into output.
func fieldValue(payload map[string]any, path string) any {
	if path == "" {
		return nil
	}
	var cur any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}
