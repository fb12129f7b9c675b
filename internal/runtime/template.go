package runtime

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cortexflow/cortex/pkg/models"
)

var templateExpr = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.]+)\s*\}\}`)

// renderContext is the typed accessor root for template substitution:
// "event.payload.*" reaches the triggering Event's decoded payload,
// "steps.<index>.output.*" reaches a prior RunStep's output. Spec §9
// requires undefined paths to fail loudly rather than substitute "".
type renderContext struct {
	eventPayload map[string]any
	steps        []models.RunStep
}

// RenderParams walks a Unit action's Params, substituting every
// {{path}} reference it finds in string values. Non-string values pass
// through unchanged; maps and slices are walked recursively.
func RenderParams(params map[string]any, ctx renderContext) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		rendered, err := renderValue(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("render param %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func renderValue(v any, ctx renderContext) (any, error) {
	switch val := v.(type) {
	case string:
		return renderString(val, ctx)
	case map[string]any:
		return RenderParams(val, ctx)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rendered, err := renderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// renderString substitutes every {{path}} occurrence. A string that is
// exactly one template expression resolves to the referenced value's
// native type (so {{steps.0.output.id}} can carry a number or object,
// not just text); otherwise every match is stringified in place.
func renderString(s string, ctx renderContext) (any, error) {
	matches := templateExpr.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return resolve(ctx, path)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		value, err := resolve(ctx, path)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func resolve(ctx renderContext, path string) (any, error) {
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return nil, undefinedPath(path)
	}
	switch parts[0] {
	case "event":
		if len(parts) < 2 || parts[1] != "payload" {
			return nil, undefinedPath(path)
		}
		return traverse(ctx.eventPayload, parts[2:], path)
	case "steps":
		if len(parts) < 3 || parts[2] != "output" {
			return nil, undefinedPath(path)
		}
		idx, err := strconv.Atoi(parts[1])
		if err != nil || idx < 0 || idx >= len(ctx.steps) {
			return nil, undefinedPath(path)
		}
		return traverse(ctx.steps[idx].Output, parts[3:], path)
	default:
		return nil, undefinedPath(path)
	}
}

func traverse(m map[string]any, rest []string, fullPath string) (any, error) {
	var cur any = m
	for _, part := range rest {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, undefinedPath(fullPath)
		}
		next, ok := asMap[part]
		if !ok {
			return nil, undefinedPath(fullPath)
		}
		cur = next
	}
	if cur == nil && len(rest) == 0 && m == nil {
		return nil, undefinedPath(fullPath)
	}
	return cur, nil
}

func undefinedPath(path string) error {
	return fmt.Errorf("undefined template path %q", path)
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
