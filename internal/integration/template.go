package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	placeholder      = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)
	placeholderWhole = regexp.MustCompile(`^\{\{\s*([A-Za-z0-9_.]+)\s*\}\}$`)
)

// RenderTemplate parses a JSON template and substitutes {{path}} placeholders
// in string values with values looked up in vars. A string that is exactly
// one placeholder takes the referenced value as-is, keeping its JSON type;
// placeholders embedded in longer strings are interpolated as text. Missing
// paths resolve to null or the empty string respectively.
func RenderTemplate(tmpl json.RawMessage, vars map[string]any) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(tmpl))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("parse payload template: %w", err)
	}
	return substitute(tree, vars), nil
}

func substitute(node any, vars map[string]any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[k] = substitute(v, vars)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = substitute(v, vars)
		}
		return out
	case string:
		if m := placeholderWhole.FindStringSubmatch(n); m != nil {
			v, _ := lookup(vars, m[1])
			return v
		}
		return placeholder.ReplaceAllStringFunc(n, func(match string) string {
			path := placeholder.FindStringSubmatch(match)[1]
			v, ok := lookup(vars, path)
			if !ok || v == nil {
				return ""
			}
			return formatValue(v)
		})
	default:
		return n
	}
}

func lookup(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// toVars converts a value into the generic map form used for lookups, keyed
// by its JSON field names.
func toVars(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// toObject is toVars with plain float64 numbers, which is what script
// runtimes expect.
func toObject(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}
