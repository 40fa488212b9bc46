package template

import (
	"encoding/json"
	"fmt"
)

// Resolve substitutes every reference in the template with the value found
// in outputs, which must hold the completed outputs of the node's declared
// dependencies keyed by node id. Resolution never mutates outputs, and
// resolving the same template against the same outputs twice yields equal
// arguments.
func Resolve(t Template, outputs map[string]any) (map[string]any, error) {
	if t.root == nil {
		return map[string]any{}, nil
	}
	if !t.IsObject() {
		return nil, fmt.Errorf("%w: argument template must be an object", ErrSyntax)
	}
	v, err := t.root.resolve(outputs)
	if err != nil {
		return nil, err
	}
	return v.(map[string]any), nil
}

// CheckScope verifies that every reference in the template is rooted at one
// of the allowed node ids.
func CheckScope(t Template, allowed []string) error {
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for _, ref := range t.Refs() {
		if _, ok := set[ref.Node]; !ok {
			return &ResolutionError{Ref: ref.String(), Msg: fmt.Sprintf("node %q is not a declared dependency", ref.Node)}
		}
	}
	return nil
}

func lookupRef(ref Ref, outputs map[string]any) (any, error) {
	out, ok := outputs[ref.Node]
	if !ok {
		return nil, &ResolutionError{Ref: ref.String(), Msg: fmt.Sprintf("node %q is not a completed dependency", ref.Node)}
	}
	v, err := ref.lookup(out)
	if err != nil {
		return nil, &ResolutionError{Ref: ref.String(), Msg: err.Error()}
	}
	return deepCopy(v), nil
}

// Normalize converts an arbitrary capability result into the plain JSON
// shape (maps, slices, strings, float64, bool, nil) that references walk.
func Normalize(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, float64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("result is not serialisable: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("result is not serialisable: %w", err)
	}
	return out, nil
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		res := make(map[string]any, len(val))
		for k, child := range val {
			res[k] = deepCopy(child)
		}
		return res
	case []any:
		res := make([]any, len(val))
		for i, child := range val {
			res[i] = deepCopy(child)
		}
		return res
	}
	return v
}
