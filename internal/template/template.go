package template

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// expr is one node of a parsed template tree.
type expr interface {
	collect(out *[]Ref)
	resolve(outputs map[string]any) (any, error)
	rename(from, to string) expr
	raw() any
}

type literal struct{ v any }

type refExpr struct{ ref Ref }

// interp is a string mixing literal text and references.
type interp struct {
	parts []any // string or Ref
}

type object map[string]expr

type list []expr

// Template is a parsed argument template. The zero value is an empty
// template that resolves to an empty argument map.
type Template struct {
	root expr
}

// Parse builds a template from a structured value: maps with string keys,
// slices, scalars, Ref values and strings carrying "${...}" references.
func Parse(raw any) (Template, error) {
	if raw == nil {
		return Template{}, nil
	}
	root, err := parseValue(raw)
	if err != nil {
		return Template{}, err
	}
	return Template{root: root}, nil
}

// MustParse is like Parse but panics on error. It is intended for tests and
// statically known templates.
func MustParse(raw any) Template {
	t, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return t
}

func parseValue(raw any) (expr, error) {
	switch v := raw.(type) {
	case nil:
		return literal{v: nil}, nil
	case Ref:
		return refExpr{ref: v}, nil
	case string:
		return parseString(v)
	case map[string]any:
		obj := make(object, len(v))
		for k, child := range v {
			e, err := parseValue(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			obj[k] = e
		}
		return obj, nil
	case map[any]any:
		obj := make(object, len(v))
		for k, child := range v {
			key := fmt.Sprint(k)
			e, err := parseValue(child)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			obj[key] = e
		}
		return obj, nil
	case []any:
		l := make(list, len(v))
		for i, child := range v {
			e, err := parseValue(child)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = e
		}
		return l, nil
	case []string:
		l := make(list, len(v))
		for i, s := range v {
			e, err := parseString(s)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			l[i] = e
		}
		return l, nil
	case bool, float64, float32, int, int32, int64, uint, uint32, uint64, json.Number:
		return literal{v: v}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported template value of type %T", ErrSyntax, raw)
	}
}

func parseString(s string) (expr, error) {
	if !strings.Contains(s, "${") {
		return literal{v: s}, nil
	}

	var parts []any
	var text strings.Builder
	for i := 0; i < len(s); {
		if strings.HasPrefix(s[i:], "$${") {
			text.WriteString("${")
			i += 3
			continue
		}
		if !strings.HasPrefix(s[i:], "${") {
			text.WriteByte(s[i])
			i++
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated reference in %q", ErrSyntax, s)
		}
		ref, err := ParseRef(strings.TrimSpace(s[i+2 : i+2+end]))
		if err != nil {
			return nil, err
		}
		if text.Len() > 0 {
			parts = append(parts, text.String())
			text.Reset()
		}
		parts = append(parts, ref)
		i += end + 3
	}
	if text.Len() > 0 {
		parts = append(parts, text.String())
	}

	switch {
	case len(parts) == 1:
		if ref, ok := parts[0].(Ref); ok {
			return refExpr{ref: ref}, nil
		}
		return literal{v: parts[0]}, nil
	case len(parts) == 0:
		return literal{v: ""}, nil
	}
	return interp{parts: parts}, nil
}

// IsEmpty reports whether the template has no content.
func (t Template) IsEmpty() bool { return t.root == nil }

// IsObject reports whether the template is empty or an object at the top
// level, the only shapes usable as capability arguments.
func (t Template) IsObject() bool {
	if t.root == nil {
		return true
	}
	_, ok := t.root.(object)
	return ok
}

// Refs returns every reference in the template in a deterministic order.
func (t Template) Refs() []Ref {
	if t.root == nil {
		return nil
	}
	var out []Ref
	t.root.collect(&out)
	return out
}

// Nodes returns the sorted set of node ids referenced by the template.
func (t Template) Nodes() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, r := range t.Refs() {
		if _, ok := seen[r.Node]; ok {
			continue
		}
		seen[r.Node] = struct{}{}
		ids = append(ids, r.Node)
	}
	sort.Strings(ids)
	return ids
}

// Keys returns the top-level argument names in sorted order.
func (t Template) Keys() []string {
	obj, ok := t.root.(object)
	if !ok {
		return nil
	}
	return sortedKeys(obj)
}

// Static returns the value of a top-level argument when it contains no
// references, so that it can be type checked before the Run starts.
func (t Template) Static(key string) (any, bool) {
	obj, ok := t.root.(object)
	if !ok {
		return nil, false
	}
	e, ok := obj[key]
	if !ok {
		return nil, false
	}
	var refs []Ref
	e.collect(&refs)
	if len(refs) > 0 {
		return nil, false
	}
	v, err := e.resolve(nil)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Rename returns a copy of the template in which references rooted at one
// node id are re-pointed at another.
func (t Template) Rename(from, to string) Template {
	if t.root == nil {
		return t
	}
	return Template{root: t.root.rename(from, to)}
}

// Raw returns the template in its unparsed structured form, with
// references rendered back to "${...}" strings.
func (t Template) Raw() any {
	if t.root == nil {
		return nil
	}
	return t.root.raw()
}

// MarshalJSON encodes the template in its raw form.
func (t Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Raw())
}

// UnmarshalJSON parses a template from its raw JSON form.
func (t *Template) UnmarshalJSON(b []byte) error {
	var raw any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := Parse(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

func sortedKeys(obj object) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (l literal) collect(*[]Ref) {}
func (l literal) resolve(map[string]any) (any, error) { return l.v, nil }
func (l literal) rename(string, string) expr { return l }
func (l literal) raw() any {
	if s, ok := l.v.(string); ok {
		return strings.ReplaceAll(s, "${", "$${")
	}
	return l.v
}

func (r refExpr) collect(out *[]Ref) { *out = append(*out, r.ref) }
func (r refExpr) resolve(outputs map[string]any) (any, error) {
	return lookupRef(r.ref, outputs)
}
func (r refExpr) rename(from, to string) expr {
	if r.ref.Node != from {
		return r
	}
	return refExpr{ref: r.ref.renamed(to)}
}
func (r refExpr) raw() any { return "${" + r.ref.String() + "}" }

func (p interp) collect(out *[]Ref) {
	for _, part := range p.parts {
		if ref, ok := part.(Ref); ok {
			*out = append(*out, ref)
		}
	}
}

func (p interp) resolve(outputs map[string]any) (any, error) {
	var b strings.Builder
	for _, part := range p.parts {
		ref, ok := part.(Ref)
		if !ok {
			b.WriteString(part.(string))
			continue
		}
		v, err := lookupRef(ref, outputs)
		if err != nil {
			return nil, err
		}
		s, err := stringify(v)
		if err != nil {
			return nil, &ResolutionError{Ref: ref.String(), Msg: err.Error()}
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func (p interp) rename(from, to string) expr {
	parts := make([]any, len(p.parts))
	for i, part := range p.parts {
		if ref, ok := part.(Ref); ok && ref.Node == from {
			parts[i] = ref.renamed(to)
			continue
		}
		parts[i] = part
	}
	return interp{parts: parts}
}

func (p interp) raw() any {
	var b strings.Builder
	for _, part := range p.parts {
		if ref, ok := part.(Ref); ok {
			b.WriteString("${" + ref.String() + "}")
			continue
		}
		b.WriteString(strings.ReplaceAll(part.(string), "${", "$${"))
	}
	return b.String()
}

func (o object) collect(out *[]Ref) {
	for _, k := range sortedKeys(o) {
		o[k].collect(out)
	}
}

func (o object) resolve(outputs map[string]any) (any, error) {
	res := make(map[string]any, len(o))
	for _, k := range sortedKeys(o) {
		v, err := o[k].resolve(outputs)
		if err != nil {
			return nil, err
		}
		res[k] = v
	}
	return res, nil
}

func (o object) rename(from, to string) expr {
	res := make(object, len(o))
	for k, e := range o {
		res[k] = e.rename(from, to)
	}
	return res
}

func (o object) raw() any {
	res := make(map[string]any, len(o))
	for k, e := range o {
		res[k] = e.raw()
	}
	return res
}

func (l list) collect(out *[]Ref) {
	for _, e := range l {
		e.collect(out)
	}
}

func (l list) resolve(outputs map[string]any) (any, error) {
	res := make([]any, len(l))
	for i, e := range l {
		v, err := e.resolve(outputs)
		if err != nil {
			return nil, err
		}
		res[i] = v
	}
	return res, nil
}

func (l list) rename(from, to string) expr {
	res := make(list, len(l))
	for i, e := range l {
		res[i] = e.rename(from, to)
	}
	return res
}

func (l list) raw() any {
	res := make([]any, len(l))
	for i, e := range l {
		res[i] = e.raw()
	}
	return res
}

func stringify(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case nil:
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
