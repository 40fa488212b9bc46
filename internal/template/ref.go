package template

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// Ref is a path reference into the output of another node.
type Ref struct {
	// Node is the id of the referenced node, the root of the traversal.
	Node string
	// Traversal is the full absolute traversal, root included.
	Traversal hcl.Traversal
}

// ParseRef parses the body of a reference, e.g. `fetch.results[0].url`.
func ParseRef(src string) (Ref, error) {
	trav, diags := hclsyntax.ParseTraversalAbs([]byte(src), "", hcl.InitialPos)
	if diags.HasErrors() {
		return Ref{}, fmt.Errorf("%w: invalid reference %q: %s", ErrSyntax, src, diags.Error())
	}
	return RefFromTraversal(trav)
}

// RefFromTraversal builds a Ref from an already parsed traversal, as
// produced by HCL expressions in plan files.
func RefFromTraversal(trav hcl.Traversal) (Ref, error) {
	if len(trav) == 0 || trav.IsRelative() {
		return Ref{}, fmt.Errorf("%w: reference must start with a node id", ErrSyntax)
	}
	for _, step := range trav[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
		case hcl.TraverseIndex:
			if s.Key.IsNull() || !s.Key.IsKnown() || (s.Key.Type() != cty.String && s.Key.Type() != cty.Number) {
				return Ref{}, fmt.Errorf("%w: index in reference to %q must be a number or a string", ErrSyntax, trav.RootName())
			}
		default:
			return Ref{}, fmt.Errorf("%w: unsupported step %T in reference to %q", ErrSyntax, step, trav.RootName())
		}
	}
	return Ref{Node: trav.RootName(), Traversal: trav}, nil
}

// String renders the reference back in its source form, without "${}".
func (r Ref) String() string {
	var b strings.Builder
	b.WriteString(r.Node)
	if len(r.Traversal) == 0 {
		return b.String()
	}
	for _, step := range r.Traversal[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			b.WriteString(".")
			b.WriteString(s.Name)
		case hcl.TraverseIndex:
			if s.Key.Type() == cty.Number {
				b.WriteString("[")
				b.WriteString(s.Key.AsBigFloat().Text('f', -1))
				b.WriteString("]")
			} else {
				b.WriteString("[")
				b.WriteString(strconv.Quote(s.Key.AsString()))
				b.WriteString("]")
			}
		}
	}
	return b.String()
}

// renamed returns a copy of the reference rooted at another node.
func (r Ref) renamed(to string) Ref {
	trav := make(hcl.Traversal, len(r.Traversal))
	copy(trav, r.Traversal)
	if len(trav) > 0 {
		root := trav[0].(hcl.TraverseRoot)
		root.Name = to
		trav[0] = root
	}
	return Ref{Node: to, Traversal: trav}
}

// lookup walks the reference path over a completed node output.
func (r Ref) lookup(output any) (any, error) {
	cur := output
	walked := r.Node
	for _, step := range r.Traversal[1:] {
		switch s := step.(type) {
		case hcl.TraverseAttr:
			next, err := field(cur, s.Name, walked)
			if err != nil {
				return nil, err
			}
			cur = next
			walked += "." + s.Name
		case hcl.TraverseIndex:
			if s.Key.Type() == cty.String {
				next, err := field(cur, s.Key.AsString(), walked)
				if err != nil {
					return nil, err
				}
				cur = next
				walked += fmt.Sprintf("[%q]", s.Key.AsString())
				continue
			}
			idx, acc := s.Key.AsBigFloat().Int64()
			if acc != 0 {
				return nil, fmt.Errorf("index %s of %s is not an integer", s.Key.AsBigFloat().String(), walked)
			}
			list, ok := cur.([]any)
			if !ok {
				return nil, fmt.Errorf("%s is not a list", walked)
			}
			if idx < 0 || idx >= int64(len(list)) {
				return nil, fmt.Errorf("index %d out of range for %s (length %d)", idx, walked, len(list))
			}
			cur = list[idx]
			walked += fmt.Sprintf("[%d]", idx)
		}
	}
	return cur, nil
}

func field(cur any, name, walked string) (any, error) {
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s has no fields", walked)
	}
	v, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("field %q not present in %s", name, walked)
	}
	return v, nil
}
