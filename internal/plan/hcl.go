// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file decodes HCL plan files. Argument expressions are not evaluated
// here; they are translated into the raw template form so that references
// survive until dispatch, when the referenced outputs exist.
package plan

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/template"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

var fileSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "output"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "goal"},
		{Type: "action", LabelNames: []string{"id"}},
	},
}

var goalSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "description", Required: true},
		{Name: "context"},
	},
}

var actionSchema = &hcl.BodySchema{
	Attributes: []hcl.AttributeSchema{
		{Name: "capability", Required: true},
		{Name: "description"},
		{Name: "depends_on"},
		{Name: "max_attempts"},
		{Name: "timeout"},
	},
	Blocks: []hcl.BlockHeaderSchema{
		{Type: "arguments"},
	},
}

func parseHCL(src []byte, filename string) (graph.Descriptor, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return graph.Descriptor{}, diags
	}

	content, diags := file.Body.Content(fileSchema)
	if diags.HasErrors() {
		return graph.Descriptor{}, diags
	}

	var d graph.Descriptor
	if attr, ok := content.Attributes["output"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &d.Output); diags.HasErrors() {
			return graph.Descriptor{}, diags
		}
	}

	goalBlock, diags := findUniqueBlock(content.Blocks, "goal")
	if diags.HasErrors() {
		return graph.Descriptor{}, diags
	}
	if goalBlock != nil {
		goal, diags := decodeGoal(goalBlock)
		if diags.HasErrors() {
			return graph.Descriptor{}, diags
		}
		d.Goal = goal
	}

	var all hcl.Diagnostics
	for _, block := range content.Blocks {
		if block.Type != "action" {
			continue
		}
		spec, diags := decodeAction(block)
		all = append(all, diags...)
		if !diags.HasErrors() {
			d.Nodes = append(d.Nodes, spec)
		}
	}
	if all.HasErrors() {
		return graph.Descriptor{}, all
	}
	return d, nil
}

func decodeGoal(block *hcl.Block) (graph.Goal, hcl.Diagnostics) {
	content, diags := block.Body.Content(goalSchema)
	if diags.HasErrors() {
		return graph.Goal{}, diags
	}
	var goal graph.Goal
	if diags := gohcl.DecodeExpression(content.Attributes["description"].Expr, nil, &goal.Description); diags.HasErrors() {
		return graph.Goal{}, diags
	}
	if attr, ok := content.Attributes["context"]; ok {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return graph.Goal{}, diags
		}
		raw, err := ctyToGo(val)
		if err != nil {
			return graph.Goal{}, diagnostic("Invalid goal context", err.Error(), attr.Expr)
		}
		m, ok := raw.(map[string]any)
		if !ok {
			return graph.Goal{}, diagnostic("Invalid goal context", "The goal context must be an object.", attr.Expr)
		}
		goal.Context = m
	}
	return goal, nil
}

func decodeAction(block *hcl.Block) (graph.NodeSpec, hcl.Diagnostics) {
	spec := graph.NodeSpec{ID: block.Labels[0]}
	content, diags := block.Body.Content(actionSchema)
	if diags.HasErrors() {
		return spec, diags
	}

	if diags := gohcl.DecodeExpression(content.Attributes["capability"].Expr, nil, &spec.Capability); diags.HasErrors() {
		return spec, diags
	}
	if attr, ok := content.Attributes["description"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &spec.Description); diags.HasErrors() {
			return spec, diags
		}
	}
	if attr, ok := content.Attributes["max_attempts"]; ok {
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &spec.MaxAttempts); diags.HasErrors() {
			return spec, diags
		}
	}
	if attr, ok := content.Attributes["timeout"]; ok {
		var raw string
		if diags := gohcl.DecodeExpression(attr.Expr, nil, &raw); diags.HasErrors() {
			return spec, diags
		}
		timeout, err := time.ParseDuration(raw)
		if err != nil {
			return spec, diagnostic("Invalid timeout", err.Error(), attr.Expr)
		}
		spec.Timeout = timeout
	}
	if attr, ok := content.Attributes["depends_on"]; ok {
		deps, diags := decodeDependsOn(attr.Expr)
		if diags.HasErrors() {
			return spec, diags
		}
		spec.DependsOn = deps
	}

	args := map[string]any{}
	argBlock, diags := findUniqueBlock(content.Blocks, "arguments")
	if diags.HasErrors() {
		return spec, diags
	}
	if argBlock != nil {
		attrs, diags := argBlock.Body.JustAttributes()
		if diags.HasErrors() {
			return spec, diags
		}
		for name, attr := range attrs {
			v, diags := rawValue(attr.Expr)
			if diags.HasErrors() {
				return spec, diags
			}
			args[name] = v
		}
	}
	tmpl, err := template.Parse(args)
	if err != nil {
		return spec, hcl.Diagnostics{{
			Severity: hcl.DiagError,
			Summary:  "Invalid arguments",
			Detail:   err.Error(),
			Subject:  block.DefRange.Ptr(),
		}}
	}
	spec.Arguments = tmpl

	// References imply dependencies.
	for _, id := range tmpl.Nodes() {
		if !slices.Contains(spec.DependsOn, id) {
			spec.DependsOn = append(spec.DependsOn, id)
		}
	}
	return spec, nil
}

// decodeDependsOn accepts a list of bare action ids or strings.
func decodeDependsOn(expr hcl.Expression) ([]string, hcl.Diagnostics) {
	if _, isTuple := expr.(*hclsyntax.TupleConsExpr); !isTuple {
		return nil, diagnostic("Invalid depends_on value", "The 'depends_on' attribute must be a list of action ids.", expr)
	}
	items, diags := hcl.ExprList(expr)
	if diags.HasErrors() {
		return nil, diags
	}
	deps := make([]string, 0, len(items))
	for _, item := range items {
		if id := hcl.ExprAsKeyword(item); id != "" {
			deps = append(deps, id)
			continue
		}
		var id string
		if diags := gohcl.DecodeExpression(item, nil, &id); diags.HasErrors() {
			return nil, diags
		}
		deps = append(deps, id)
	}
	return deps, nil
}

// rawValue translates an argument expression into the raw template form:
// traversals become references, templates become "${...}" strings and
// everything else is evaluated as a literal.
func rawValue(expr hcl.Expression) (any, hcl.Diagnostics) {
	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		ref, err := template.RefFromTraversal(e.Traversal)
		if err != nil {
			return nil, diagnostic("Invalid reference", err.Error(), expr)
		}
		return ref, nil
	case *hclsyntax.TemplateWrapExpr:
		return rawValue(e.Wrapped)
	case *hclsyntax.TemplateExpr:
		var b strings.Builder
		for _, part := range e.Parts {
			switch p := part.(type) {
			case *hclsyntax.LiteralValueExpr:
				s, err := ctyToGo(p.Val)
				if err != nil {
					return nil, diagnostic("Invalid template", err.Error(), part)
				}
				b.WriteString(strings.ReplaceAll(fmt.Sprint(s), "${", "$${"))
			case *hclsyntax.ScopeTraversalExpr:
				ref, err := template.RefFromTraversal(p.Traversal)
				if err != nil {
					return nil, diagnostic("Invalid reference", err.Error(), part)
				}
				b.WriteString("${" + ref.String() + "}")
			default:
				return nil, diagnostic("Unsupported template expression",
					"Only literal text and output references may be interpolated.", part)
			}
		}
		return b.String(), nil
	case *hclsyntax.ObjectConsExpr:
		out := make(map[string]any, len(e.Items))
		for _, item := range e.Items {
			keyVal, diags := item.KeyExpr.Value(nil)
			if diags.HasErrors() {
				return nil, diags
			}
			if keyVal.Type() != cty.String || keyVal.IsNull() {
				return nil, diagnostic("Invalid object key", "Object keys must be strings.", item.KeyExpr)
			}
			v, diags := rawValue(item.ValueExpr)
			if diags.HasErrors() {
				return nil, diags
			}
			out[keyVal.AsString()] = v
		}
		return out, nil
	case *hclsyntax.TupleConsExpr:
		out := make([]any, 0, len(e.Exprs))
		for _, item := range e.Exprs {
			v, diags := rawValue(item)
			if diags.HasErrors() {
				return nil, diags
			}
			out = append(out, v)
		}
		return out, nil
	}

	val, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	v, err := ctyToGo(val)
	if err != nil {
		return nil, diagnostic("Unsupported value", err.Error(), expr)
	}
	if s, ok := v.(string); ok {
		return strings.ReplaceAll(s, "${", "$${"), nil
	}
	return v, nil
}

// ctyToGo converts a known cty value to plain Go values through its JSON form.
func ctyToGo(val cty.Value) (any, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	b, err := ctyjson.SimpleJSONValue{Value: val}.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findUniqueBlock(blocks hcl.Blocks, name string) (*hcl.Block, hcl.Diagnostics) {
	var found *hcl.Block
	for _, block := range blocks {
		if block.Type != name {
			continue
		}
		if found != nil {
			return nil, hcl.Diagnostics{{
				Severity: hcl.DiagError,
				Summary:  "Duplicate \"" + name + "\" block",
				Detail:   "Only one \"" + name + "\" block is allowed.",
				Subject:  block.DefRange.Ptr(),
			}}
		}
		found = block
	}
	return found, nil
}

func diagnostic(summary, detail string, expr hcl.Expression) hcl.Diagnostics {
	return hcl.Diagnostics{{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
		Subject:  expr.Range().Ptr(),
	}}
}
