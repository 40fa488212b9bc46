package graph

import (
	"errors"
	"fmt"

	"github.com/specialistvlad/actiongrid/internal/template"
)

// ErrValidation is the sentinel wrapped by every ValidationError.
var ErrValidation = errors.New("validation error")

// ErrorKind classifies a validation failure.
type ErrorKind string

const (
	KindEmptyGraph         ErrorKind = "empty_graph"
	KindEmptyID            ErrorKind = "empty_id"
	KindDuplicateID        ErrorKind = "duplicate_id"
	KindMissingCapability  ErrorKind = "missing_capability"
	KindUnknownCapability  ErrorKind = "unknown_capability"
	KindDanglingDependency ErrorKind = "dangling_dependency"
	KindSelfReference      ErrorKind = "self_reference"
	KindCycle              ErrorKind = "cycle"
	KindBadReference       ErrorKind = "bad_reference"
	KindBadArguments       ErrorKind = "bad_arguments"
	KindBadOutput          ErrorKind = "bad_output"
	KindBadBudget          ErrorKind = "bad_budget"
	KindBadReplacement     ErrorKind = "bad_replacement"
)

// ValidationError describes why a descriptor was rejected.
type ValidationError struct {
	Kind   ErrorKind
	NodeID string
	Msg    string
}

func (e *ValidationError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: node %q: %s", e.Kind, e.NodeID, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(kind ErrorKind, id, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: kind, NodeID: id, Msg: fmt.Sprintf(format, args...)}
}

// Capabilities is the view of the capability registry the validator needs.
type Capabilities interface {
	CheckCapability(name string) error
	CheckArguments(name string, args template.Template) error
}

// Validate checks d and returns the first problem found, or nil. Checks run
// in declaration order so the reported error is deterministic. When caps is
// nil only structural checks are performed.
func Validate(d Descriptor, caps Capabilities) error {
	if len(d.Nodes) == 0 {
		return invalid(KindEmptyGraph, "", "descriptor declares no nodes")
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, n := range d.Nodes {
		switch {
		case n.ID == "":
			return invalid(KindEmptyID, "", "a node has no id")
		case seen[n.ID]:
			return invalid(KindDuplicateID, n.ID, "id declared more than once")
		case n.Capability == "":
			return invalid(KindMissingCapability, n.ID, "no capability named")
		case n.MaxAttempts < 0:
			return invalid(KindBadBudget, n.ID, "max_attempts must not be negative, got %d", n.MaxAttempts)
		case n.Timeout < 0:
			return invalid(KindBadBudget, n.ID, "timeout must not be negative, got %s", n.Timeout)
		}
		seen[n.ID] = true
	}

	for _, n := range d.Nodes {
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return invalid(KindSelfReference, n.ID, "node depends on itself")
			}
			if !seen[dep] {
				return invalid(KindDanglingDependency, n.ID, "depends on unknown node %q", dep)
			}
		}
		if !n.Arguments.IsObject() {
			return invalid(KindBadArguments, n.ID, "arguments must be an object")
		}
		if err := template.CheckScope(n.Arguments, n.DependsOn); err != nil {
			return invalid(KindBadReference, n.ID, "%v", err)
		}
	}

	g, err := Build(d)
	if err != nil {
		return invalid(KindDanglingDependency, "", "%v", err)
	}
	if err := g.DetectCycles(); err != nil {
		return invalid(KindCycle, "", "%v", err)
	}

	if d.Output != "" && !seen[d.Output] {
		return invalid(KindBadOutput, "", "output node %q is not declared", d.Output)
	}

	if caps == nil {
		return nil
	}
	for _, n := range d.Nodes {
		if err := caps.CheckCapability(n.Capability); err != nil {
			return invalid(KindUnknownCapability, n.ID, "%v", err)
		}
		if err := caps.CheckArguments(n.Capability, n.Arguments); err != nil {
			return invalid(KindBadArguments, n.ID, "%v", err)
		}
	}
	return nil
}
