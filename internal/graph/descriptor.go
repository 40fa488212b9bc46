package graph

import (
	"time"

	"github.com/specialistvlad/actiongrid/internal/template"
)

// Source identifies which collaborator submitted a descriptor.
type Source string

const (
	// SourcePlanner marks descriptors produced by goal decomposition.
	SourcePlanner Source = "planner"
	// SourceTrigger marks descriptors submitted directly by a trigger
	// response, bypassing planning.
	SourceTrigger Source = "trigger"
)

// Goal is the opaque unit of work a Run serves.
type Goal struct {
	Description string         `json:"description" yaml:"description"`
	Context     map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
}

// NodeSpec declares one action node.
type NodeSpec struct {
	ID          string            `json:"id"`
	Capability  string            `json:"capability"`
	Description string            `json:"description,omitempty"`
	Arguments   template.Template `json:"arguments"`
	DependsOn   []string          `json:"depends_on,omitempty"`
	// MaxAttempts bounds dispatches of the node. Zero means the engine default.
	MaxAttempts int `json:"max_attempts,omitempty"`
	// Timeout bounds a single dispatch. Zero means the capability or engine default.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Descriptor is a complete DAG submitted for execution.
type Descriptor struct {
	Goal  Goal       `json:"goal"`
	Nodes []NodeSpec `json:"nodes"`
	// Output optionally designates the node whose completion defines success.
	Output string `json:"output,omitempty"`
	Source Source `json:"source,omitempty"`
}

// Index returns the declaration position of id, or -1.
func (d Descriptor) Index(id string) int {
	for i, n := range d.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// Node returns the spec declared under id.
func (d Descriptor) Node(id string) (NodeSpec, bool) {
	if i := d.Index(id); i >= 0 {
		return d.Nodes[i], true
	}
	return NodeSpec{}, false
}

// Clone returns a copy whose node list and dependency slices can be
// modified without touching the original. Templates are immutable values
// and are shared.
func (d Descriptor) Clone() Descriptor {
	out := d
	out.Nodes = make([]NodeSpec, len(d.Nodes))
	for i, n := range d.Nodes {
		n.DependsOn = append([]string(nil), n.DependsOn...)
		out.Nodes[i] = n
	}
	return out
}
