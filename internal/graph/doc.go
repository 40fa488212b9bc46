// Package graph models the action DAG a Run executes.
//
// A Descriptor is the planning input: a goal plus an ordered list of node
// specs. Declaration order is significant, it is the tie-break used when
// several nodes become ready at once and worker slots are scarce.
//
// Validate is the gate in front of execution. It rejects empty, duplicate
// and self-referencing ids, dependencies on nodes that do not exist, cycles
// (found by attempting a topological ordering), references in argument
// templates to nodes outside a node's depends_on, and, when a capability
// checker is supplied, unknown capabilities and arguments that do not fit
// the capability's declared inputs. A descriptor that fails validation never
// becomes a Run.
//
// Graph is the dependency topology built from a valid descriptor, and Splice
// is the only sanctioned mutation of a descriptor once a Run has started.
package graph
