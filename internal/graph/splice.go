package graph

import "slices"

// SpliceResult is a descriptor with a failed node replaced by a subgraph.
type SpliceResult struct {
	Descriptor Descriptor
	// Added lists the replacement ids in declaration order.
	Added []string
	// Exits lists the replacement nodes that took over the failed node's dependents.
	Exits []string
	// Rewired lists the existing nodes whose dependencies or templates changed.
	Rewired []string
}

// Splice replaces failedID in d with the replacement subgraph and validates
// the result.
//
// Replacement nodes may depend only on transitive ancestors of the failed
// node or on each other, and their ids must be new, except that one of them
// may reuse failedID. The replacement nodes that no other replacement node
// depends on are its exits: every dependent of the failed node depends on
// all exits instead, and references to the failed node in dependents'
// templates point at the exit when there is exactly one. maxNodes bounds
// the size of the replacement when positive.
func Splice(d Descriptor, failedID string, replacement []NodeSpec, maxNodes int, caps Capabilities) (SpliceResult, error) {
	idx := d.Index(failedID)
	if idx < 0 {
		return SpliceResult{}, invalid(KindBadReplacement, failedID, "node to replace is not declared")
	}
	if len(replacement) == 0 {
		return SpliceResult{}, invalid(KindBadReplacement, failedID, "replacement subgraph is empty")
	}
	if maxNodes > 0 && len(replacement) > maxNodes {
		return SpliceResult{}, invalid(KindBadReplacement, failedID, "replacement has %d nodes, at most %d allowed", len(replacement), maxNodes)
	}

	g, err := Build(d)
	if err != nil {
		return SpliceResult{}, invalid(KindBadReplacement, failedID, "%v", err)
	}
	ancestors, err := g.Ancestors(failedID)
	if err != nil {
		return SpliceResult{}, invalid(KindBadReplacement, failedID, "%v", err)
	}

	added := make([]string, 0, len(replacement))
	isNew := make(map[string]bool, len(replacement))
	for _, n := range replacement {
		if n.ID != failedID && d.Index(n.ID) >= 0 {
			return SpliceResult{}, invalid(KindBadReplacement, n.ID, "replacement id collides with an existing node")
		}
		isNew[n.ID] = true
		added = append(added, n.ID)
	}

	dependedOn := make(map[string]bool)
	for _, n := range replacement {
		for _, dep := range n.DependsOn {
			if isNew[dep] {
				dependedOn[dep] = true
				continue
			}
			if !slices.Contains(ancestors, dep) {
				return SpliceResult{}, invalid(KindBadReplacement, n.ID, "depends on %q, which is outside the ancestry of %q", dep, failedID)
			}
		}
	}
	var exits []string
	for _, n := range replacement {
		if !dependedOn[n.ID] {
			exits = append(exits, n.ID)
		}
	}

	out := d.Clone()
	nodes := make([]NodeSpec, 0, len(d.Nodes)-1+len(replacement))
	nodes = append(nodes, out.Nodes[:idx]...)
	for _, n := range replacement {
		n.DependsOn = append([]string(nil), n.DependsOn...)
		nodes = append(nodes, n)
	}
	nodes = append(nodes, out.Nodes[idx+1:]...)

	var rewired []string
	for i := range nodes {
		n := &nodes[i]
		if isNew[n.ID] || !slices.Contains(n.DependsOn, failedID) {
			continue
		}
		n.DependsOn = rewire(n.DependsOn, failedID, exits)
		if slices.Contains(n.Arguments.Nodes(), failedID) {
			if len(exits) != 1 {
				return SpliceResult{}, invalid(KindBadReplacement, n.ID, "references %q but the replacement has %d exits", failedID, len(exits))
			}
			n.Arguments = n.Arguments.Rename(failedID, exits[0])
		}
		rewired = append(rewired, n.ID)
	}
	out.Nodes = nodes

	if out.Output == failedID {
		if len(exits) != 1 {
			return SpliceResult{}, invalid(KindBadReplacement, failedID, "output node replaced by %d exits", len(exits))
		}
		out.Output = exits[0]
	}

	if err := Validate(out, caps); err != nil {
		return SpliceResult{}, err
	}
	return SpliceResult{Descriptor: out, Added: added, Exits: exits, Rewired: rewired}, nil
}

func rewire(deps []string, failedID string, exits []string) []string {
	out := make([]string, 0, len(deps)+len(exits))
	for _, dep := range deps {
		if dep != failedID && !slices.Contains(out, dep) {
			out = append(out, dep)
		}
	}
	for _, exit := range exits {
		if !slices.Contains(out, exit) {
			out = append(out, exit)
		}
	}
	return out
}

