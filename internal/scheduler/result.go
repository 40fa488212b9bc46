package scheduler

import (
	"time"

	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
)

// RunStatus is the overall outcome of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunPartial   RunStatus = "PARTIAL"
	RunFailed    RunStatus = "FAILED"
	RunAborted   RunStatus = "ABORTED"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool { return s != RunRunning && s != "" }

// Result is what a finished Run reports.
type Result struct {
	RunID  string                   `json:"run_id"`
	Status RunStatus                `json:"status"`
	Goal   graph.Goal               `json:"goal"`
	Nodes  map[string]node.Snapshot `json:"per_node"`
	// Order lists the live node ids in declaration order.
	Order []string `json:"order"`
	// Replaced holds nodes that a correction swapped out for a subgraph.
	Replaced []node.Snapshot `json:"replaced,omitempty"`
	// Output is the result of the designated output node, or of the last
	// completed node in declaration order when none is designated.
	Output any `json:"output,omitempty"`
	// Levels groups the final graph into parallelisable generations.
	Levels    [][]string      `json:"levels"`
	Ledger    []ledger.Record `json:"ledger"`
	Mutations int             `json:"mutations"`
	Cause     string          `json:"cause,omitempty"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Duration  time.Duration   `json:"duration"`
}

// Node returns the snapshot of the live node id.
func (r Result) Node(id string) (node.Snapshot, bool) {
	snap, ok := r.Nodes[id]
	return snap, ok
}
