package node

import (
	"encoding/json"
	"fmt"
)

// Status represents the execution state of a node within a Run.
type Status int32

const (
	// StatusPending indicates the node is waiting for its dependencies to complete.
	StatusPending Status = iota
	// StatusReady indicates every dependency is completed and the node awaits a worker slot.
	StatusReady
	// StatusRunning indicates the node has been dispatched to a worker and is executing.
	StatusRunning
	// StatusCompleted is the terminal success state.
	StatusCompleted
	// StatusFailed is terminal for a single attempt; the node is routed to correction.
	StatusFailed
	// StatusAborted is terminal: the correction budget is exhausted or the corrector gave up.
	StatusAborted
	// StatusCancelled is terminal: the node never ran, or its result was discarded,
	// because an ancestor aborted or the Run was cancelled.
	StatusCancelled
)

var statusNames = map[Status]string{
	StatusPending:   "PENDING",
	StatusReady:     "READY",
	StatusRunning:   "RUNNING",
	StatusCompleted: "COMPLETED",
	StatusFailed:    "FAILED",
	StatusAborted:   "ABORTED",
	StatusCancelled: "CANCELLED",
}

// String returns the canonical upper-case name of the status.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// MarshalJSON encodes the status by name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// IsTerminal reports whether no further transition can leave this status.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusAborted || s == StatusCancelled
}

// transitions lists every legal edge of the node state machine.
var transitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusCancelled},
	StatusReady:   {StatusRunning, StatusCancelled},
	StatusRunning: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusFailed:  {StatusReady, StatusAborted},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
