package node

import (
	"time"
)

// State is the live, mutable record of one action node inside a Run. It is
// owned by the scheduler; other components only ever see copies.
type State struct {
	ID          string
	Capability  string
	Order       int
	Status      Status
	Attempts    int
	MaxAttempts int
	Result      any
	Error       *Error
	StartedAt   time.Time
	EndedAt     time.Time
	// ReplacedBy lists the ids spliced in place of this node by a correction.
	ReplacedBy []string
	// Discard is set when the node must be cancelled once its in-flight call returns.
	Discard bool
}

// Snapshot is the caller-facing view of a node at the end of (or during) a Run.
type Snapshot struct {
	ID         string    `json:"id"`
	Capability string    `json:"capability"`
	Status     Status    `json:"status"`
	Attempts   int       `json:"attempts"`
	Result     any       `json:"result,omitempty"`
	Error      *Error    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	ReplacedBy []string  `json:"replaced_by,omitempty"`
}

// Snapshot returns a copy of the state suitable for callers.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		ID:         s.ID,
		Capability: s.Capability,
		Status:     s.Status,
		Attempts:   s.Attempts,
		Result:     s.Result,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
	}
	if s.Error != nil {
		e := *s.Error
		snap.Error = &e
	}
	if len(s.ReplacedBy) > 0 {
		snap.ReplacedBy = append([]string(nil), s.ReplacedBy...)
	}
	return snap
}
