package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/specialistvlad/actiongrid/internal/node"
)

// EventType names the kind of a ledger record.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunFinished  EventType = "run.finished"
	EventRunCancelled EventType = "run.cancelled"

	EventNodePending   EventType = "node.pending"
	EventNodeReady     EventType = "node.ready"
	EventNodeRunning   EventType = "node.running"
	EventNodeCompleted EventType = "node.completed"
	EventNodeFailed    EventType = "node.failed"
	EventNodeAborted   EventType = "node.aborted"
	EventNodeCancelled EventType = "node.cancelled"

	EventNodeDiscarded EventType = "node.result_discarded"
	EventNodePatched   EventType = "node.patched"
	EventNodeReplaced  EventType = "node.replaced"

	EventCorrectionRequested EventType = "correction.requested"
	EventCorrectionDecided   EventType = "correction.decided"
)

var transitionEvents = map[node.Status]EventType{
	node.StatusPending:   EventNodePending,
	node.StatusReady:     EventNodeReady,
	node.StatusRunning:   EventNodeRunning,
	node.StatusCompleted: EventNodeCompleted,
	node.StatusFailed:    EventNodeFailed,
	node.StatusAborted:   EventNodeAborted,
	node.StatusCancelled: EventNodeCancelled,
}

// TransitionEvent returns the event type recorded when a node enters s.
func TransitionEvent(s node.Status) EventType {
	return transitionEvents[s]
}

// Record is one immutable ledger entry.
type Record struct {
	Seq       uint64         `json:"seq"`
	RunID     string         `json:"run_id"`
	Type      EventType      `json:"event_type"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Ledger is the append-only record of one Run.
type Ledger struct {
	mu      sync.Mutex
	runID   string
	records []Record
	changed chan struct{}
	closed  bool
	clock   func() time.Time
}

// New creates an empty ledger for runID.
func New(runID string) *Ledger {
	return &Ledger{
		runID:   runID,
		changed: make(chan struct{}),
		clock:   time.Now,
	}
}

// RunID returns the id of the Run this ledger belongs to.
func (l *Ledger) RunID() string { return l.runID }

// Append adds a record and wakes every stream. Appending to a closed
// ledger panics.
func (l *Ledger) Append(typ EventType, nodeID string, payload map[string]any) Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		panic("ledger: append to closed ledger " + l.runID)
	}
	rec := Record{
		Seq:       uint64(len(l.records) + 1),
		RunID:     l.runID,
		Type:      typ,
		NodeID:    nodeID,
		Timestamp: l.clock().UTC(),
		Payload:   payload,
	}
	l.records = append(l.records, rec)
	close(l.changed)
	l.changed = make(chan struct{})
	return rec
}

// Close marks the ledger complete. Streams drain and then end.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.changed)
}

// Closed reports whether Close was called.
func (l *Ledger) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Len returns the number of records appended so far.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Records returns a copy of every record appended so far.
func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.records...)
}

func (l *Ledger) since(cursor int) ([]Record, <-chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var recs []Record
	if cursor < len(l.records) {
		recs = append(recs, l.records[cursor:]...)
	}
	return recs, l.changed, l.closed
}

// Stream returns a channel carrying every record from the first one, in
// order. The channel is closed after the last record of a closed ledger has
// been delivered, or when ctx is done.
func (l *Ledger) Stream(ctx context.Context) <-chan Record {
	out := make(chan Record)
	go func() {
		defer close(out)
		cursor := 0
		for {
			recs, changed, closed := l.since(cursor)
			for _, rec := range recs {
				select {
				case out <- rec:
					cursor++
				case <-ctx.Done():
					return
				}
			}
			if len(recs) > 0 {
				continue
			}
			if closed {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Path reconstructs the sequence of statuses a node went through.
func Path(records []Record, nodeID string) []node.Status {
	byEvent := make(map[EventType]node.Status, len(transitionEvents))
	for s, ev := range transitionEvents {
		byEvent[ev] = s
	}
	var path []node.Status
	for _, rec := range records {
		if rec.NodeID != nodeID {
			continue
		}
		if s, ok := byEvent[rec.Type]; ok {
			path = append(path, s)
		}
	}
	return path
}
