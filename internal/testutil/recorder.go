package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/specialistvlad/actiongrid/internal/registry"
)

// ExecutionRecord holds the start and end times of one capability call.
type ExecutionRecord struct {
	Start time.Time
	End   time.Time
}

// Recorder collects execution records keyed by an id argument.
type Recorder struct {
	mu      sync.Mutex
	records map[string][]ExecutionRecord
	running map[string]bool
	peak    int
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		records: make(map[string][]ExecutionRecord),
		running: make(map[string]bool),
	}
}

// Begin marks id as running and returns the function that ends the record.
func (r *Recorder) Begin(id string) func() {
	start := time.Now()
	r.mu.Lock()
	r.running[id] = true
	if len(r.running) > r.peak {
		r.peak = len(r.running)
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.running, id)
		r.records[id] = append(r.records[id], ExecutionRecord{Start: start, End: time.Now()})
	}
}

// Records returns every finished call of id.
func (r *Recorder) Records(id string) []ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ExecutionRecord(nil), r.records[id]...)
}

// Calls returns how many calls of id finished.
func (r *Recorder) Calls(id string) int {
	return len(r.Records(id))
}

// Running reports whether id is currently executing.
func (r *Recorder) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[id]
}

// Peak returns the highest number of simultaneous calls observed.
func (r *Recorder) Peak() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.peak
}

// Overlapped reports whether the last calls of a and b ran at the same time.
func (r *Recorder) Overlapped(a, b string) bool {
	ra, rb := r.Records(a), r.Records(b)
	if len(ra) == 0 || len(rb) == 0 {
		return false
	}
	x, y := ra[len(ra)-1], rb[len(rb)-1]
	return x.Start.Before(y.End) && y.Start.Before(x.End)
}

// SleeperModule registers a "sleeper" capability that records its calls
// and sleeps for Sleep, or until the context is done. Its "id" argument
// names the record.
type SleeperModule struct {
	Recorder *Recorder
	Sleep    time.Duration
}

// Register implements registry.Module.
func (m *SleeperModule) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{Name: "sleeper", Outputs: []string{"id"}}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("sleeper needs an id argument")
		}
		end := m.Recorder.Begin(id)
		defer end()
		select {
		case <-time.After(m.Sleep):
			return map[string]any{"id": id}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}
