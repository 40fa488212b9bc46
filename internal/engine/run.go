package engine

import (
	"context"
	"errors"
	"time"

	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/scheduler"
)

// Result is the structured outcome of a Run.
type Result = scheduler.Result

// RunStatus is the overall status of a Run.
type RunStatus = scheduler.RunStatus

const (
	StatusRunning   = scheduler.RunRunning
	StatusCompleted = scheduler.RunCompleted
	StatusPartial   = scheduler.RunPartial
	StatusFailed    = scheduler.RunFailed
	StatusAborted   = scheduler.RunAborted
)

var (
	// ErrCancelled is the cause recorded when a Run is cancelled on request.
	ErrCancelled = errors.New("run cancelled by request")
	// ErrRunTimeout is the cause recorded when a Run exceeds its time limit.
	ErrRunTimeout = errors.New("run timeout exceeded")
)

// Run is one execution of a descriptor.
type Run struct {
	id        string
	desc      graph.Descriptor
	ledger    *ledger.Ledger
	sched     *scheduler.Scheduler
	cancel    context.CancelCauseFunc
	createdAt time.Time
	done      chan struct{}
	result    Result
}

// ID returns the run id.
func (r *Run) ID() string { return r.id }

// Descriptor returns the descriptor as submitted.
func (r *Run) Descriptor() graph.Descriptor { return r.desc }

// Ledger returns the Run's ledger. It is read-only to callers.
func (r *Run) Ledger() *ledger.Ledger { return r.ledger }

// CreatedAt returns the submission time.
func (r *Run) CreatedAt() time.Time { return r.createdAt }

// Snapshot returns the live state of every node.
func (r *Run) Snapshot() map[string]node.Snapshot { return r.sched.Snapshot() }

// Done is closed once the Run is terminal.
func (r *Run) Done() <-chan struct{} { return r.done }

// Status returns RUNNING until the Run is terminal, then its final status.
func (r *Run) Status() RunStatus {
	select {
	case <-r.done:
		return r.result.Status
	default:
		return StatusRunning
	}
}

// Cancel asks the Run to stop. Nodes that have not started are cancelled and
// the results of in-flight nodes are discarded.
func (r *Run) Cancel() { r.cancel(ErrCancelled) }

// Wait blocks until the Run is terminal or ctx is done.
func (r *Run) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
