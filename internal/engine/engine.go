package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/specialistvlad/actiongrid/internal/correction"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/executor"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/scheduler"
	"github.com/specialistvlad/actiongrid/internal/telemetry"
)

// ErrRunNotFound is returned for ids that are not in the active registry.
var ErrRunNotFound = errors.New("run not found")

// Capabilities is the capability registry as seen by the engine.
type Capabilities = scheduler.Capabilities

// Planner decomposes a goal into a descriptor.
type Planner interface {
	Plan(ctx context.Context, goal graph.Goal) (graph.Descriptor, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, goal graph.Goal) (graph.Descriptor, error)

// Plan calls f(ctx, goal).
func (f PlannerFunc) Plan(ctx context.Context, goal graph.Goal) (graph.Descriptor, error) {
	return f(ctx, goal)
}

// Option customises an Engine.
type Option func(*Engine)

// WithCorrector sets the correction collaborator. Without one the engine
// uses correction.Policy.
func WithCorrector(c correction.Corrector) Option {
	return func(e *Engine) { e.corrector = c }
}

// WithSink adds a sink that receives every ledger record of every Run.
func WithSink(s ledger.Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s) }
}

// Engine accepts descriptors and runs them.
type Engine struct {
	cfg       Config
	caps      Capabilities
	corrector correction.Corrector
	sinks     []ledger.Sink

	mu   sync.RWMutex
	runs map[string]*Run
	wg   conc.WaitGroup
}

// New creates an Engine over caps.
func New(caps Capabilities, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:       cfg,
		caps:      caps,
		corrector: correction.Policy{},
		runs:      make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Submit validates d and starts a Run for it in the background. An invalid
// descriptor is rejected with a *graph.ValidationError and no Run is created.
//
// The Run outlives ctx: cancelling ctx after Submit returns does not stop
// it. Use Run.Cancel, Engine.Cancel or Execute for that.
func (e *Engine) Submit(ctx context.Context, d graph.Descriptor) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := graph.Validate(d, e.caps); err != nil {
		ctxlog.FromContext(ctx).Warn("Descriptor rejected.", "goal", d.Goal.Description, "error", err)
		return nil, err
	}
	if d.Source == "" {
		d.Source = graph.SourceTrigger
	}

	id := uuid.NewString()
	led := ledger.New(id)
	sched, err := scheduler.New(scheduler.Options{
		RunID:        id,
		Descriptor:   d,
		Capabilities: e.caps,
		Pool:         executor.New(e.cfg.Workers, e.caps, e.cfg.DefaultNodeTimeout),
		Corrections:  correction.New(e.corrector, e.cfg.correction()),
		Ledger:       led,
		Config:       e.cfg.scheduler(),
	})
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	if e.cfg.RunTimeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, e.cfg.RunTimeout, ErrRunTimeout)
		inner := cancel
		cancel = func(cause error) {
			inner(cause)
			stop()
		}
	}

	run := &Run{
		id:        id,
		desc:      d.Clone(),
		ledger:    led,
		sched:     sched,
		cancel:    cancel,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}
	e.register(run)
	ctxlog.FromContext(ctx).Info("Run submitted.", "run_id", id, "source", d.Source, "nodes", len(d.Nodes))

	for _, sink := range e.sinks {
		e.wg.Go(func() { ledger.Forward(context.WithoutCancel(ctx), led, sink) })
	}
	e.wg.Go(func() {
		defer cancel(nil)
		res := sched.Run(runCtx)
		run.result = res
		e.unregister(run, res.Status)
		close(run.done)
	})
	return run, nil
}

// Execute submits d and waits for its Result. Cancelling ctx cancels the
// Run; the aborted Result is still returned.
func (e *Engine) Execute(ctx context.Context, d graph.Descriptor) (Result, error) {
	run, err := e.Submit(ctx, d)
	if err != nil {
		return Result{}, err
	}
	select {
	case <-run.done:
	case <-ctx.Done():
		run.cancel(context.Cause(ctx))
		<-run.done
	}
	return run.result, nil
}

// Pursue asks planner for a descriptor serving goal and executes it.
func (e *Engine) Pursue(ctx context.Context, goal graph.Goal, planner Planner) (Result, error) {
	d, err := planner.Plan(ctx, goal)
	if err != nil {
		return Result{}, fmt.Errorf("planning goal %q: %w", goal.Description, err)
	}
	if d.Goal.Description == "" {
		d.Goal = goal
	}
	d.Source = graph.SourcePlanner
	return e.Execute(ctx, d)
}

// Lookup returns the active Run with the given id.
func (e *Engine) Lookup(id string) (*Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	run, ok := e.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, nil
}

// Active returns the ids of every active Run, sorted.
func (e *Engine) Active() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.runs))
	for id := range e.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel cancels the active Run with the given id.
func (e *Engine) Cancel(id string) error {
	run, err := e.Lookup(id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Shutdown cancels every active Run and waits for them and their sinks to
// finish, or for ctx to be done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.RLock()
	for _, run := range e.runs {
		run.Cancel()
	}
	e.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) register(run *Run) {
	e.mu.Lock()
	e.runs[run.id] = run
	e.mu.Unlock()
	telemetry.RunRegistered()
}

func (e *Engine) unregister(run *Run, status RunStatus) {
	e.mu.Lock()
	delete(e.runs, run.id)
	e.mu.Unlock()
	telemetry.RunUnregistered(string(status))
}
