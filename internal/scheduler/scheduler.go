package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/specialistvlad/actiongrid/internal/correction"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/executor"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/telemetry"
	"github.com/specialistvlad/actiongrid/internal/template"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Capabilities is the view of the capability registry the scheduler needs
// for dispatch, output checks and re-validation of mutations.
type Capabilities interface {
	graph.Capabilities
	executor.Capabilities
	CheckResolved(name string, args map[string]any) error
	CheckOutput(name string, result any) error
}

// Config holds the per-run limits.
type Config struct {
	// DefaultMaxAttempts applies to nodes that declare no budget.
	DefaultMaxAttempts int
	// MaxMutations bounds accepted patches and splices per run.
	MaxMutations int
	// MaxReplacementNodes bounds the size of one replacement subgraph.
	MaxReplacementNodes int
	// DrainTimeout bounds how long a cancelled run waits for in-flight
	// calls and corrections. Zero abandons them immediately.
	DrainTimeout time.Duration
}

// Options assembles the collaborators of one Scheduler.
type Options struct {
	RunID        string
	Descriptor   graph.Descriptor
	Capabilities Capabilities
	Pool         *executor.Pool
	Corrections  *correction.Subsystem
	Ledger       *ledger.Ledger
	Config       Config
}

type event struct {
	outcome  *executor.Outcome
	decision *decided
}

type decided struct {
	nodeID   string
	attempt  int
	decision correction.Decision
}

// Scheduler executes one validated descriptor. Run must be called once.
type Scheduler struct {
	runID       string
	cfg         Config
	caps        Capabilities
	pool        *executor.Pool
	corrections *correction.Subsystem
	ledger      *ledger.Ledger
	logger      *slog.Logger

	// mu guards desc, states and retired for readers; the Run goroutine is
	// the only writer.
	mu      sync.RWMutex
	desc    graph.Descriptor
	topo    *graph.Graph
	states  map[string]*node.State
	retired []*node.State

	events     chan event
	done       chan struct{}
	running    int
	correcting int
	mutations  int
	cancelled  bool
	cause      error
}

// New prepares a Scheduler. The descriptor must already be valid.
func New(opts Options) (*Scheduler, error) {
	if opts.Capabilities == nil || opts.Pool == nil || opts.Ledger == nil {
		return nil, errors.New("scheduler: capabilities, pool and ledger are required")
	}
	topo, err := graph.Build(opts.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	if opts.Corrections == nil {
		opts.Corrections = correction.New(nil, correction.DefaultConfig())
	}
	if opts.Config.DefaultMaxAttempts < 1 {
		opts.Config.DefaultMaxAttempts = 1
	}
	s := &Scheduler{
		runID:       opts.RunID,
		cfg:         opts.Config,
		caps:        opts.Capabilities,
		pool:        opts.Pool,
		corrections: opts.Corrections,
		ledger:      opts.Ledger,
		logger:      slog.Default(),
		desc:        opts.Descriptor.Clone(),
		topo:        topo,
		states:      make(map[string]*node.State, len(opts.Descriptor.Nodes)),
		events:      make(chan event),
		done:        make(chan struct{}),
	}
	for i, spec := range s.desc.Nodes {
		s.states[spec.ID] = s.newState(spec, i)
	}
	return s, nil
}

func (s *Scheduler) newState(spec graph.NodeSpec, order int) *node.State {
	maxAttempts := spec.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = s.cfg.DefaultMaxAttempts
	}
	return &node.State{
		ID:          spec.ID,
		Capability:  spec.Capability,
		Order:       order,
		Status:      node.StatusPending,
		MaxAttempts: maxAttempts,
	}
}

// Snapshot returns the current state of every live node.
func (s *Scheduler) Snapshot() map[string]node.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]node.Snapshot, len(s.states))
	for id, st := range s.states {
		out[id] = st.Snapshot()
	}
	return out
}

// Run executes the graph until every node is terminal or the context is
// done, and returns the structured result. It never returns a raw fault.
func (s *Scheduler) Run(ctx context.Context) Result {
	startedAt := time.Now()
	ctx, logger := ctxlog.With(ctx, "run_id", s.runID)
	s.logger = logger
	ctx, span := telemetry.Tracer().Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", s.runID),
			attribute.Int("run.nodes", len(s.desc.Nodes)),
		),
	)
	defer span.End()

	levels, _ := s.topo.Levels()
	s.ledger.Append(ledger.EventRunStarted, "", map[string]any{
		"goal":   s.desc.Goal.Description,
		"source": string(s.desc.Source),
		"nodes":  len(s.desc.Nodes),
		"levels": levels,
	})
	for _, spec := range s.desc.Nodes {
		s.recordPending(spec)
	}
	logger.Info("Run started.", "nodes", len(s.desc.Nodes), "levels", len(levels), "workers", s.pool.Size())

	for _, spec := range s.desc.Nodes {
		s.promote(spec.ID)
	}
	s.loop(ctx, logger)
	close(s.done)

	status := s.finalStatus()
	endedAt := time.Now()
	payload := map[string]any{
		"status":      string(status),
		"duration_ms": endedAt.Sub(startedAt).Milliseconds(),
		"mutations":   s.mutations,
	}
	if s.cause != nil {
		payload["cause"] = s.cause.Error()
	}
	s.ledger.Append(ledger.EventRunFinished, "", payload)
	s.ledger.Close()

	telemetry.Meters(ctx).RunFinished(ctx, string(status), endedAt.Sub(startedAt))
	span.SetAttributes(attribute.String("run.status", string(status)))
	if status == RunCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(status))
	}
	logger.Info("Run finished.", "status", status, "duration", endedAt.Sub(startedAt), "mutations", s.mutations)
	return s.result(status, startedAt, endedAt)
}

func (s *Scheduler) loop(ctx context.Context, logger *slog.Logger) {
	ctxDone := ctx.Done()
	var drain <-chan time.Time
	for {
		if ctxDone != nil && ctx.Err() != nil {
			ctxDone = nil
			s.cancel(context.Cause(ctx))
			if s.running > 0 || s.correcting > 0 {
				if s.cfg.DrainTimeout <= 0 {
					s.abandon(logger)
					return
				}
				timer := time.NewTimer(s.cfg.DrainTimeout)
				defer timer.Stop()
				drain = timer.C
				logger.Info("Draining in-flight work.", "running", s.running, "correcting", s.correcting, "timeout", s.cfg.DrainTimeout)
			}
		}
		if !s.cancelled {
			s.dispatchReady(ctx)
		}
		if s.running == 0 && s.correcting == 0 {
			return
		}
		select {
		case ev := <-s.events:
			switch {
			case ev.outcome != nil:
				s.handleOutcome(ctx, *ev.outcome)
			case ev.decision != nil:
				s.handleDecision(ctx, *ev.decision)
			}
		case <-ctxDone:
		case <-drain:
			s.abandon(logger)
			return
		}
	}
}

// dispatchReady starts READY nodes in declaration order until the pool is full.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	for _, spec := range s.desc.Nodes {
		st := s.states[spec.ID]
		if st == nil || st.Status != node.StatusReady {
			continue
		}
		args, err := s.resolve(spec)
		if err != nil {
			s.transition(st, node.StatusRunning, map[string]any{"attempt": st.Attempts + 1}, func() {
				st.Attempts++
				st.StartedAt = time.Now()
				st.EndedAt = time.Time{}
			})
			s.fail(ctx, st, node.NewError(node.KindResolution, false, "%v", err), time.Now())
			continue
		}
		job := executor.Job{
			RunID:      s.runID,
			NodeID:     spec.ID,
			Capability: spec.Capability,
			Attempt:    st.Attempts + 1,
			Args:       args,
			Timeout:    spec.Timeout,
		}
		if !s.pool.TryDispatch(ctx, job, s.report) {
			return
		}
		s.running++
		s.transition(st, node.StatusRunning, map[string]any{"attempt": job.Attempt}, func() {
			st.Attempts = job.Attempt
			st.StartedAt = time.Now()
			st.EndedAt = time.Time{}
		})
	}
}

func (s *Scheduler) report(o executor.Outcome) {
	select {
	case s.events <- event{outcome: &o}:
	case <-s.done:
	}
}

// resolve builds the concrete arguments of spec from its completed
// dependencies.
func (s *Scheduler) resolve(spec graph.NodeSpec) (map[string]any, error) {
	outputs := make(map[string]any, len(spec.DependsOn))
	for _, dep := range spec.DependsOn {
		if st := s.states[dep]; st != nil && st.Status == node.StatusCompleted {
			outputs[dep] = st.Result
		}
	}
	args, err := template.Resolve(spec.Arguments, outputs)
	if err != nil {
		return nil, err
	}
	if err := s.caps.CheckResolved(spec.Capability, args); err != nil {
		return nil, err
	}
	return args, nil
}

func (s *Scheduler) handleOutcome(ctx context.Context, o executor.Outcome) {
	s.running--
	st := s.states[o.NodeID]
	if st == nil || st.Status != node.StatusRunning || st.Attempts != o.Attempt {
		ctxlog.FromContext(ctx).Warn("Ignoring stale outcome.", "node_id", o.NodeID, "attempt", o.Attempt)
		return
	}

	if st.Discard || s.cancelled {
		s.ledger.Append(ledger.EventNodeDiscarded, st.ID, map[string]any{"attempt": o.Attempt, "ok": o.OK()})
		s.transition(st, node.StatusCancelled, map[string]any{"reason": "result discarded"}, func() {
			st.EndedAt = o.EndedAt
			if st.Error == nil {
				st.Error = node.NewError(node.KindCancelled, false, "result discarded")
			}
		})
		return
	}

	if !o.OK() {
		s.fail(ctx, st, o.Err, o.EndedAt)
		return
	}

	result, err := template.Normalize(o.Result)
	if err == nil {
		err = s.caps.CheckOutput(st.Capability, result)
	}
	if err != nil {
		s.fail(ctx, st, node.NewError(node.KindExecution, false, "%v", err), o.EndedAt)
		return
	}
	s.transition(st, node.StatusCompleted, map[string]any{
		"attempt":     o.Attempt,
		"duration_ms": o.EndedAt.Sub(o.StartedAt).Milliseconds(),
	}, func() {
		st.Result = result
		st.Error = nil
		st.StartedAt = o.StartedAt
		st.EndedAt = o.EndedAt
	})

	dependents, _ := s.topo.Dependents(st.ID)
	for _, id := range dependents {
		s.promote(id)
	}
}

// fail records a failed attempt and routes it to correction, or aborts the
// node when its budget is spent.
func (s *Scheduler) fail(ctx context.Context, st *node.State, nodeErr *node.Error, at time.Time) {
	s.transition(st, node.StatusFailed, map[string]any{
		"attempt":   st.Attempts,
		"kind":      string(nodeErr.Kind),
		"message":   nodeErr.Message,
		"retryable": nodeErr.Retryable,
	}, func() {
		st.Error = nodeErr
		st.EndedAt = at
	})

	if st.Attempts >= st.MaxAttempts {
		s.abort(ctx, st, node.NewError(node.KindCorrectionExhausted, false,
			"gave up after %d attempts: %s", st.Attempts, nodeErr.Message))
		return
	}
	if s.cancelled {
		s.abort(ctx, st, node.NewError(node.KindCancelled, false, "run cancelled after failure: %s", nodeErr.Message))
		return
	}

	req := s.correctionRequest(st, *nodeErr)
	s.ledger.Append(ledger.EventCorrectionRequested, st.ID, map[string]any{
		"attempt": st.Attempts,
		"kind":    string(nodeErr.Kind),
	})
	s.correcting++
	attempt := st.Attempts
	go func() {
		d := s.corrections.Decide(ctx, req)
		select {
		case s.events <- event{decision: &decided{nodeID: req.FailedNode.ID, attempt: attempt, decision: d}}:
		case <-s.done:
		}
	}()
}

func (s *Scheduler) correctionRequest(st *node.State, nodeErr node.Error) correction.Request {
	spec, _ := s.desc.Node(st.ID)
	ancestors, _ := s.topo.Ancestors(st.ID)
	outputs := make(map[string]any, len(ancestors))
	for _, id := range ancestors {
		if a := s.states[id]; a != nil && a.Status == node.StatusCompleted {
			outputs[id] = a.Result
		}
	}
	return correction.Request{
		RunID: s.runID,
		Goal:  s.desc.Goal,
		FailedNode: correction.FailedNode{
			ID:          spec.ID,
			Capability:  spec.Capability,
			Description: spec.Description,
			Arguments:   spec.Arguments.Raw(),
			DependsOn:   append([]string(nil), spec.DependsOn...),
			Attempts:    st.Attempts,
			MaxAttempts: st.MaxAttempts,
		},
		Error:           nodeErr,
		AncestorOutputs: outputs,
	}
}

func (s *Scheduler) handleDecision(ctx context.Context, d decided) {
	s.correcting--
	st := s.states[d.nodeID]
	if st == nil || st.Status != node.StatusFailed || st.Attempts != d.attempt {
		return
	}
	resp := d.decision.Response
	s.ledger.Append(ledger.EventCorrectionDecided, st.ID, map[string]any{
		"action":   string(resp.Action),
		"reason":   resp.Reason,
		"fallback": d.decision.Fallback,
		"calls":    d.decision.Calls,
	})

	if s.cancelled {
		s.abort(ctx, st, node.NewError(node.KindCancelled, false, "run cancelled while awaiting correction"))
		return
	}

	switch resp.Action {
	case correction.ActionRetry:
		s.transition(st, node.StatusReady, map[string]any{"reason": "retry"}, nil)
	case correction.ActionPatch:
		s.applyPatch(ctx, st, resp.Patch)
	case correction.ActionReplace:
		s.applySplice(ctx, st, resp.ReplacementNodes)
	default:
		msg := "corrector chose abort"
		if resp.Reason != "" {
			msg += ": " + resp.Reason
		}
		if st.Error != nil {
			msg += " (last error: " + st.Error.Message + ")"
		}
		s.abort(ctx, st, node.NewError(node.KindExecution, false, "%s", msg))
	}
}

func (s *Scheduler) mutationAllowed(ctx context.Context, st *node.State) bool {
	if s.cfg.MaxMutations > 0 && s.mutations >= s.cfg.MaxMutations {
		s.abort(ctx, st, node.NewError(node.KindValidation, false, "mutation budget of %d exhausted", s.cfg.MaxMutations))
		return false
	}
	return true
}

func (s *Scheduler) applyPatch(ctx context.Context, st *node.State, patch any) {
	if !s.mutationAllowed(ctx, st) {
		return
	}
	tmpl, err := template.Parse(patch)
	candidate := s.desc.Clone()
	if err == nil {
		candidate.Nodes[candidate.Index(st.ID)].Arguments = tmpl
		err = graph.Validate(candidate, s.caps)
	}
	if err != nil {
		s.abort(ctx, st, node.NewError(node.KindValidation, false, "patch rejected: %v", err))
		return
	}

	s.mu.Lock()
	s.desc = candidate
	s.mu.Unlock()
	s.mutations++
	s.ledger.Append(ledger.EventNodePatched, st.ID, map[string]any{"arguments": tmpl.Raw()})
	s.transition(st, node.StatusReady, map[string]any{"reason": "patch"}, nil)
}

func (s *Scheduler) applySplice(ctx context.Context, st *node.State, replacement []graph.NodeSpec) {
	if !s.mutationAllowed(ctx, st) {
		return
	}
	res, err := graph.Splice(s.desc, st.ID, replacement, s.cfg.MaxReplacementNodes, s.caps)
	var topo *graph.Graph
	if err == nil {
		topo, err = graph.Build(res.Descriptor)
	}
	if err != nil {
		s.abort(ctx, st, node.NewError(node.KindValidation, false, "replacement rejected: %v", err))
		return
	}

	s.mu.Lock()
	st.ReplacedBy = append([]string(nil), res.Added...)
	s.retired = append(s.retired, st)
	delete(s.states, st.ID)
	s.desc = res.Descriptor
	s.topo = topo
	for i, spec := range s.desc.Nodes {
		if cur, ok := s.states[spec.ID]; ok {
			cur.Order = i
			continue
		}
		s.states[spec.ID] = s.newState(spec, i)
	}
	s.mu.Unlock()
	s.mutations++

	s.ledger.Append(ledger.EventNodeReplaced, st.ID, map[string]any{
		"replaced_by": res.Added,
		"exits":       res.Exits,
		"rewired":     res.Rewired,
	})
	for _, id := range res.Added {
		spec, _ := s.desc.Node(id)
		s.recordPending(spec)
	}
	for _, id := range res.Added {
		s.promote(id)
	}
	ctxlog.FromContext(ctx).Info("Node replaced by subgraph.", "node_id", st.ID, "replaced_by", res.Added, "rewired", res.Rewired)
}

// abort marks st ABORTED and cancels every transitive dependent that has
// not completed.
func (s *Scheduler) abort(ctx context.Context, st *node.State, nodeErr *node.Error) {
	s.transition(st, node.StatusAborted, map[string]any{
		"kind":    string(nodeErr.Kind),
		"message": nodeErr.Message,
	}, func() {
		st.Error = nodeErr
		if st.EndedAt.IsZero() {
			st.EndedAt = time.Now()
		}
	})
	ctxlog.FromContext(ctx).Warn("Node aborted.", "node_id", st.ID, "kind", nodeErr.Kind, "error", nodeErr.Message)

	descendants, _ := s.topo.Descendants(st.ID)
	for _, id := range descendants {
		dep := s.states[id]
		switch dep.Status {
		case node.StatusPending, node.StatusReady:
			s.transition(dep, node.StatusCancelled, map[string]any{"cause": st.ID}, func() {
				dep.Error = node.NewError(node.KindCancelled, false, "ancestor %q aborted", st.ID)
				dep.EndedAt = time.Now()
			})
		case node.StatusRunning:
			s.mu.Lock()
			dep.Discard = true
			dep.Error = node.NewError(node.KindCancelled, false, "ancestor %q aborted", st.ID)
			s.mu.Unlock()
		}
	}
}

// cancel handles a run-level cancel: nodes that have not started are
// cancelled and in-flight ones will have their results discarded.
func (s *Scheduler) cancel(cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	s.cancelled = true
	s.cause = cause
	s.ledger.Append(ledger.EventRunCancelled, "", map[string]any{"cause": cause.Error()})
	for _, spec := range s.desc.Nodes {
		st := s.states[spec.ID]
		switch st.Status {
		case node.StatusPending, node.StatusReady:
			s.transition(st, node.StatusCancelled, map[string]any{"cause": "run cancelled"}, func() {
				st.Error = node.NewError(node.KindCancelled, false, "run cancelled: %v", cause)
				st.EndedAt = time.Now()
			})
		case node.StatusRunning:
			s.mu.Lock()
			st.Discard = true
			st.Error = node.NewError(node.KindCancelled, false, "run cancelled: %v", cause)
			s.mu.Unlock()
		}
	}
}

// abandon forces the remaining in-flight nodes into terminal states once
// the drain window has passed.
func (s *Scheduler) abandon(logger *slog.Logger) {
	logger.Warn("Abandoning in-flight work.", "running", s.running, "correcting", s.correcting)
	for _, spec := range s.desc.Nodes {
		st := s.states[spec.ID]
		switch st.Status {
		case node.StatusRunning:
			s.ledger.Append(ledger.EventNodeDiscarded, st.ID, map[string]any{"attempt": st.Attempts, "abandoned": true})
			s.transition(st, node.StatusCancelled, map[string]any{"reason": "abandoned"}, func() {
				st.EndedAt = time.Now()
			})
		case node.StatusFailed:
			s.transition(st, node.StatusAborted, map[string]any{"reason": "abandoned"}, func() {
				st.Error = node.NewError(node.KindCancelled, false, "run cancelled while awaiting correction")
				st.EndedAt = time.Now()
			})
		}
	}
	s.running, s.correcting = 0, 0
}

// promote moves id to READY when it is PENDING and every dependency has
// completed.
func (s *Scheduler) promote(id string) {
	st := s.states[id]
	if st == nil || st.Status != node.StatusPending {
		return
	}
	deps, _ := s.topo.Dependencies(id)
	for _, dep := range deps {
		if d := s.states[dep]; d == nil || d.Status != node.StatusCompleted {
			return
		}
	}
	s.transition(st, node.StatusReady, nil, nil)
}

func (s *Scheduler) recordPending(spec graph.NodeSpec) {
	deps := spec.DependsOn
	if deps == nil {
		deps = []string{}
	}
	s.ledger.Append(ledger.TransitionEvent(node.StatusPending), spec.ID, map[string]any{
		"capability": spec.Capability,
		"depends_on": deps,
	})
	telemetry.NodeTransition(node.StatusPending.String())
}

// transition moves st to the given status, applying update under the state
// lock, and records it in the ledger.
func (s *Scheduler) transition(st *node.State, to node.Status, payload map[string]any, update func()) bool {
	s.mu.Lock()
	from := st.Status
	if !node.CanTransition(from, to) {
		s.mu.Unlock()
		s.logger.Error("Illegal node transition.", "node_id", st.ID, "from", from, "to", to)
		return false
	}
	st.Status = to
	if update != nil {
		update()
	}
	s.mu.Unlock()

	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload["from"] = from.String()
	s.ledger.Append(ledger.TransitionEvent(to), st.ID, payload)
	telemetry.NodeTransition(to.String())
	return true
}

// finalStatus derives the run status from node states, ignoring nodes that
// were replaced by a subgraph.
func (s *Scheduler) finalStatus() RunStatus {
	if s.cancelled {
		return RunAborted
	}
	completed := 0
	for _, spec := range s.desc.Nodes {
		if s.states[spec.ID].Status == node.StatusCompleted {
			completed++
		}
	}
	switch {
	case completed == len(s.desc.Nodes):
		return RunCompleted
	case s.desc.Output != "" && s.states[s.desc.Output].Status != node.StatusCompleted:
		return RunFailed
	case completed == 0:
		return RunFailed
	default:
		return RunPartial
	}
}

func (s *Scheduler) result(status RunStatus, startedAt, endedAt time.Time) Result {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := Result{
		RunID:     s.runID,
		Status:    status,
		Goal:      s.desc.Goal,
		Nodes:     make(map[string]node.Snapshot, len(s.states)),
		Order:     make([]string, 0, len(s.desc.Nodes)),
		Ledger:    s.ledger.Records(),
		Mutations: s.mutations,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(startedAt),
	}
	if s.cause != nil {
		res.Cause = s.cause.Error()
	}
	for _, spec := range s.desc.Nodes {
		st := s.states[spec.ID]
		res.Nodes[spec.ID] = st.Snapshot()
		res.Order = append(res.Order, spec.ID)
		if st.Status == node.StatusCompleted && s.desc.Output == "" {
			res.Output = st.Result
		}
	}
	if s.desc.Output != "" {
		if st := s.states[s.desc.Output]; st != nil && st.Status == node.StatusCompleted {
			res.Output = st.Result
		}
	}
	for _, st := range s.retired {
		res.Replaced = append(res.Replaced, st.Snapshot())
	}
	res.Levels, _ = s.topo.Levels()
	return res
}
