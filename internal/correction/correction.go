package correction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrInfrastructure wraps failures of the corrector itself.
var ErrInfrastructure = errors.New("correction collaborator unavailable")

// Action is the corrector's verdict.
type Action string

const (
	ActionRetry   Action = "retry"
	ActionPatch   Action = "patch"
	ActionReplace Action = "replace"
	ActionAbort   Action = "abort"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRetry, ActionPatch, ActionReplace, ActionAbort:
		return true
	}
	return false
}

// FailedNode describes the node the corrector is asked about.
type FailedNode struct {
	ID          string   `json:"id"`
	Capability  string   `json:"capability"`
	Description string   `json:"description,omitempty"`
	Arguments   any      `json:"arguments,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Attempts    int      `json:"attempts"`
	MaxAttempts int      `json:"max_attempts"`
}

// Request is sent to the corrector on a failure.
type Request struct {
	RunID           string         `json:"run_id"`
	Goal            graph.Goal     `json:"goal"`
	FailedNode      FailedNode     `json:"failed_node"`
	Error           node.Error     `json:"error"`
	AncestorOutputs map[string]any `json:"ancestor_outputs"`
}

// Response is the corrector's answer. Patch is a raw argument template for
// ActionPatch; ReplacementNodes is the subgraph for ActionReplace.
type Response struct {
	Action           Action           `json:"action"`
	Patch            any              `json:"patch,omitempty"`
	ReplacementNodes []graph.NodeSpec `json:"replacement_nodes,omitempty"`
	Reason           string           `json:"reason,omitempty"`
}

// Corrector is the external collaborator consulted on failures.
type Corrector interface {
	Correct(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to the Corrector interface.
type Func func(ctx context.Context, req Request) (Response, error)

// Correct calls f(ctx, req).
func (f Func) Correct(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

// Decision is a Response annotated with how it was obtained.
type Decision struct {
	Response
	// Fallback is true when the corrector could not be reached and the
	// decision defaulted to abort.
	Fallback bool
	// Calls counts corrector invocations, retries included.
	Calls int
}

// Config bounds the interaction with the corrector.
type Config struct {
	// Timeout bounds a single corrector call.
	Timeout time.Duration
	// MaxTries bounds corrector calls per decision.
	MaxTries int
	// InitialBackoff and MaxBackoff shape the exponential backoff between calls.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// RetryDelay is waited before a retry or patch decision is returned.
	RetryDelay time.Duration
}

// DefaultConfig returns a conservative configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		MaxTries:       3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		RetryDelay:     time.Second,
	}
}

// Subsystem consults a Corrector under the limits of its Config.
type Subsystem struct {
	corrector Corrector
	cfg       Config
}

// New creates a Subsystem. A nil corrector makes every decision an abort.
func New(c Corrector, cfg Config) *Subsystem {
	if cfg.MaxTries < 1 {
		cfg.MaxTries = 1
	}
	return &Subsystem{corrector: c, cfg: cfg}
}

// Decide obtains a decision for req. It never fails: when the corrector is
// unreachable, keeps timing out or answers with an unknown action, the
// decision is an abort with Fallback set.
func (s *Subsystem) Decide(ctx context.Context, req Request) Decision {
	ctx, logger := ctxlog.With(ctx, "node_id", req.FailedNode.ID)
	ctx, span := telemetry.Tracer().Start(ctx, "correction.decide",
		trace.WithAttributes(
			attribute.String("run.id", req.RunID),
			attribute.String("node.id", req.FailedNode.ID),
			attribute.String("error.kind", string(req.Error.Kind)),
		),
	)
	defer span.End()

	d := s.decide(ctx, req)
	span.SetAttributes(attribute.String("correction.action", string(d.Action)), attribute.Bool("correction.fallback", d.Fallback))
	telemetry.Correction(string(d.Action), d.Fallback)

	if d.Fallback {
		logger.Warn("Corrector unavailable, defaulting to abort.", "calls", d.Calls, "reason", d.Reason)
		return d
	}
	logger.Info("Correction decided.", "action", d.Action, "calls", d.Calls, "reason", d.Reason)

	if (d.Action == ActionRetry || d.Action == ActionPatch) && s.cfg.RetryDelay > 0 {
		select {
		case <-time.After(s.cfg.RetryDelay):
		case <-ctx.Done():
		}
	}
	return d
}

func (s *Subsystem) decide(ctx context.Context, req Request) Decision {
	if s.corrector == nil {
		return Decision{Response: Response{Action: ActionAbort, Reason: "no corrector configured"}, Fallback: true}
	}

	calls := 0
	op := func() (Response, error) {
		calls++
		resp, err := s.call(ctx, req)
		if err != nil {
			ctxlog.FromContext(ctx).Debug("Corrector call failed.", "call", calls, "error", err)
			return Response{}, fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
		if !resp.Action.Valid() {
			return Response{}, backoff.Permanent(fmt.Errorf("corrector answered with unknown action %q", resp.Action))
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	if s.cfg.InitialBackoff > 0 {
		b.InitialInterval = s.cfg.InitialBackoff
	}
	if s.cfg.MaxBackoff > 0 {
		b.MaxInterval = s.cfg.MaxBackoff
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxTries)),
	)
	if err != nil {
		return Decision{Response: Response{Action: ActionAbort, Reason: err.Error()}, Fallback: true, Calls: calls}
	}
	return Decision{Response: resp, Calls: calls}
}

// call runs one corrector call bounded by the configured timeout, without
// relying on the corrector honouring its context.
func (s *Subsystem) call(ctx context.Context, req Request) (Response, error) {
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if s.cfg.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		resp Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := s.corrector.Correct(callCtx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-callCtx.Done():
		return Response{}, fmt.Errorf("corrector call: %w", callCtx.Err())
	}
}
