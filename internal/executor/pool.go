package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// Capabilities is the part of the registry the pool needs.
type Capabilities interface {
	Lookup(name string) (registry.Capability, registry.Descriptor, bool)
}

// Job is one attempt of one node, with its arguments already resolved.
type Job struct {
	RunID      string
	NodeID     string
	Capability string
	Attempt    int
	Args       map[string]any
	// Timeout bounds the call when positive, overriding the capability and
	// pool defaults.
	Timeout time.Duration
}

// Outcome is the result of one job.
type Outcome struct {
	NodeID    string
	Attempt   int
	Result    any
	Err       *node.Error
	StartedAt time.Time
	EndedAt   time.Time
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// Pool is a bounded dispatcher of capability calls.
type Pool struct {
	size           int
	sem            *semaphore.Weighted
	caps           Capabilities
	defaultTimeout time.Duration
	inFlight       atomic.Int64
	wg             conc.WaitGroup
}

// New creates a pool with size slots. defaultTimeout applies to jobs whose
// node and capability declare none; zero disables it.
func New(size int, caps Capabilities, defaultTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:           size,
		sem:            semaphore.NewWeighted(int64(size)),
		caps:           caps,
		defaultTimeout: defaultTimeout,
	}
}

// Size returns the number of slots.
func (p *Pool) Size() int { return p.size }

// InFlight returns the number of occupied slots.
func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// TryDispatch starts job if a slot is free and reports whether it did. The
// outcome is passed to report from the worker goroutine after the slot has
// been released.
func (p *Pool) TryDispatch(ctx context.Context, job Job, report func(Outcome)) bool {
	if !p.sem.TryAcquire(1) {
		return false
	}
	p.inFlight.Add(1)
	p.wg.Go(func() {
		out := p.execute(ctx, job)
		p.inFlight.Add(-1)
		p.sem.Release(1)
		report(out)
	})
	return true
}

// Dispatch waits for a free slot, runs job and returns its outcome.
func (p *Pool) Dispatch(ctx context.Context, job Job) Outcome {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		now := time.Now()
		return Outcome{
			NodeID:    job.NodeID,
			Attempt:   job.Attempt,
			Err:       node.NewError(node.KindCancelled, false, "no worker slot before cancellation: %v", err),
			StartedAt: now,
			EndedAt:   now,
		}
	}
	p.inFlight.Add(1)
	defer func() {
		p.inFlight.Add(-1)
		p.sem.Release(1)
	}()
	return p.execute(ctx, job)
}

// Wait blocks until every job started with TryDispatch has reported.
func (p *Pool) Wait() {
	p.wg.Wait()
}

type callResult struct {
	value any
	err   error
}

func (p *Pool) execute(ctx context.Context, job Job) Outcome {
	out := Outcome{NodeID: job.NodeID, Attempt: job.Attempt, StartedAt: time.Now()}
	ctx, logger := ctxlog.With(ctx, "node_id", job.NodeID, "capability", job.Capability, "attempt", job.Attempt)

	c, desc, ok := p.caps.Lookup(job.Capability)
	if !ok {
		out.EndedAt = time.Now()
		out.Err = node.NewError(node.KindExecution, false, "capability %q is not registered", job.Capability)
		return out
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = desc.Timeout
	}
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}

	ctx, span := telemetry.Tracer().Start(ctx, "node."+job.NodeID,
		trace.WithAttributes(
			attribute.String("run.id", job.RunID),
			attribute.String("node.id", job.NodeID),
			attribute.String("node.capability", job.Capability),
			attribute.Int("node.attempt", job.Attempt),
		),
	)
	defer span.End()

	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	meters := telemetry.Meters(ctx)
	meters.NodeStarted(ctx)
	logger.Debug("Dispatching node.", "timeout", timeout)

	done := make(chan callResult, 1)
	go func() {
		var res callResult
		if rec := panics.Try(func() { res.value, res.err = c.Invoke(callCtx, job.Args) }); rec != nil {
			res = callResult{err: node.Permanent(fmt.Errorf("capability panicked: %v", rec.Value))}
		}
		done <- res
	}()

	select {
	case res := <-done:
		switch {
		case res.err == nil:
			out.Result = res.value
		case errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil:
			out.Err = node.NewError(node.KindTimeout, true, "exceeded timeout of %s", timeout)
		case ctx.Err() != nil:
			out.Err = node.NewError(node.KindCancelled, false, "cancelled: %v", res.err)
		default:
			out.Err = node.AsError(res.err)
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			out.Err = node.NewError(node.KindCancelled, false, "run cancelled while the capability was executing")
		} else {
			out.Err = node.NewError(node.KindTimeout, true, "exceeded timeout of %s", timeout)
		}
		logger.Warn("Abandoning capability call.", "reason", out.Err.Message)
	}
	out.EndedAt = time.Now()

	elapsed := out.EndedAt.Sub(out.StartedAt)
	meters.NodeFinished(ctx, job.Capability, elapsed, out.OK())
	telemetry.Dispatch(job.Capability, elapsed)
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Message)
		logger.Debug("Node attempt failed.", "kind", out.Err.Kind, "error", out.Err.Message, "duration", elapsed)
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Debug("Node attempt completed.", "duration", elapsed)
	}
	return out
}
