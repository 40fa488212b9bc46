package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/correction"
	"github.com/specialistvlad/actiongrid/internal/executor"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/internal/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects "start:id" and "end:id" marks in the order they happen.
type recorder struct {
	mu    sync.Mutex
	marks []string
}

func (r *recorder) mark(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.marks = append(r.marks, s)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.marks...)
}

func (r *recorder) index(s string) int {
	for i, m := range r.list() {
		if m == s {
			return i
		}
	}
	return -1
}

func newRegistry(rec *recorder) *registry.Registry {
	reg := registry.New()
	reg.RegisterFunc(registry.Descriptor{Name: "echo"}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		rec.mark("start:" + id)
		time.Sleep(5 * time.Millisecond)
		rec.mark("end:" + id)
		return args, nil
	})
	reg.RegisterFunc(registry.Descriptor{Name: "fail"}, func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("upstream unavailable")
	})
	reg.RegisterFunc(registry.Descriptor{Name: "wants_good"}, func(_ context.Context, args map[string]any) (any, error) {
		if args["q"] != "good" {
			return nil, errors.New("no results")
		}
		return map[string]any{"value": "found"}, nil
	})
	reg.RegisterFunc(registry.Descriptor{Name: "block"}, func(ctx context.Context, args map[string]any) (any, error) {
		id, _ := args["id"].(string)
		rec.mark("start:" + id)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	reg.RegisterFunc(registry.Descriptor{Name: "typed", Outputs: []string{"value"}}, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"other": 1}, nil
	})
	return reg
}

func spec(id, capability string, args map[string]any, deps ...string) graph.NodeSpec {
	if args == nil {
		args = map[string]any{}
	}
	if _, ok := args["id"]; !ok {
		args["id"] = id
	}
	return graph.NodeSpec{ID: id, Capability: capability, Arguments: template.MustParse(args), DependsOn: deps}
}

func testConfig() Config {
	return Config{DefaultMaxAttempts: 3, MaxMutations: 4, MaxReplacementNodes: 4, DrainTimeout: time.Second}
}

func execute(t *testing.T, ctx context.Context, d graph.Descriptor, reg *registry.Registry, c correction.Corrector, workers int, cfg Config) Result {
	t.Helper()
	require.NoError(t, graph.Validate(d, reg))
	s, err := New(Options{
		RunID:        "run-1",
		Descriptor:   d,
		Capabilities: reg,
		Pool:         executor.New(workers, reg, time.Second),
		Corrections:  correction.New(c, correction.Config{Timeout: time.Second, MaxTries: 1}),
		Ledger:       ledger.New("run-1"),
		Config:       cfg,
	})
	require.NoError(t, err)

	done := make(chan Result, 1)
	go func() { done <- s.Run(ctx) }()
	select {
	case res := <-done:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("run did not terminate")
		return Result{}
	}
}

func TestRun_Scheduling(t *testing.T) {
	ctx := context.Background()

	t.Run("linear chain runs in dependency order and resolves arguments", func(t *testing.T) {
		// --- Arrange ---
		rec := &recorder{}
		reg := newRegistry(rec)
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("a", "echo", map[string]any{"v": 1}),
			spec("b", "echo", map[string]any{"prev": "${a.v}"}, "a"),
			spec("c", "echo", map[string]any{"msg": "got ${b.prev}"}, "b"),
		}}

		// --- Act ---
		res := execute(t, ctx, d, reg, correction.Policy{}, 4, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		assert.Less(t, rec.index("end:a"), rec.index("start:b"))
		assert.Less(t, rec.index("end:b"), rec.index("start:c"))
		assert.Equal(t, map[string]any{"id": "c", "msg": "got 1"}, res.Output)
		assert.Equal(t, []string{"a", "b", "c"}, res.Order)
		assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, res.Levels)
		for _, id := range res.Order {
			snap := res.Nodes[id]
			assert.Equal(t, node.StatusCompleted, snap.Status, id)
			assert.Equal(t, 1, snap.Attempts, id)
			assert.False(t, snap.StartedAt.IsZero(), id)
			assert.False(t, snap.EndedAt.Before(snap.StartedAt), id)
		}
		assert.Equal(t, ledger.EventRunStarted, res.Ledger[0].Type)
		assert.Equal(t, ledger.EventRunFinished, res.Ledger[len(res.Ledger)-1].Type)
	})

	t.Run("independent nodes run concurrently", func(t *testing.T) {
		// --- Arrange ---
		reg := registry.New()
		var (
			mu      sync.Mutex
			active  int
			maxSeen int
		)
		reg.RegisterFunc(registry.Descriptor{Name: "slow"}, func(context.Context, map[string]any) (any, error) {
			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return "ok", nil
		})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			{ID: "left", Capability: "slow"},
			{ID: "right", Capability: "slow"},
		}}

		// --- Act ---
		res := execute(t, ctx, d, reg, nil, 2, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		assert.Equal(t, 2, maxSeen)
	})

	t.Run("scarce slots dispatch ready nodes in declaration order", func(t *testing.T) {
		// --- Arrange ---
		rec := &recorder{}
		reg := newRegistry(rec)
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("c", "echo", nil),
			spec("a", "echo", nil),
			spec("b", "echo", nil),
		}}

		// --- Act ---
		res := execute(t, ctx, d, reg, nil, 1, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		assert.Equal(t, []string{"start:c", "end:c", "start:a", "end:a", "start:b", "end:b"}, rec.list())
	})
}

func TestRun_Correction(t *testing.T) {
	ctx := context.Background()

	t.Run("retry then patch reaches completion", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("search", "wants_good", map[string]any{"q": "bad"}),
		}}
		var requests []correction.Request
		corrector := correction.Func(func(_ context.Context, req correction.Request) (correction.Response, error) {
			requests = append(requests, req)
			if req.FailedNode.Attempts == 1 {
				return correction.Response{Action: correction.ActionRetry}, nil
			}
			return correction.Response{Action: correction.ActionPatch, Patch: map[string]any{"q": "good"}}, nil
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 2, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		snap := res.Nodes["search"]
		assert.Equal(t, 3, snap.Attempts)
		assert.Equal(t, map[string]any{"value": "found"}, snap.Result)
		assert.Equal(t, 1, res.Mutations)
		assert.Equal(t, []node.Status{
			node.StatusPending, node.StatusReady, node.StatusRunning, node.StatusFailed,
			node.StatusReady, node.StatusRunning, node.StatusFailed,
			node.StatusReady, node.StatusRunning, node.StatusCompleted,
		}, ledger.Path(res.Ledger, "search"))
		require.Len(t, requests, 2)
		assert.Equal(t, map[string]any{"id": "search", "q": "bad"}, requests[0].FailedNode.Arguments)
	})

	t.Run("an unresolvable reference is corrected like an execution failure", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("a", "echo", map[string]any{"value": 42}),
			spec("b", "echo", map[string]any{"v": "${a.missing}"}, "a"),
		}}
		var seen correction.Request
		corrector := correction.Func(func(_ context.Context, req correction.Request) (correction.Response, error) {
			seen = req
			return correction.Response{Action: correction.ActionPatch, Patch: map[string]any{"v": "${a.value}"}}, nil
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 2, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		assert.Equal(t, node.KindResolution, seen.Error.Kind)
		assert.Equal(t, map[string]any{"a": map[string]any{"id": "a", "value": float64(42)}}, seen.AncestorOutputs)
		assert.Equal(t, map[string]any{"v": float64(42)}, res.Nodes["b"].Result)
	})

	t.Run("exhausted budget aborts and cascades while other branches finish", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("fetch", "fail", nil),
			spec("summarize", "echo", nil, "fetch"),
			spec("report", "echo", nil, "summarize"),
			spec("unrelated", "echo", nil),
		}}

		// --- Act ---
		res := execute(t, ctx, d, reg, correction.Policy{}, 2, testConfig())

		// --- Assert ---
		require.Equal(t, RunPartial, res.Status)
		fetch := res.Nodes["fetch"]
		assert.Equal(t, node.StatusAborted, fetch.Status)
		assert.Equal(t, 3, fetch.Attempts)
		require.NotNil(t, fetch.Error)
		assert.Equal(t, node.KindCorrectionExhausted, fetch.Error.Kind)
		assert.Equal(t, node.StatusCancelled, res.Nodes["summarize"].Status)
		assert.Equal(t, node.StatusCancelled, res.Nodes["report"].Status)
		assert.Equal(t, 0, res.Nodes["summarize"].Attempts)
		assert.Equal(t, node.StatusCompleted, res.Nodes["unrelated"].Status)
	})

	t.Run("a failed designated output node fails the run", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{
			Nodes: []graph.NodeSpec{
				spec("prep", "echo", nil),
				spec("final", "fail", nil, "prep"),
			},
			Output: "final",
		}

		// --- Act ---
		res := execute(t, ctx, d, reg, correction.AbortAll, 2, testConfig())

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		assert.Nil(t, res.Output)
		assert.Equal(t, node.StatusAborted, res.Nodes["final"].Status)
	})

	t.Run("a result missing declared outputs is a permanent failure", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{{ID: "t", Capability: "typed"}}}

		// --- Act ---
		res := execute(t, ctx, d, reg, correction.Policy{}, 1, testConfig())

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		snap := res.Nodes["t"]
		assert.Equal(t, node.StatusAborted, snap.Status)
		assert.Equal(t, 1, snap.Attempts)
		assert.Contains(t, snap.Error.Message, "missing output keys")
	})

	t.Run("a patch that breaks references is rejected", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("a", "echo", nil),
			spec("b", "fail", nil),
			spec("c", "echo", nil, "b"),
		}}
		corrector := correction.Func(func(context.Context, correction.Request) (correction.Response, error) {
			return correction.Response{Action: correction.ActionPatch, Patch: map[string]any{"x": "${a.id}"}}, nil
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 2, testConfig())

		// --- Assert ---
		assert.Equal(t, RunPartial, res.Status)
		b := res.Nodes["b"]
		assert.Equal(t, node.StatusAborted, b.Status)
		assert.Equal(t, node.KindValidation, b.Error.Kind)
		assert.Contains(t, b.Error.Message, "patch rejected")
		assert.Equal(t, node.StatusCancelled, res.Nodes["c"].Status)
		assert.Equal(t, 0, res.Mutations)
	})

	t.Run("a replacement subgraph takes over the failed node's dependents", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("a", "echo", map[string]any{"value": "seed"}),
			spec("b", "fail", nil, "a"),
			spec("c", "echo", map[string]any{"x": "${b.value}"}, "b"),
		}}
		corrector := correction.Func(func(context.Context, correction.Request) (correction.Response, error) {
			return correction.Response{
				Action: correction.ActionReplace,
				ReplacementNodes: []graph.NodeSpec{
					spec("b1", "echo", map[string]any{"value": "${a.value}"}, "a"),
					spec("b2", "echo", map[string]any{"value": "${b1.value}-fixed"}, "b1"),
				},
			}, nil
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 2, testConfig())

		// --- Assert ---
		require.Equal(t, RunCompleted, res.Status)
		assert.Equal(t, []string{"a", "b1", "b2", "c"}, res.Order)
		assert.Equal(t, map[string]any{"id": "c", "x": "seed-fixed"}, res.Nodes["c"].Result)
		require.Len(t, res.Replaced, 1)
		assert.Equal(t, "b", res.Replaced[0].ID)
		assert.Equal(t, node.StatusFailed, res.Replaced[0].Status)
		assert.Equal(t, []string{"b1", "b2"}, res.Replaced[0].ReplacedBy)
		assert.Equal(t, 1, res.Mutations)
	})

	t.Run("a replacement that depends on a descendant is rejected", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("b", "fail", nil),
			spec("c", "echo", nil, "b"),
		}}
		corrector := correction.Func(func(context.Context, correction.Request) (correction.Response, error) {
			return correction.Response{
				Action:           correction.ActionReplace,
				ReplacementNodes: []graph.NodeSpec{spec("b1", "echo", nil, "c")},
			}, nil
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 2, testConfig())

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		assert.Equal(t, node.StatusAborted, res.Nodes["b"].Status)
		assert.Contains(t, res.Nodes["b"].Error.Message, "replacement rejected")
		assert.Equal(t, node.StatusCancelled, res.Nodes["c"].Status)
		assert.Empty(t, res.Replaced)
	})

	t.Run("the mutation budget bounds patches", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			{ID: "s", Capability: "wants_good", Arguments: template.MustParse(map[string]any{"q": "bad"}), MaxAttempts: 10},
		}}
		corrector := correction.Func(func(context.Context, correction.Request) (correction.Response, error) {
			return correction.Response{Action: correction.ActionPatch, Patch: map[string]any{"q": "still bad"}}, nil
		})
		cfg := testConfig()
		cfg.MaxMutations = 2

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 1, cfg)

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		assert.Equal(t, 2, res.Mutations)
		assert.Equal(t, 3, res.Nodes["s"].Attempts)
		assert.Contains(t, res.Nodes["s"].Error.Message, "mutation budget")
	})

	t.Run("an unreachable corrector falls back to abort", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		d := graph.Descriptor{Nodes: []graph.NodeSpec{spec("a", "fail", nil)}}
		corrector := correction.Func(func(context.Context, correction.Request) (correction.Response, error) {
			return correction.Response{}, errors.New("dial tcp: connection refused")
		})

		// --- Act ---
		res := execute(t, ctx, d, reg, corrector, 1, testConfig())

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		assert.Equal(t, node.StatusAborted, res.Nodes["a"].Status)
		assert.Equal(t, 1, res.Nodes["a"].Attempts)
		var decided *ledger.Record
		for i := range res.Ledger {
			if res.Ledger[i].Type == ledger.EventCorrectionDecided {
				decided = &res.Ledger[i]
			}
		}
		require.NotNil(t, decided)
		assert.Equal(t, true, decided.Payload["fallback"])
	})
}

func TestRun_Cancellation(t *testing.T) {
	t.Run("cancel discards in-flight results and cancels pending nodes", func(t *testing.T) {
		// --- Arrange ---
		rec := &recorder{}
		reg := newRegistry(rec)
		d := graph.Descriptor{Nodes: []graph.NodeSpec{
			spec("slow", "block", nil),
			spec("next", "echo", nil, "slow"),
		}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			for rec.index("start:slow") < 0 {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()

		// --- Act ---
		res := execute(t, ctx, d, reg, nil, 2, testConfig())

		// --- Assert ---
		assert.Equal(t, RunAborted, res.Status)
		assert.Equal(t, "context canceled", res.Cause)
		assert.Equal(t, node.StatusCancelled, res.Nodes["slow"].Status)
		assert.Equal(t, node.StatusCancelled, res.Nodes["next"].Status)
		var types []ledger.EventType
		for _, r := range res.Ledger {
			types = append(types, r.Type)
		}
		assert.Contains(t, types, ledger.EventRunCancelled)
		assert.Contains(t, types, ledger.EventNodeDiscarded)
	})

	t.Run("an already cancelled context dispatches nothing", func(t *testing.T) {
		// --- Arrange ---
		rec := &recorder{}
		reg := newRegistry(rec)
		d := graph.Descriptor{Nodes: []graph.NodeSpec{spec("a", "echo", nil)}}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		// --- Act ---
		res := execute(t, ctx, d, reg, nil, 1, testConfig())

		// --- Assert ---
		assert.Equal(t, RunAborted, res.Status)
		assert.Equal(t, node.StatusCancelled, res.Nodes["a"].Status)
		assert.Empty(t, rec.list())
	})

	t.Run("a zero drain timeout abandons running nodes", func(t *testing.T) {
		// --- Arrange ---
		rec := &recorder{}
		reg := newRegistry(rec)
		d := graph.Descriptor{Nodes: []graph.NodeSpec{spec("slow", "block", nil)}}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			for rec.index("start:slow") < 0 {
				time.Sleep(time.Millisecond)
			}
			cancel()
		}()
		cfg := testConfig()
		cfg.DrainTimeout = 0

		// --- Act ---
		res := execute(t, ctx, d, reg, nil, 1, cfg)

		// --- Assert ---
		assert.Equal(t, RunAborted, res.Status)
		assert.Equal(t, node.StatusCancelled, res.Nodes["slow"].Status)
	})

	t.Run("a per-node timeout surfaces as a timeout failure", func(t *testing.T) {
		// --- Arrange ---
		reg := newRegistry(&recorder{})
		n := spec("slow", "block", nil)
		n.Timeout = 20 * time.Millisecond
		n.MaxAttempts = 1
		d := graph.Descriptor{Nodes: []graph.NodeSpec{n}}

		// --- Act ---
		res := execute(t, context.Background(), d, reg, nil, 1, testConfig())

		// --- Assert ---
		assert.Equal(t, RunFailed, res.Status)
		snap := res.Nodes["slow"]
		assert.Equal(t, node.StatusAborted, snap.Status)
		assert.Contains(t, snap.Error.Message, "exceeded timeout")
		path := ledger.Path(res.Ledger, "slow")
		assert.Equal(t, []node.Status{node.StatusPending, node.StatusReady, node.StatusRunning, node.StatusFailed, node.StatusAborted}, path)
	})
}

func TestSnapshot(t *testing.T) {
	reg := newRegistry(&recorder{})
	d := graph.Descriptor{Nodes: []graph.NodeSpec{spec("a", "echo", nil)}}
	s, err := New(Options{
		RunID:        "r",
		Descriptor:   d,
		Capabilities: reg,
		Pool:         executor.New(1, reg, 0),
		Ledger:       ledger.New("r"),
		Config:       testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, node.StatusPending, s.Snapshot()["a"].Status)
	res := s.Run(context.Background())
	assert.Equal(t, RunCompleted, res.Status)
	assert.Equal(t, node.StatusCompleted, s.Snapshot()["a"].Status)

	_, err = New(Options{Descriptor: d})
	assert.Error(t, err)
}
