package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/plan"
	"github.com/specialistvlad/actiongrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const slowPlan = `
	action "slow" {
		capability = "sleeper"
		arguments {
			id = "slow"
		}
	}

	action "after_slow" {
		capability = "sleeper"
		depends_on = [slow]
		arguments {
			id = "after_slow"
		}
	}
`

func TestNodeTimeout_IsAFailedAttempt(t *testing.T) {
	// --- Arrange ---
	planHCL := `
		action "slow" {
			capability   = "sleeper"
			timeout      = "30ms"
			max_attempts = 2
			arguments {
				id = "slow"
			}
		}
	`
	rec := testutil.NewRecorder()
	r := newRegistry(rec, 5*time.Second)

	// --- Act ---
	result := testutil.RunPlan(context.Background(), t, map[string]string{"main.hcl": planHCL}, r, testutil.FastConfig())

	// --- Assert ---
	require.NoError(t, result.Err)
	res := result.Result
	assert.Equal(t, engine.StatusFailed, res.Status)

	slow, _ := res.Node("slow")
	assert.Equal(t, node.StatusAborted, slow.Status)
	assert.Equal(t, 2, slow.Attempts, "timeouts are retryable under the default policy")

	var kinds []any
	for _, r := range res.Ledger {
		if r.Type == ledger.EventNodeFailed {
			kinds = append(kinds, r.Payload["kind"])
		}
	}
	assert.Equal(t, []any{string(node.KindTimeout), string(node.KindTimeout)}, kinds)
}

func TestRunTimeout_AbortsTheRun(t *testing.T) {
	// --- Arrange ---
	rec := testutil.NewRecorder()
	r := newRegistry(rec, 5*time.Second)
	cfg := testutil.FastConfig()
	cfg.RunTimeout = 50 * time.Millisecond
	cfg.DrainTimeout = time.Second

	// --- Act ---
	start := time.Now()
	result := testutil.RunPlan(context.Background(), t, map[string]string{"main.hcl": slowPlan}, r, cfg)

	// --- Assert ---
	require.NoError(t, result.Err)
	res := result.Result
	assert.Less(t, time.Since(start), 3*time.Second, "the run must not wait for the slow node")
	assert.Equal(t, engine.StatusAborted, res.Status)
	assert.Contains(t, res.Cause, engine.ErrRunTimeout.Error())

	slow, _ := res.Node("slow")
	assert.NotEqual(t, node.StatusCompleted, slow.Status)
	after, _ := res.Node("after_slow")
	assert.Equal(t, node.StatusCancelled, after.Status)
	assert.Zero(t, rec.Calls("after_slow"))
}

func TestCancel_StopsAnActiveRun(t *testing.T) {
	// --- Arrange ---
	rec := testutil.NewRecorder()
	r := newRegistry(rec, 5*time.Second)
	d, err := plan.Parse([]byte(slowPlan), "main.hcl")
	require.NoError(t, err)
	e := engine.New(r, testutil.FastConfig())
	ctx := context.Background()

	run, err := e.Submit(ctx, d)
	require.NoError(t, err)
	testutil.WaitFor(t, 2*time.Second, func() bool { return rec.Running("slow") }, "slow should start")
	assert.Equal(t, []string{run.ID()}, e.Active())

	// --- Act ---
	require.NoError(t, e.Cancel(run.ID()))
	res, err := run.Wait(ctx)

	// --- Assert ---
	require.NoError(t, err)
	require.NoError(t, e.Shutdown(ctx))
	assert.Equal(t, engine.StatusAborted, res.Status)
	assert.Contains(t, res.Cause, engine.ErrCancelled.Error())
	after, _ := res.Node("after_slow")
	assert.Equal(t, node.StatusCancelled, after.Status)
	assert.Empty(t, e.Active(), "terminal runs leave the active registry")

	_, err = e.Lookup(run.ID())
	assert.ErrorIs(t, err, engine.ErrRunNotFound)
}

func TestContextCancel_AbortsExecute(t *testing.T) {
	// --- Arrange ---
	rec := testutil.NewRecorder()
	r := newRegistry(rec, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// --- Act ---
	result := testutil.RunPlan(ctx, t, map[string]string{"main.hcl": slowPlan}, r, testutil.FastConfig())

	// --- Assert ---
	require.NoError(t, result.Err)
	res := result.Result
	assert.Equal(t, engine.StatusAborted, res.Status)
	assert.Contains(t, res.Cause, context.DeadlineExceeded.Error())
	after, _ := res.Node("after_slow")
	assert.Equal(t, node.StatusCancelled, after.Status)
}
