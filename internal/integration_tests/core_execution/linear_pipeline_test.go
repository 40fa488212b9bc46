package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearPipeline_RunsInDependencyOrder(t *testing.T) {
	// --- Arrange ---
	planHCL := `
		goal {
			description = "Three steps in a row"
		}

		action "a" {
			capability = "sleeper"
			arguments {
				id = "a"
			}
		}

		action "b" {
			capability = "sleeper"
			depends_on = [a]
			arguments {
				id = "b"
			}
		}

		action "c" {
			capability = "sleeper"
			depends_on = [b]
			arguments {
				id = "c"
			}
		}
	`
	files := map[string]string{"plan/main.hcl": planHCL}
	rec := testutil.NewRecorder()
	r := registry.New()
	(&testutil.SleeperModule{Recorder: rec, Sleep: 20 * time.Millisecond}).Register(r)

	// --- Act ---
	result := testutil.RunPlan(context.Background(), t, files, r, testutil.FastConfig())

	// --- Assert ---
	require.NoError(t, result.Err)
	res := result.Result
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, []string{"a", "b", "c"}, res.Order)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, res.Levels)
	assert.Equal(t, map[string]any{"id": "c"}, res.Output, "the last completed node is the output")

	a, b, c := rec.Records("a"), rec.Records("b"), rec.Records("c")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.Len(t, c, 1)
	assert.False(t, b[0].Start.Before(a[0].End), "b must start after a finished")
	assert.False(t, c[0].Start.Before(b[0].End), "c must start after b finished")

	want := []node.Status{node.StatusPending, node.StatusReady, node.StatusRunning, node.StatusCompleted}
	for _, id := range res.Order {
		assert.Equal(t, want, ledger.Path(res.Ledger, id), "path of %s", id)
	}
	assert.Equal(t, ledger.EventRunStarted, res.Ledger[0].Type)
	assert.Equal(t, ledger.EventRunFinished, res.Ledger[len(res.Ledger)-1].Type)
	for i, r := range res.Ledger {
		assert.Equal(t, uint64(i+1), r.Seq, "ledger sequence numbers are gapless")
	}
}
