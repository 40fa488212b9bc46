package integration_tests

import (
	"context"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFanOutFanIn_JoinWaitsForEveryBranch(t *testing.T) {
	// --- Arrange ---
	planHCL := sleepers("root") + `
		action "left" {
			capability = "sleeper"
			depends_on = [root]
			arguments {
				id = "left"
			}
		}

		action "right" {
			capability = "sleeper"
			depends_on = [root]
			arguments {
				id = "right"
			}
		}

		action "join" {
			capability = "sleeper"
			depends_on = [left, right]
			arguments {
				id = "join"
			}
		}
	`
	rec := testutil.NewRecorder()
	r := sleeperRegistry(rec, 40*time.Millisecond)
	cfg := testutil.FastConfig()
	cfg.Workers = 4

	// --- Act ---
	result := testutil.RunPlan(context.Background(), t, map[string]string{"main.hcl": planHCL}, r, cfg)

	// --- Assert ---
	require.NoError(t, result.Err)
	res := result.Result
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, [][]string{{"root"}, {"left", "right"}, {"join"}}, res.Levels)
	assert.True(t, rec.Overlapped("left", "right"), "branches run in parallel")

	join := rec.Records("join")[0]
	for _, branch := range []string{"left", "right"} {
		assert.False(t, join.Start.Before(rec.Records(branch)[0].End), "join must wait for %s", branch)
	}
}
