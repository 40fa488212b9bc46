package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/ledger"
	"github.com/specialistvlad/actiongrid/internal/testutil"
	"github.com/specialistvlad/actiongrid/modules/print"
	"github.com/specialistvlad/actiongrid/modules/sleep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const greetingPlan = `
goal {
  description = "Greet after a pause"
}

output = "greet"

action "pause" {
  capability = "sleep"
  arguments {
    duration = "10ms"
    value    = "world"
  }
}

action "greet" {
  capability = "print"
  arguments {
    message = "hello ${pause.value}"
  }
}
`

func writePlan(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.hcl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func testModules() Option {
	return WithModules(&sleep.Module{}, &print.Module{Out: io.Discard})
}

func TestNewApp_DefaultModules(t *testing.T) {
	a, _, _ := SetupAppTest(t, DefaultConfig())
	assert.Equal(t, []string{"env_vars", "http_request", "print", "s3", "sleep", "socketio"}, a.Registry().Names())
	assert.Len(t, a.Capabilities(), 6)
}

func TestNewApp_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = "chatty"
	_, err := NewApp(io.Discard, io.Discard, cfg)
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestApp_Run(t *testing.T) {
	// --- Arrange ---
	cfg := DefaultConfig()
	cfg.LedgerPath = filepath.Join(t.TempDir(), "ledger")
	a, out, _ := SetupAppTest(t, cfg, testModules())
	ctx := context.Background()

	// --- Act ---
	res, err := a.Run(ctx, writePlan(t, greetingPlan))

	// --- Assert ---
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCompleted, res.Status)
	assert.Equal(t, map[string]any{"printed": "hello world\n"}, res.Output)

	var printed map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.String()), &printed))
	assert.Equal(t, "COMPLETED", printed["status"])
	assert.Equal(t, res.RunID, printed["run_id"])

	t.Run("ledger is persisted", func(t *testing.T) {
		var recs []ledger.Record
		testutil.WaitFor(t, 2*time.Second, func() bool {
			recs, err = a.History(ctx, res.RunID)
			return err == nil && len(recs) == len(res.Ledger)
		}, "history")
		assert.Equal(t, ledger.EventRunStarted, recs[0].Type)
		assert.Equal(t, ledger.EventRunFinished, recs[len(recs)-1].Type)

		ids, err := a.StoredRuns(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, res.RunID)
	})

	t.Run("unknown run", func(t *testing.T) {
		_, err := a.History(ctx, "missing")
		assert.ErrorIs(t, err, engine.ErrRunNotFound)
	})
}

func TestApp_Run_InvalidPlan(t *testing.T) {
	a, out, _ := SetupAppTest(t, DefaultConfig(), testModules())

	_, err := a.Run(context.Background(), writePlan(t, `action "a" { capability = "teleport" }`))

	var verr *graph.ValidationError
	require.True(t, errors.As(err, &verr), "expected a validation error, got %v", err)
	assert.Empty(t, out.String())
}

func TestApp_Validate(t *testing.T) {
	a, out, _ := SetupAppTest(t, DefaultConfig(), testModules())

	summary, err := a.Validate(context.Background(), writePlan(t, greetingPlan))

	require.NoError(t, err)
	assert.Equal(t, []string{"pause", "greet"}, summary.Nodes)
	assert.Equal(t, [][]string{{"pause"}, {"greet"}}, summary.Levels)
	assert.Contains(t, out.String(), `"levels"`)
}

func TestApp_History_NoStore(t *testing.T) {
	a, _, _ := SetupAppTest(t, DefaultConfig(), testModules())
	_, err := a.History(context.Background(), "x")
	assert.ErrorContains(t, err, "no ledger store configured")
}

func TestHealthcheckServer(t *testing.T) {
	// --- Arrange ---
	a, _, _ := SetupAppTest(t, DefaultConfig(), testModules())
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.startHealthcheckServer("127.0.0.1:0"))
	base := "http://" + a.HealthAddr()

	get := func(path string) (int, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	// --- Act & Assert ---
	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK\n", body)

	code, body = get("/runs")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"active":[]}`, body)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "actiongrid_runs_active")
}
