package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/engine"
	"github.com/specialistvlad/actiongrid/internal/plan"
	"github.com/stretchr/testify/require"
)

// HarnessResult holds the outcome of one plan run.
type HarnessResult struct {
	Result    engine.Result
	Err       error
	LogOutput string
	Engine    *engine.Engine
}

// WritePlan writes files (relative name to content) into a temporary
// directory and returns its path.
func WritePlan(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

// RunPlan loads the plan made of files and executes it on a fresh engine
// over caps. Loading errors fail the test; submission errors are returned
// in Err.
func RunPlan(ctx context.Context, t *testing.T, files map[string]string, caps engine.Capabilities, cfg engine.Config, opts ...engine.Option) *HarnessResult {
	t.Helper()
	logger, buf := Logger(t)
	ctx = ctxlog.WithLogger(ctx, logger)

	d, err := plan.Load(ctx, WritePlan(t, files))
	require.NoError(t, err)

	e := engine.New(caps, cfg, opts...)
	res, err := e.Execute(ctx, d)
	require.NoError(t, e.Shutdown(context.Background()))
	return &HarnessResult{Result: res, Err: err, LogOutput: buf.String(), Engine: e}
}

// FastConfig returns engine defaults with the pacing delays removed.
func FastConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.RetryDelay = 0
	cfg.CorrectionInitialBackoff = time.Millisecond
	cfg.CorrectionMaxBackoff = time.Millisecond
	return cfg
}
