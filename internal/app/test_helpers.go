package app

import (
	"context"
	"os"
	"testing"

	"github.com/specialistvlad/actiongrid/internal/testutil"
	"github.com/stretchr/testify/require"
)

// SetupAppTest creates an App for system tests with debug logging captured
// in a buffer. The app is closed on cleanup, and its logs are printed when
// ACTIONGRID_TEST_LOGS=true.
func SetupAppTest(t *testing.T, cfg Config, opts ...Option) (*App, *testutil.SafeBuffer, *testutil.SafeBuffer) {
	t.Helper()

	outBuffer := &testutil.SafeBuffer{}
	logBuffer := &testutil.SafeBuffer{}
	cfg.LogLevel = "debug"
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	testApp, err := NewApp(outBuffer, logBuffer, cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, testApp.Close(context.Background()))
		if os.Getenv(testutil.LogsEnv) == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})
	return testApp, outBuffer, logBuffer
}
