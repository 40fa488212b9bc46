package integration_tests

import (
	"time"

	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/internal/testutil"
)

// newRegistry registers the flaky and sleeper capabilities over one recorder.
func newRegistry(rec *testutil.Recorder, sleep time.Duration) *registry.Registry {
	r := registry.New()
	(&testutil.FlakyModule{Recorder: rec}).Register(r)
	(&testutil.SleeperModule{Recorder: rec, Sleep: sleep}).Register(r)
	return r
}
