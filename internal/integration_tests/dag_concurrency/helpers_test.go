package integration_tests

import (
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/specialistvlad/actiongrid/internal/testutil"
)

// sleepers builds a plan of independent sleeper actions named by ids.
func sleepers(ids ...string) string {
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "action %q {\n  capability = \"sleeper\"\n  arguments {\n    id = %q\n  }\n}\n\n", id, id)
	}
	return b.String()
}

func sleeperRegistry(rec *testutil.Recorder, d time.Duration) *registry.Registry {
	r := registry.New()
	(&testutil.SleeperModule{Recorder: rec, Sleep: d}).Register(r)
	return r
}
