package testutil

import (
	"testing"
	"time"
)

// WaitFor polls cond every few milliseconds and fails the test with msg if
// it does not hold within timeout.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("%s: condition not met within %s", msg, timeout)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
