// Package correction decides what happens to a failed node.
//
// The decision itself belongs to an external Corrector, typically a slow
// reasoning call. Subsystem wraps it: every call is bounded by a timeout,
// failed or timed-out calls are retried with exponential backoff, and when
// the corrector stays unreachable the answer falls back to abort, so a Run
// can never stall waiting on it. Applying the decision to the DAG is the
// scheduler's job.
package correction
