// Package executor is the bounded worker pool that invokes capabilities.
//
// A Pool holds a fixed number of slots. A slot is taken when a job is
// dispatched and released as soon as the capability call returns, times
// out, or is abandoned because the Run was cancelled, so a slow call only
// ever blocks its own slot. Every outcome carries start and end timestamps
// and, on failure, a structured node error; a call that outlives its
// timeout is reported with kind Timeout.
package executor
