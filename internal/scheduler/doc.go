// Package scheduler drives one Run to completion.
//
// A Scheduler owns the node state table of a single Run and is its only
// writer. Worker outcomes and correction decisions are delivered to it as
// events over a channel, so readiness is re-evaluated exactly when something
// changes instead of by polling. Ready nodes are dispatched in declaration
// order while the worker pool has free slots; failures are routed through
// the correction subsystem and aborts cascade to every transitive
// dependent. Every transition is appended to the Run's ledger.
package scheduler
