// Package engine is the orchestrator front door.
//
// An Engine validates submitted descriptors, creates a Run for each accepted
// one and keeps a registry of the Runs that are still active. Each Run gets
// its own worker pool, correction subsystem and ledger, and is driven to
// completion in the background by a scheduler. A Run is removed from the
// registry as soon as it becomes terminal; its Result stays reachable
// through the *Run handle returned by Submit.
//
// The planner path (Pursue) and the trigger path (Submit/Execute with a
// prebuilt descriptor) share the same validation and execution pipeline.
package engine
