// Package node holds the per-node execution model shared by the scheduler,
// the executor and the correction subsystem: the status state machine, the
// structured failure descriptor and the live state of an action node.
package node
