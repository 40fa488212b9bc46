// Package ledger records the history of a Run.
//
// A Ledger is an append-only sequence of records, one per node state
// transition plus a handful of run and correction events. Only the
// scheduler appends; everyone else reads, either by copying the records
// accumulated so far or by streaming them. A stream always starts from the
// first record and never drops or reorders, so an observer that subscribes
// late still sees the whole history. Sinks receive records through Forward.
package ledger
