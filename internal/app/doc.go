// Package app wires the engine to its environment: configuration, logging,
// built-in capabilities, ledger sinks, tracing and the health check server.
// It is decoupled from any specific entrypoint like a CLI.
package app
