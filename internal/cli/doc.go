// Package cli builds the actiongrid command tree. Persistent flags are
// layered over the optional YAML config file, each subcommand creates an
// app.App for its lifetime, and run outcomes become process exit codes.
package cli
