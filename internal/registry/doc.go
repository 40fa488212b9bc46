// Package registry holds the capabilities ("skills") an engine can invoke.
//
// A capability is registered under a unique name together with a
// Descriptor that declares its inputs, its output keys and its default
// timeout. The descriptor is the contract checked before a Run starts: the
// validator asks the registry whether every node names a known, enabled
// capability and whether the node's literal arguments fit the declared
// input schema. Built-in capability packages expose a Module whose Register
// method adds their capabilities to a Registry.
package registry
