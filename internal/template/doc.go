// Package template implements argument templates and the data-flow resolver.
//
// An argument template is a structured value (objects, lists, scalars) in
// which some leaves reference the outputs of other nodes. A reference is
// written as "${node_id.field[0].name}" inside a string leaf; a string that
// is exactly one reference resolves to the referenced value with its type
// preserved, while a string that mixes text and references resolves to a
// string. "$${" escapes a literal "${".
//
// The path after "${" uses the HCL traversal grammar, so attribute access
// (.name), numeric indexes ([0]) and quoted keys (["some key"]) are all
// available. Resolution walks that path over the completed outputs of the
// node's declared dependencies and nothing else.
package template
