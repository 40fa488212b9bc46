// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// Package plan loads DAG descriptors from plan files.
//
// Three formats are understood, chosen by file extension:
//
//   - HCL (.hcl): one `goal` block, an optional `output` attribute and one
//     `action "<id>"` block per node. Argument values are ordinary HCL
//     expressions; bare references such as `fetch.items[0]` and template
//     interpolations such as "id=${fetch.id}" become output references.
//     Nodes referenced from an action's arguments are added to its
//     depends_on automatically.
//   - YAML (.yaml, .yml) and JSON (.json): the descriptor written out as a
//     document with `goal`, `output` and `nodes`. References use the "${...}"
//     string form and depends_on must be explicit.
//
// A directory is loaded by merging every plan file below it in lexical
// order.
package plan
