// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file holds the format-independent entry points: path resolution,
// dispatch by extension and merging of multi-file plans.
package plan

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/fsutil"
	"github.com/specialistvlad/actiongrid/internal/graph"
)

// Extensions lists the accepted plan file extensions.
var Extensions = []string{".hcl", ".yaml", ".yml", ".json"}

// Load reads the plan at path, a single file or a directory of plan files.
func Load(ctx context.Context, path string) (graph.Descriptor, error) {
	logger := ctxlog.FromContext(ctx)
	files, err := fsutil.ResolvePath(path, Extensions...)
	if err != nil {
		return graph.Descriptor{}, fmt.Errorf("failed to resolve plan path '%s': %w", path, err)
	}
	if len(files) == 0 {
		return graph.Descriptor{}, fmt.Errorf("no plan files found under %s", path)
	}
	logger.Debug("Found plan files.", "count", len(files), "path", path)

	parts := make([]graph.Descriptor, 0, len(files))
	for _, file := range files {
		src, err := os.ReadFile(file)
		if err != nil {
			return graph.Descriptor{}, fmt.Errorf("failed to read plan file '%s': %w", file, err)
		}
		d, err := Parse(src, file)
		if err != nil {
			return graph.Descriptor{}, err
		}
		logger.Debug("Decoded plan file.", "path", file, "nodes", len(d.Nodes))
		parts = append(parts, d)
	}
	return Merge(parts...)
}

// Parse decodes src according to the extension of filename.
func Parse(src []byte, filename string) (graph.Descriptor, error) {
	var (
		d   graph.Descriptor
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".hcl":
		d, err = parseHCL(src, filename)
	case ".yaml", ".yml":
		d, err = parseYAML(src)
	case ".json":
		d, err = parseJSON(src)
	default:
		return graph.Descriptor{}, fmt.Errorf("unsupported plan format %q for %s", ext, filename)
	}
	if err != nil {
		return graph.Descriptor{}, fmt.Errorf("failed to decode plan file %s: %w", filename, err)
	}
	if d.Source == "" {
		d.Source = graph.SourceTrigger
	}
	return d, nil
}

// Merge concatenates the nodes of several descriptors. At most one of them
// may declare a goal and at most one an output node.
func Merge(parts ...graph.Descriptor) (graph.Descriptor, error) {
	var out graph.Descriptor
	for _, p := range parts {
		if p.Goal.Description != "" || len(p.Goal.Context) > 0 {
			if out.Goal.Description != "" || len(out.Goal.Context) > 0 {
				return graph.Descriptor{}, fmt.Errorf("goal declared more than once")
			}
			out.Goal = p.Goal
		}
		if p.Output != "" {
			if out.Output != "" {
				return graph.Descriptor{}, fmt.Errorf("output declared more than once (%q and %q)", out.Output, p.Output)
			}
			out.Output = p.Output
		}
		if out.Source == "" {
			out.Source = p.Source
		}
		out.Nodes = append(out.Nodes, p.Nodes...)
	}
	return out, nil
}
