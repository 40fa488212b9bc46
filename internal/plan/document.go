// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file decodes YAML and JSON plan documents. Both formats share one
// document shape; durations are written as strings such as "30s".
package plan

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/specialistvlad/actiongrid/internal/graph"
	"github.com/specialistvlad/actiongrid/internal/template"
	"gopkg.in/yaml.v3"
)

type document struct {
	Goal   graph.Goal     `yaml:"goal" json:"goal"`
	Output string         `yaml:"output" json:"output"`
	Nodes  []documentNode `yaml:"nodes" json:"nodes"`
}

type documentNode struct {
	ID          string         `yaml:"id" json:"id"`
	Capability  string         `yaml:"capability" json:"capability"`
	Description string         `yaml:"description" json:"description"`
	Arguments   map[string]any `yaml:"arguments" json:"arguments"`
	DependsOn   []string       `yaml:"depends_on" json:"depends_on"`
	MaxAttempts int            `yaml:"max_attempts" json:"max_attempts"`
	Timeout     string         `yaml:"timeout" json:"timeout"`
}

func parseYAML(src []byte) (graph.Descriptor, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return graph.Descriptor{}, err
	}
	return doc.descriptor()
}

func parseJSON(src []byte) (graph.Descriptor, error) {
	var doc document
	dec := json.NewDecoder(bytes.NewReader(src))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return graph.Descriptor{}, err
	}
	return doc.descriptor()
}

func (doc document) descriptor() (graph.Descriptor, error) {
	d := graph.Descriptor{Goal: doc.Goal, Output: doc.Output}
	for i, n := range doc.Nodes {
		spec := graph.NodeSpec{
			ID:          n.ID,
			Capability:  n.Capability,
			Description: n.Description,
			DependsOn:   n.DependsOn,
			MaxAttempts: n.MaxAttempts,
		}
		args := n.Arguments
		if args == nil {
			args = map[string]any{}
		}
		tmpl, err := template.Parse(args)
		if err != nil {
			return graph.Descriptor{}, fmt.Errorf("nodes[%d] (%s): %w", i, n.ID, err)
		}
		spec.Arguments = tmpl
		if n.Timeout != "" {
			timeout, err := time.ParseDuration(n.Timeout)
			if err != nil {
				return graph.Descriptor{}, fmt.Errorf("nodes[%d] (%s): invalid timeout: %w", i, n.ID, err)
			}
			spec.Timeout = timeout
		}
		d.Nodes = append(d.Nodes, spec)
	}
	return d, nil
}
