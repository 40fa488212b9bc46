package testutil

import (
	"context"
	"errors"
	"fmt"

	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// FlakyModule registers a "flaky" capability whose outcome is chosen by its
// "mode" argument: "ok" succeeds, "fail" returns a retryable error and
// "fatal" a permanent one. Calls are recorded under the "id" argument.
type FlakyModule struct {
	Recorder *Recorder
}

type flakyInput struct {
	ID   string `json:"id"`
	Mode string `json:"mode"`
}

type flakyOutput struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
}

// Register implements registry.Module.
func (m *FlakyModule) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:     "flaky",
		Category: "test",
		Inputs: []registry.Input{
			{Name: "id", Type: cty.String, Required: true},
			{Name: "mode", Type: cty.String, Required: true},
		},
		Outputs: []string{"id", "attempt"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		var in flakyInput
		if err := registry.Bind(args, &in); err != nil {
			return nil, err
		}
		end := m.Recorder.Begin(in.ID)
		defer end()
		attempt := m.Recorder.Calls(in.ID) + 1

		switch in.Mode {
		case "ok":
			return &flakyOutput{ID: in.ID, Attempt: attempt}, nil
		case "fail":
			return nil, fmt.Errorf("%s failed on attempt %d", in.ID, attempt)
		case "fatal":
			return nil, node.Permanent(errors.New(in.ID + " cannot succeed"))
		default:
			return nil, node.Permanent(fmt.Errorf("unknown mode %q", in.Mode))
		}
	})
}
