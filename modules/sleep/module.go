// Package sleep provides a capability that waits for a while before
// returning, which is handy for exercising concurrency and timeouts.
package sleep

import (
	"context"
	"fmt"
	"time"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/node"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the sleep capability.
type Input struct {
	Duration string `json:"duration"`
	Value    any    `json:"value"`
}

// Output echoes the input value after the wait.
type Output struct {
	Slept string `json:"slept"`
	Value any    `json:"value"`
}

func invoke(ctx context.Context, args map[string]any) (any, error) {
	var input Input
	if err := registry.Bind(args, &input); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(input.Duration)
	if err != nil {
		return nil, node.Permanent(fmt.Errorf("invalid duration %q: %w", input.Duration, err))
	}

	logger := ctxlog.FromContext(ctx)
	logger.Debug("Sleeping.", "duration", d)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return &Output{Slept: d.String(), Value: input.Value}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:        "sleep",
		Description: "Waits for the given duration, then returns its value argument.",
		Category:    "testing",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "duration", Type: cty.String, Required: true, Description: "Go duration string such as 250ms."},
			{Name: "value", Type: cty.DynamicPseudoType, Description: "Returned unchanged."},
		},
		Outputs: []string{"slept"},
	}, invoke)
}
