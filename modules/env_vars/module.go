package env_vars

import (
	"context"
	"os"
	"strings"

	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the env_vars capability.
type Input struct {
	Prefix string `json:"prefix"`
}

// Output defines the data structure returned by the capability.
type Output struct {
	All map[string]string `json:"all"`
}

// Environ returns the process environment as a map, keeping only variables
// whose name starts with prefix.
func Environ(prefix string) map[string]string {
	envMap := make(map[string]string)
	for _, e := range os.Environ() {
		name, value, ok := strings.Cut(e, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		envMap[name] = value
	}
	return envMap
}

func invoke(_ context.Context, args map[string]any) (any, error) {
	var input Input
	if err := registry.Bind(args, &input); err != nil {
		return nil, err
	}
	return &Output{All: Environ(input.Prefix)}, nil
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:        "env_vars",
		Description: "Reads environment variables, optionally filtered by name prefix.",
		Category:    "system",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "prefix", Type: cty.String, Description: "Only variables starting with this prefix are returned."},
		},
		Outputs: []string{"all"},
	}, invoke)
}
