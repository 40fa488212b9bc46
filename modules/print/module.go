package print

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/specialistvlad/actiongrid/internal/ctxlog"
	"github.com/specialistvlad/actiongrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// Module implements the registry.Module interface for this package.
// Out defaults to os.Stdout.
type Module struct {
	Out io.Writer

	mu sync.Mutex
}

// Input defines the arguments for the print capability.
type Input struct {
	Message string         `json:"message"`
	Values  map[string]any `json:"values"`
}

// Output is what the capability returns.
type Output struct {
	Printed string `json:"printed"`
}

func (m *Module) out() io.Writer {
	if m.Out == nil {
		return os.Stdout
	}
	return m.Out
}

// render formats the message followed by the values sorted by key.
func render(input *Input) string {
	var b strings.Builder
	if input.Message != "" {
		b.WriteString(input.Message)
		b.WriteByte('\n')
	}
	keys := make([]string, 0, len(input.Values))
	for k := range input.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s = %v\n", k, input.Values[k])
	}
	if b.Len() == 0 {
		b.WriteString("(empty)\n")
	}
	return b.String()
}

func (m *Module) invoke(ctx context.Context, args map[string]any) (any, error) {
	var input Input
	if err := registry.Bind(args, &input); err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Info("Printing input.", "values", len(input.Values))

	text := render(&input)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := io.WriteString(m.out(), text); err != nil {
		return nil, fmt.Errorf("failed to print: %w", err)
	}
	return &Output{Printed: text}, nil
}

// Register registers the capability with the registry.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterFunc(registry.Descriptor{
		Name:        "print",
		Description: "Writes a message and a set of values to standard output.",
		Category:    "io",
		Version:     "1.0.0",
		Inputs: []registry.Input{
			{Name: "message", Type: cty.String, Description: "Line printed before the values."},
			{Name: "values", Type: cty.DynamicPseudoType, Description: "Object whose entries are printed one per line, sorted by key."},
		},
		Outputs: []string{"printed"},
	}, m.invoke)
}
