package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/zclconf/go-cty/cty"
)

var (
	// ErrUnknownCapability is returned for names that were never registered.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrDisabled is returned for capabilities that are registered but disabled.
	ErrDisabled = errors.New("capability disabled")
	// ErrMissingConfig is returned when a capability's configuration check fails.
	ErrMissingConfig = errors.New("capability configuration missing")
)

// Capability is a named unit of work invoked with resolved arguments.
type Capability interface {
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts an ordinary function to the Capability interface.
type Func func(ctx context.Context, args map[string]any) (any, error)

// Invoke calls f(ctx, args).
func (f Func) Invoke(ctx context.Context, args map[string]any) (any, error) {
	return f(ctx, args)
}

// Input declares one argument accepted by a capability.
type Input struct {
	Name        string
	Type        cty.Type
	Required    bool
	Description string
}

// Descriptor is the static contract of a capability.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	Version     string
	// Inputs lists the accepted arguments. When empty, any arguments are accepted.
	Inputs []Input
	// Outputs lists keys that every successful result must carry.
	Outputs []string
	// Timeout overrides the engine's default per-node timeout when positive.
	Timeout  time.Duration
	Disabled bool
	// CheckConfig, when set, reports whether the capability is usable in
	// the current environment (credentials, endpoints and so on).
	CheckConfig func() error
}

// Module is the interface that all built-in capability packages implement.
type Module interface {
	Register(r *Registry)
}

type entry struct {
	desc Descriptor
	cap  Capability
}

// Registry maps capability names to their implementation and descriptor.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a capability. Registering an empty or duplicate name is a
// programming error and panics.
func (r *Registry) Register(desc Descriptor, c Capability) {
	if desc.Name == "" {
		panic("registry: capability name must not be empty")
	}
	if c == nil {
		panic(fmt.Sprintf("registry: capability '%s' has no implementation", desc.Name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		panic(fmt.Sprintf("registry: capability with name '%s' already registered", desc.Name))
	}
	slog.Debug("Registering capability.", "name", desc.Name, "inputs", len(desc.Inputs))
	r.entries[desc.Name] = &entry{desc: desc, cap: c}
}

// RegisterFunc is a shorthand for registering a plain function.
func (r *Registry) RegisterFunc(desc Descriptor, fn func(ctx context.Context, args map[string]any) (any, error)) {
	r.Register(desc, Func(fn))
}

// Lookup returns the capability and descriptor registered under name.
func (r *Registry) Lookup(name string) (Capability, Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, Descriptor{}, false
	}
	return e.cap, e.desc, true
}

// Names returns every registered capability name in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Descriptors returns every descriptor ordered by name.
func (r *Registry) Descriptors() []Descriptor {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].desc)
	}
	return out
}

// CheckCapability reports whether name can be invoked.
func (r *Registry) CheckCapability(name string) error {
	_, desc, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	if desc.Disabled {
		return fmt.Errorf("%w: %q", ErrDisabled, name)
	}
	if desc.CheckConfig != nil {
		if err := desc.CheckConfig(); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMissingConfig, name, err)
		}
	}
	return nil
}

// Invoke runs the named capability with already resolved arguments.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (any, error) {
	if err := r.CheckCapability(name); err != nil {
		return nil, err
	}
	c, _, _ := r.Lookup(name)
	return c.Invoke(ctx, args)
}
