package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/specialistvlad/actiongrid/internal/template"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// CheckArguments validates an argument template against the declared inputs
// of a capability: required inputs must be present, unknown keys are
// rejected, and every literal value must convert to its declared type.
// Values that contain references are checked for presence only; their
// types are known once the upstream node completes.
func (r *Registry) CheckArguments(name string, args template.Template) error {
	_, desc, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	if !args.IsObject() {
		return fmt.Errorf("arguments for %q must be an object", name)
	}
	if len(desc.Inputs) == 0 {
		return nil
	}

	declared := make(map[string]Input, len(desc.Inputs))
	for _, in := range desc.Inputs {
		declared[in.Name] = in
	}

	var problems []string
	present := make(map[string]bool)
	for _, key := range args.Keys() {
		present[key] = true
		in, ok := declared[key]
		if !ok {
			problems = append(problems, fmt.Sprintf("unexpected argument %q", key))
			continue
		}
		v, static := args.Static(key)
		if !static {
			continue
		}
		if err := checkType(v, in.Type); err != nil {
			problems = append(problems, fmt.Sprintf("argument %q: %v", key, err))
		}
	}
	for _, in := range desc.Inputs {
		if in.Required && !present[in.Name] {
			problems = append(problems, fmt.Sprintf("missing required argument %q", in.Name))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("invalid arguments for %q: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

// CheckResolved validates fully resolved arguments, catching type errors in
// values that only became known at dispatch time.
func (r *Registry) CheckResolved(name string, args map[string]any) error {
	_, desc, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	for _, in := range desc.Inputs {
		v, ok := args[in.Name]
		if !ok {
			continue
		}
		if err := checkType(v, in.Type); err != nil {
			return fmt.Errorf("argument %q for %q: %w", in.Name, name, err)
		}
	}
	return nil
}

// CheckOutput verifies that a normalised result carries every declared output key.
func (r *Registry) CheckOutput(name string, result any) error {
	_, desc, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	if len(desc.Outputs) == 0 {
		return nil
	}
	m, ok := result.(map[string]any)
	if !ok {
		return fmt.Errorf("result of %q must be an object with keys %v, got %T", name, desc.Outputs, result)
	}
	var missing []string
	for _, key := range desc.Outputs {
		if _, ok := m[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("result of %q is missing output keys %v", name, missing)
	}
	return nil
}

// checkType converts a plain Go value to cty through its JSON form and then
// checks it against the declared type.
func checkType(v any, want cty.Type) error {
	if want == cty.NilType || want == cty.DynamicPseudoType {
		return nil
	}
	val, err := toCty(v)
	if err != nil {
		return err
	}
	if _, err := convert.Convert(val, want); err != nil {
		return fmt.Errorf("expected %s: %v", want.FriendlyName(), err)
	}
	return nil
}

func toCty(v any) (cty.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return cty.NilVal, fmt.Errorf("value is not serialisable: %w", err)
	}
	ty, err := ctyjson.ImpliedType(b)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot infer type: %w", err)
	}
	val, err := ctyjson.Unmarshal(b, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("cannot decode value: %w", err)
	}
	return val, nil
}
