package template

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax is returned when a template contains a malformed reference.
	ErrSyntax = errors.New("template syntax error")
	// ErrResolution is the sentinel wrapped by every ResolutionError.
	ErrResolution = errors.New("resolution error")
)

// ResolutionError describes a reference that could not be resolved against
// the completed outputs available to a node.
type ResolutionError struct {
	Ref string
	Msg string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve %q: %s", e.Ref, e.Msg)
}

func (e *ResolutionError) Unwrap() error { return ErrResolution }
