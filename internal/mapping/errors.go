package mapping

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedClass is returned when a member table references a class
	// that neither the class table nor nested-class resolution can place.
	ErrUnresolvedClass = errors.New("unresolved class")

	// ErrUnresolvedMember is returned in strict mode when a field's descriptor
	// cannot be found in the intermediary tree.
	ErrUnresolvedMember = errors.New("unresolved member")

	// ErrDuplicateMapping is returned when a class table maps one name twice.
	ErrDuplicateMapping = errors.New("duplicate class mapping")

	// ErrMissingNamespace is returned when a tree lacks a required namespace.
	ErrMissingNamespace = errors.New("missing namespace")
)

// ParseError locates a malformed line in a mapping file.
type ParseError struct {
	Source string
	Line   int
	Err    error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source == "" {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("%s:%d: %v", e.Source, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
