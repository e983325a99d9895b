// Package loadererrors contains generic errors returned by eventloader components. Callers inspect them with
// errors.As; component specific failure types live next to the component that returns them.
package loadererrors

import "fmt"

// ErrInvalidArgument is returned when a component is constructed or called with an unusable value.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the argument, e.g., "tableName"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for argument %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %q is invalid for argument %q; %s", err.Value, err.Name, err.Message)
}

// ErrNotFound is returned whenever a resource the loader depends on does not exist.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrNotFound struct {
	Type    string // Resource type, e.g., "directory"
	Value   string // Resource name, e.g., "/data/input"
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("%s %q does not exist", err.Type, err.Value)
	} else {
		s = fmt.Sprintf("%q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	}
	return s
}
