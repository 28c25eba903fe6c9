package cpy

import "fmt"

// RuntimeError is an error raised inside the interpreter. By the time a
// RuntimeError is returned the interpreter's pending error state has
// already been fetched and cleared.
type RuntimeError struct {
	// Type is the interpreter-side class name, e.g. "AttributeError".
	Type string
	// Text is the rendered error message, possibly empty.
	Text string
}

func (e *RuntimeError) Error() string {
	switch {
	case e.Type != "" && e.Text != "":
		return e.Type + ": " + e.Text
	case e.Type != "":
		return e.Type
	case e.Text != "":
		return e.Text
	}
	return "interpreter error"
}

// ConversionError reports a host value with no interpreter
// representation, or an interpreter result with no host mapping.
type ConversionError struct {
	// Type describes the value that could not be converted.
	Type string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("cannot convert value of type %s", e.Type)
}
