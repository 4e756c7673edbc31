package codec

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedDocument  = errors.New("malformed document")
	ErrUnterminatedString = errors.New("unterminated string")
	ErrUnbalancedBrackets = errors.New("unbalanced brackets")

	// ErrFieldParse marks a single field that did not match its declared type.
	// It never aborts a Read.
	ErrFieldParse = errors.New("field parse failure")
)

// SyntaxError is a fatal read error at a byte offset of the input.
type SyntaxError struct {
	Offset int
	Err    error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%v at offset %d", e.Err, e.Offset)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

type FieldError struct {
	Path   string
	Offset int
	Err    error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s (offset %d): %v", e.Path, e.Offset, e.Err)
}

func (e FieldError) Unwrap() error { return e.Err }
