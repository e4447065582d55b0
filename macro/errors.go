package macro

import (
	"errors"
	"fmt"
)

var (
	// ErrMacro is the sentinel wrapped by every expansion failure.
	ErrMacro = errors.New("macro: expansion failed")

	// ErrDefinition is returned for invalid macro definitions.
	ErrDefinition = errors.New("macro: invalid definition")
)

// Error describes an expansion failure and where it happened in the input.
type Error struct {
	Msg    string
	Offset int
	Length int
}

func (e *Error) Error() string {
	return fmt.Sprintf("macro: %s (offset %d)", e.Msg, e.Offset)
}

func (e *Error) Unwrap() error {
	return ErrMacro
}
