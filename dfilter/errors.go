package dfilter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLex is returned for unterminated strings, malformed literals and
	// unrecognized characters.
	ErrLex = errors.New("dfilter: lexical error")

	// ErrParse is returned for input that does not form a valid expression.
	ErrParse = errors.New("dfilter: syntax error")

	// ErrMacro is returned when macro expansion fails.
	ErrMacro = errors.New("dfilter: macro error")

	// ErrUnknownField is returned for names missing from the registry.
	ErrUnknownField = errors.New("dfilter: unknown field")

	// ErrTypeMismatch is returned when operands have no common type.
	ErrTypeMismatch = errors.New("dfilter: type mismatch")

	// ErrUnsupportedOperator is returned when an operator is not defined for a type.
	ErrUnsupportedOperator = errors.New("dfilter: unsupported operator")

	// ErrRange is returned for out of range slice bounds, layer indexes,
	// integer literals and CIDR prefix lengths.
	ErrRange = errors.New("dfilter: value out of range")
)

// Location is a byte range in the compiled text.
type Location struct {
	Offset int
	Length int
}

// Span returns the smallest location covering both a and b.
func (a Location) Span(b Location) Location {
	start := min(a.Offset, b.Offset)
	end := max(a.Offset+a.Length, b.Offset+b.Length)
	return Location{Offset: start, Length: end - start}
}

func (a Location) String() string {
	if a.Length <= 1 {
		return fmt.Sprintf("%d", a.Offset)
	}
	return fmt.Sprintf("%d-%d", a.Offset, a.Offset+a.Length-1)
}

// Error is a compilation failure. It unwraps to one of the Err* sentinels.
type Error struct {
	Kind error
	Msg  string
	Loc  Location
}

func newError(kind error, loc Location, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Loc: loc}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Loc, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// Highlight renders text with a caret line under the failing range.
func (e *Error) Highlight(text string) string {
	offset := min(max(e.Loc.Offset, 0), len(text))
	length := max(e.Loc.Length, 1)

	var sb strings.Builder
	sb.WriteString(text)
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat(" ", offset))
	sb.WriteString("^")
	if length > 1 {
		sb.WriteString(strings.Repeat("~", length-1))
	}
	return sb.String()
}
