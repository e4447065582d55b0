package ftype

import "errors"

var (
	// ErrUnknownType is returned when a type name is not recognized.
	ErrUnknownType = errors.New("ftype: unknown type")

	// ErrSyntax is returned when a literal cannot be parsed as the requested type.
	ErrSyntax = errors.New("ftype: invalid literal")

	// ErrRange is returned when a literal is well formed but out of range for the type.
	ErrRange = errors.New("ftype: value out of range")
)
