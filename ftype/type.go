// Package ftype defines the semantic field types known to the filter engine
// and the runtime values that flow through compiled filters.
package ftype

import (
	"fmt"
	"strings"
)

// Type is the semantic type of a registered field.
type Type uint8

const (
	TypeNone Type = iota
	TypeProtocol
	TypeBool
	TypeUint8
	TypeUint16
	TypeUint24
	TypeUint32
	TypeUint64
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeFloat
	TypeString
	TypeBytes
	TypeEther
	TypeIPv4
	TypeIPv6
)

// Class groups types that share comparison rules.
type Class uint8

const (
	ClassNone Class = iota
	ClassProtocol
	ClassBool
	ClassInteger
	ClassFloat
	ClassString
	ClassBytes
	ClassIP
)

type descriptor struct {
	name   string
	class  Class
	bits   int
	signed bool
}

var descriptors = [...]descriptor{
	TypeNone:     {name: "none", class: ClassNone},
	TypeProtocol: {name: "protocol", class: ClassProtocol},
	TypeBool:     {name: "bool", class: ClassBool, bits: 1},
	TypeUint8:    {name: "uint8", class: ClassInteger, bits: 8},
	TypeUint16:   {name: "uint16", class: ClassInteger, bits: 16},
	TypeUint24:   {name: "uint24", class: ClassInteger, bits: 24},
	TypeUint32:   {name: "uint32", class: ClassInteger, bits: 32},
	TypeUint64:   {name: "uint64", class: ClassInteger, bits: 64},
	TypeInt8:     {name: "int8", class: ClassInteger, bits: 8, signed: true},
	TypeInt16:    {name: "int16", class: ClassInteger, bits: 16, signed: true},
	TypeInt32:    {name: "int32", class: ClassInteger, bits: 32, signed: true},
	TypeInt64:    {name: "int64", class: ClassInteger, bits: 64, signed: true},
	TypeFloat:    {name: "float", class: ClassFloat, bits: 64, signed: true},
	TypeString:   {name: "string", class: ClassString},
	TypeBytes:    {name: "bytes", class: ClassBytes},
	TypeEther:    {name: "ether", class: ClassBytes, bits: 48},
	TypeIPv4:     {name: "ipv4", class: ClassIP, bits: 32},
	TypeIPv6:     {name: "ipv6", class: ClassIP, bits: 128},
}

func (t Type) desc() descriptor {
	if int(t) < len(descriptors) {
		return descriptors[t]
	}
	return descriptors[TypeNone]
}

func (t Type) String() string {
	if int(t) < len(descriptors) {
		return descriptors[t].name
	}
	return fmt.Sprintf("Type(%d)", t)
}

// Class returns the comparison class of the type.
func (t Type) Class() Class { return t.desc().class }

// Bits returns the value width in bits, or 0 for variable-length types.
func (t Type) Bits() int { return t.desc().bits }

// Signed reports whether integer values of this type are signed.
func (t Type) Signed() bool { return t.desc().signed }

// IsNumeric reports whether the type takes part in arithmetic.
func (t Type) IsNumeric() bool {
	c := t.Class()
	return c == ClassInteger || c == ClassFloat
}

// Sliceable reports whether byte ranges can be taken from values of the type.
func (t Type) Sliceable() bool {
	switch t.Class() {
	case ClassProtocol, ClassBytes, ClassString, ClassIP:
		return true
	default:
		return false
	}
}

// Ordered reports whether <, <=, > and >= are defined for the type.
func (t Type) Ordered() bool {
	switch t.Class() {
	case ClassInteger, ClassFloat, ClassBytes, ClassIP, ClassProtocol:
		return true
	default:
		return false
	}
}

// Comparable reports whether values of a and b can be compared with each other.
func Comparable(a, b Type) bool {
	ca, cb := a.Class(), b.Class()
	switch {
	case ca == cb:
		return true
	case ca == ClassInteger && cb == ClassFloat, ca == ClassFloat && cb == ClassInteger:
		return true
	case ca == ClassProtocol && cb == ClassBytes, ca == ClassBytes && cb == ClassProtocol:
		return true
	default:
		return false
	}
}

func (c Class) String() string {
	switch c {
	case ClassProtocol:
		return "protocol"
	case ClassBool:
		return "bool"
	case ClassInteger:
		return "integer"
	case ClassFloat:
		return "float"
	case ClassString:
		return "string"
	case ClassBytes:
		return "bytes"
	case ClassIP:
		return "ip"
	default:
		return "none"
	}
}

// ParseType resolves a type name as used in registry files.
func ParseType(name string) (Type, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for t, d := range descriptors {
		if d.name == lower && Type(t) != TypeNone {
			return Type(t), nil
		}
	}

	switch lower {
	case "int":
		return TypeInt64, nil
	case "uint":
		return TypeUint64, nil
	case "double":
		return TypeFloat, nil
	case "mac":
		return TypeEther, nil
	}

	return TypeNone, fmt.Errorf("%w: %q", ErrUnknownType, name)
}
