package ftype

import (
	"encoding/hex"
	"net/netip"
	"strconv"
	"strings"
)

// Kind identifies the runtime representation of a Value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInt
	KindUint
	KindFloat
	KindBool
	KindBytes
	KindIP
	KindString
	KindPrefix
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindIP:
		return "ip"
	case KindString:
		return "string"
	case KindPrefix:
		return "prefix"
	default:
		return "invalid"
	}
}

// Value is a literal or a field value fetched from a packet.
// The set of implementations is closed.
type Value interface {
	Kind() Kind
	String() string
	IsTruthy() bool
	isValue()
}

// IntValue is a signed integer of any width.
type IntValue int64

func (IntValue) Kind() Kind       { return KindInt }
func (i IntValue) String() string { return strconv.FormatInt(int64(i), 10) }
func (i IntValue) IsTruthy() bool { return i != 0 }
func (IntValue) isValue()         {}

// UintValue is an unsigned integer of any width.
type UintValue uint64

func (UintValue) Kind() Kind       { return KindUint }
func (u UintValue) String() string { return strconv.FormatUint(uint64(u), 10) }
func (u UintValue) IsTruthy() bool { return u != 0 }
func (UintValue) isValue()         {}

// FloatValue is a double precision number.
type FloatValue float64

func (FloatValue) Kind() Kind { return KindFloat }
func (f FloatValue) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}
func (f FloatValue) IsTruthy() bool { return f != 0 }
func (FloatValue) isValue()         {}

// BoolValue is a boolean.
type BoolValue bool

func (BoolValue) Kind() Kind       { return KindBool }
func (b BoolValue) String() string { return strconv.FormatBool(bool(b)) }
func (b BoolValue) IsTruthy() bool { return bool(b) }
func (BoolValue) isValue()         {}

// BytesValue is a raw byte string. Protocol and ether fields use it too.
type BytesValue []byte

func (BytesValue) Kind() Kind { return KindBytes }
func (b BytesValue) String() string {
	if len(b) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, c := range b {
		if i > 0 {
			sb.WriteByte(':')
		}
		sb.WriteString(hex.EncodeToString([]byte{c}))
	}
	return sb.String()
}
func (b BytesValue) IsTruthy() bool { return len(b) > 0 }
func (BytesValue) isValue()         {}

// IPValue is an IPv4 or IPv6 address.
type IPValue struct {
	Addr netip.Addr
}

func (IPValue) Kind() Kind        { return KindIP }
func (ip IPValue) String() string { return ip.Addr.String() }
func (ip IPValue) IsTruthy() bool { return ip.Addr.IsValid() }
func (IPValue) isValue()          {}

// StringValue is a character string.
type StringValue string

func (StringValue) Kind() Kind       { return KindString }
func (s StringValue) String() string { return string(s) }
func (s StringValue) IsTruthy() bool { return len(s) > 0 }
func (StringValue) isValue()         {}

// PrefixValue is a CIDR network. It only appears as a literal.
type PrefixValue struct {
	Prefix netip.Prefix
}

func (PrefixValue) Kind() Kind       { return KindPrefix }
func (p PrefixValue) String() string { return p.Prefix.String() }
func (p PrefixValue) IsTruthy() bool { return p.Prefix.IsValid() }
func (PrefixValue) isValue()         {}

// IP wraps an address, unmapping IPv4-in-IPv6 forms.
func IP(addr netip.Addr) IPValue {
	return IPValue{Addr: addr.Unmap()}
}

// RawBytes returns the byte representation used for slicing and length.
func RawBytes(v Value) ([]byte, bool) {
	switch x := v.(type) {
	case BytesValue:
		return x, true
	case StringValue:
		return []byte(x), true
	case IPValue:
		return x.Addr.AsSlice(), true
	default:
		return nil, false
	}
}
