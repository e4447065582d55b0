package ftype

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
)

// ParseLiteral converts the textual form of a literal into a value of type t.
// The returned error wraps ErrSyntax when s has the wrong shape and ErrRange
// when it does not fit the type.
func ParseLiteral(t Type, s string) (Value, error) {
	switch t.Class() {
	case ClassInteger:
		return ParseInteger(t, s)

	case ClassFloat:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			v, ierr := ParseNumber(s)
			if ierr != nil {
				return nil, fmt.Errorf("%w: %q is not a number", ErrSyntax, s)
			}
			return toFloat(v), nil
		}
		return FloatValue(f), nil

	case ClassBool:
		switch strings.ToLower(s) {
		case "true", "1":
			return BoolValue(true), nil
		case "false", "0":
			return BoolValue(false), nil
		}
		if _, err := ParseNumber(s); err == nil {
			return nil, fmt.Errorf("%w: %s is not 0 or 1", ErrRange, s)
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrSyntax, s)

	case ClassBytes, ClassProtocol:
		b, err := ParseBytes(s)
		if err != nil {
			return nil, err
		}
		if t == TypeEther && len(b) != 6 {
			return nil, fmt.Errorf("%w: ether address needs 6 octets, got %d", ErrRange, len(b))
		}
		return BytesValue(b), nil

	case ClassIP:
		v, err := ParseAddress(s)
		if err != nil {
			return nil, err
		}
		if !addressFamilyMatches(t, v) {
			return nil, fmt.Errorf("%w: %s is not an %s address", ErrSyntax, s, t)
		}
		return v, nil

	case ClassString:
		return StringValue(s), nil
	}

	return nil, fmt.Errorf("%w: no literal form for %s", ErrSyntax, t)
}

func addressFamilyMatches(t Type, v Value) bool {
	var addr netip.Addr
	switch x := v.(type) {
	case IPValue:
		addr = x.Addr
	case PrefixValue:
		addr = x.Prefix.Addr()
	default:
		return false
	}

	if t == TypeIPv4 {
		return addr.Is4()
	}
	return addr.Is6()
}

// ParseNumber parses an integer (decimal, 0x hex, 0b binary, leading zero
// octal), a character literal or a float. Integers that do not fit int64 are
// returned as UintValue.
func ParseNumber(s string) (Value, error) {
	if strings.HasPrefix(s, "'") {
		r, err := parseChar(s)
		if err != nil {
			return nil, err
		}
		return IntValue(r), nil
	}

	if n, err := strconv.ParseInt(s, 0, 64); err == nil {
		return IntValue(n), nil
	} else if errors.Is(err, strconv.ErrRange) {
		if u, uerr := strconv.ParseUint(s, 0, 64); uerr == nil {
			return UintValue(u), nil
		}
		return nil, fmt.Errorf("%w: %s overflows 64 bits", ErrRange, s)
	}

	if isDecimalFloat(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FloatValue(f), nil
		} else if errors.Is(err, strconv.ErrRange) {
			return nil, fmt.Errorf("%w: %s", ErrRange, s)
		}
	}

	return nil, fmt.Errorf("%w: %q is not a number", ErrSyntax, s)
}

func isDecimalFloat(s string) bool {
	if !strings.ContainsAny(s, ".eE") {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c == '.', c == 'e', c == 'E':
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			return false
		}
	}
	return true
}

func parseChar(s string) (rune, error) {
	if len(s) < 3 || s[len(s)-1] != '\'' {
		return 0, fmt.Errorf("%w: malformed character literal %s", ErrSyntax, s)
	}

	r, multibyte, tail, err := strconv.UnquoteChar(s[1:len(s)-1], '\'')
	if err != nil || tail != "" || multibyte && r > math.MaxUint8 {
		return 0, fmt.Errorf("%w: malformed character literal %s", ErrSyntax, s)
	}
	return r, nil
}

// ParseInteger parses s and checks it against the width and signedness of t.
func ParseInteger(t Type, s string) (Value, error) {
	v, err := ParseNumber(s)
	if err != nil {
		return nil, err
	}

	return FitInteger(t, v, s)
}

// FitInteger range-checks an integer value against t and returns it in the
// representation used for that type.
func FitInteger(t Type, v Value, text string) (Value, error) {
	bits := t.Bits()

	switch x := v.(type) {
	case IntValue:
		if t.Signed() {
			if bits < 64 {
				lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
				if int64(x) < lo || int64(x) > hi {
					return nil, fmt.Errorf("%w: %s does not fit %s", ErrRange, text, t)
				}
			}
			return x, nil
		}
		if x < 0 {
			return nil, fmt.Errorf("%w: %s is negative but %s is unsigned", ErrRange, text, t)
		}
		if bits < 64 && uint64(x) >= uint64(1)<<bits {
			return nil, fmt.Errorf("%w: %s does not fit %s", ErrRange, text, t)
		}
		return UintValue(x), nil

	case UintValue:
		if t.Signed() {
			return nil, fmt.Errorf("%w: %s does not fit %s", ErrRange, text, t)
		}
		if bits < 64 && uint64(x) >= uint64(1)<<bits {
			return nil, fmt.Errorf("%w: %s does not fit %s", ErrRange, text, t)
		}
		return x, nil
	}

	return nil, fmt.Errorf("%w: %s is not an integer", ErrSyntax, text)
}

func toFloat(v Value) FloatValue {
	switch x := v.(type) {
	case IntValue:
		return FloatValue(x)
	case UintValue:
		return FloatValue(x)
	case FloatValue:
		return x
	}
	return 0
}

// ParseBytes parses hex octets separated by a single kind of separator
// (":", "." or "-"). A lone octet without separators is accepted.
func ParseBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty byte string", ErrSyntax)
	}

	var sep byte
	for i := 0; i < len(s); i++ {
		if c := s[i]; c == ':' || c == '.' || c == '-' {
			if sep == 0 {
				sep = c
			} else if c != sep {
				return nil, fmt.Errorf("%w: mixed separators in %q", ErrSyntax, s)
			}
		}
	}

	groups := []string{s}
	if sep != 0 {
		groups = strings.Split(s, string(sep))
	}

	out := make([]byte, 0, len(groups))
	for _, g := range groups {
		if len(g) == 0 || len(g) > 2 {
			return nil, fmt.Errorf("%w: bad octet %q in %q", ErrSyntax, g, s)
		}
		n, err := strconv.ParseUint(g, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("%w: bad octet %q in %q", ErrSyntax, g, s)
		}
		out = append(out, byte(n))
	}

	return out, nil
}

// IsByteString reports whether s has the shape of a separated byte string.
func IsByteString(s string) bool {
	if !strings.ContainsAny(s, ":.-") {
		return false
	}
	_, err := ParseBytes(s)
	return err == nil
}

// ParseAddress parses an IPv4 or IPv6 address, or a CIDR prefix in either
// family. Prefixes are returned masked.
func ParseAddress(s string) (Value, error) {
	addrPart, bitsPart, isPrefix := strings.Cut(s, "/")

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed address %q", ErrSyntax, addrPart)
	}
	addr = addr.Unmap()

	if !isPrefix {
		return IP(addr), nil
	}

	bits, err := strconv.Atoi(bitsPart)
	if err != nil || bitsPart == "" || bitsPart[0] == '+' || bitsPart[0] == '-' {
		return nil, fmt.Errorf("%w: malformed prefix length %q", ErrSyntax, bitsPart)
	}
	if bits > addr.BitLen() {
		return nil, fmt.Errorf("%w: prefix length /%d exceeds %d bits", ErrRange, bits, addr.BitLen())
	}

	prefix, err := addr.Prefix(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRange, err)
	}

	return PrefixValue{Prefix: prefix}, nil
}
