package ftype

import (
	"bytes"
	"cmp"
	"regexp"
	"strings"
)

// Equal reports whether a and b hold the same value. An address compared
// with a prefix is equal when the prefix contains it.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case IntValue, UintValue, FloatValue:
		c, ok := compareNumeric(a, b)
		return ok && c == 0
	case BoolValue:
		y, ok := b.(BoolValue)
		return ok && x == y
	case BytesValue:
		switch y := b.(type) {
		case BytesValue:
			return bytes.Equal(x, y)
		case StringValue:
			return string(x) == string(y)
		}
	case StringValue:
		switch y := b.(type) {
		case StringValue:
			return x == y
		case BytesValue:
			return string(x) == string(y)
		}
	case IPValue:
		switch y := b.(type) {
		case IPValue:
			return x.Addr == y.Addr
		case PrefixValue:
			return y.Prefix.Contains(x.Addr)
		}
	case PrefixValue:
		switch y := b.(type) {
		case IPValue:
			return x.Prefix.Contains(y.Addr)
		case PrefixValue:
			return x.Prefix == y.Prefix
		}
	}

	return false
}

// Compare orders a against b. The boolean result is false when the values
// have no defined order.
func Compare(a, b Value) (int, bool) {
	switch x := a.(type) {
	case IntValue, UintValue, FloatValue:
		return compareNumeric(a, b)
	case BytesValue:
		if y, ok := b.(BytesValue); ok {
			return bytes.Compare(x, y), true
		}
	case StringValue:
		if y, ok := b.(StringValue); ok {
			return strings.Compare(string(x), string(y)), true
		}
	case IPValue:
		if y, ok := b.(IPValue); ok {
			return x.Addr.Compare(y.Addr), true
		}
	case BoolValue:
		if y, ok := b.(BoolValue); ok {
			return cmp.Compare(boolRank(x), boolRank(y)), true
		}
	}

	return 0, false
}

func boolRank(b BoolValue) int {
	if b {
		return 1
	}
	return 0
}

func compareNumeric(a, b Value) (int, bool) {
	switch x := a.(type) {
	case IntValue:
		switch y := b.(type) {
		case IntValue:
			return cmp.Compare(x, y), true
		case UintValue:
			if x < 0 {
				return -1, true
			}
			return cmp.Compare(uint64(x), uint64(y)), true
		case FloatValue:
			return cmp.Compare(float64(x), float64(y)), true
		}
	case UintValue:
		switch y := b.(type) {
		case UintValue:
			return cmp.Compare(x, y), true
		case IntValue:
			if y < 0 {
				return 1, true
			}
			return cmp.Compare(uint64(x), uint64(y)), true
		case FloatValue:
			return cmp.Compare(float64(x), float64(y)), true
		}
	case FloatValue:
		switch y := b.(type) {
		case FloatValue:
			return cmp.Compare(x, y), true
		case IntValue:
			return cmp.Compare(float64(x), float64(y)), true
		case UintValue:
			return cmp.Compare(float64(x), float64(y)), true
		}
	}

	return 0, false
}

// Contains reports whether haystack holds needle as a substring.
func Contains(haystack, needle Value) bool {
	h, ok := RawBytes(haystack)
	if !ok {
		return false
	}

	n, ok := RawBytes(needle)
	if !ok {
		return false
	}

	return bytes.Contains(h, n)
}

// Matches reports whether the pattern matches the string form of v.
// Byte values are matched against their raw content.
func Matches(v Value, re *regexp.Regexp) bool {
	switch x := v.(type) {
	case StringValue:
		return re.MatchString(string(x))
	case BytesValue:
		return re.Match(x)
	default:
		return false
	}
}
