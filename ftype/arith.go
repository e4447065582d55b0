package ftype

import "math"

// ArithOp is an arithmetic operator usable in filters.
type ArithOp uint8

const (
	OpAdd ArithOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
)

func (op ArithOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	case OpMod:
		return "%"
	case OpBitAnd:
		return "&"
	default:
		return "?"
	}
}

// Arith applies op to two numeric values. Integer arithmetic wraps; a float
// operand makes the result a float. The boolean result is false for
// non-numeric operands, division by zero and bitwise and on floats.
func Arith(op ArithOp, a, b Value) (Value, bool) {
	switch {
	case a.Kind() == KindFloat || b.Kind() == KindFloat:
		x, ok := asFloat(a)
		if !ok {
			return nil, false
		}
		y, ok := asFloat(b)
		if !ok {
			return nil, false
		}
		return arithFloat(op, x, y)

	case a.Kind() == KindUint && b.Kind() == KindUint:
		return arithUint(op, uint64(a.(UintValue)), uint64(b.(UintValue)))
	}

	x, ok := asInt(a)
	if !ok {
		return nil, false
	}
	y, ok := asInt(b)
	if !ok {
		return nil, false
	}
	return arithInt(op, x, y)
}

func arithFloat(op ArithOp, x, y float64) (Value, bool) {
	switch op {
	case OpAdd:
		return FloatValue(x + y), true
	case OpSub:
		return FloatValue(x - y), true
	case OpMul:
		return FloatValue(x * y), true
	case OpDiv:
		if y == 0 {
			return nil, false
		}
		return FloatValue(x / y), true
	case OpMod:
		if y == 0 {
			return nil, false
		}
		return FloatValue(math.Mod(x, y)), true
	}
	return nil, false
}

func arithUint(op ArithOp, x, y uint64) (Value, bool) {
	switch op {
	case OpAdd:
		return UintValue(x + y), true
	case OpSub:
		return UintValue(x - y), true
	case OpMul:
		return UintValue(x * y), true
	case OpDiv:
		if y == 0 {
			return nil, false
		}
		return UintValue(x / y), true
	case OpMod:
		if y == 0 {
			return nil, false
		}
		return UintValue(x % y), true
	case OpBitAnd:
		return UintValue(x & y), true
	}
	return nil, false
}

func arithInt(op ArithOp, x, y int64) (Value, bool) {
	switch op {
	case OpAdd:
		return IntValue(x + y), true
	case OpSub:
		return IntValue(x - y), true
	case OpMul:
		return IntValue(x * y), true
	case OpDiv:
		if y == 0 {
			return nil, false
		}
		return IntValue(x / y), true
	case OpMod:
		if y == 0 {
			return nil, false
		}
		return IntValue(x % y), true
	case OpBitAnd:
		return IntValue(x & y), true
	}
	return nil, false
}

// Negate returns -v for numeric values. Unsigned values become signed.
func Negate(v Value) (Value, bool) {
	switch x := v.(type) {
	case IntValue:
		return -x, true
	case UintValue:
		return IntValue(-int64(x)), true
	case FloatValue:
		return -x, true
	}
	return nil, false
}

// Abs returns the absolute value of a numeric value.
func Abs(v Value) (Value, bool) {
	switch x := v.(type) {
	case IntValue:
		if x < 0 {
			return -x, true
		}
		return x, true
	case UintValue:
		return x, true
	case FloatValue:
		return FloatValue(math.Abs(float64(x))), true
	}
	return nil, false
}

func asFloat(v Value) (float64, bool) {
	switch x := v.(type) {
	case IntValue:
		return float64(x), true
	case UintValue:
		return float64(x), true
	case FloatValue:
		return float64(x), true
	}
	return 0, false
}

func asInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case IntValue:
		return int64(x), true
	case UintValue:
		return int64(x), true
	}
	return 0, false
}
