package dfilter

import (
	"fmt"

	"github.com/vitalvas/pktfilter/fieldtree"
	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// cmpOp is the comparison performed by a CMP instruction.
type cmpOp uint8

const (
	cmpEq cmpOp = iota
	cmpNe
	cmpLt
	cmpLe
	cmpGt
	cmpGe
	cmpContains
)

var cmpNames = [...]string{
	cmpEq:       "eq",
	cmpNe:       "ne",
	cmpLt:       "lt",
	cmpLe:       "le",
	cmpGt:       "gt",
	cmpGe:       "ge",
	cmpContains: "contains",
}

func (op cmpOp) String() string {
	if int(op) < len(cmpNames) {
		return cmpNames[op]
	}
	return fmt.Sprintf("cmp(%d)", op)
}

// quantifier selects existential (any pair) or universal (every pair)
// comparison of multi-valued operands.
type quantifier uint8

const (
	quantAny quantifier = iota
	quantAll
)

func (q quantifier) String() string {
	if q == quantAll {
		return "all"
	}
	return "any"
}

func comparisonFor(op TokenType) (cmpOp, quantifier) {
	switch op {
	case TokenEq:
		return cmpEq, quantAny
	case TokenNe:
		return cmpNe, quantAny
	case TokenAllEq:
		return cmpEq, quantAll
	case TokenAllNe:
		return cmpNe, quantAll
	case TokenLt:
		return cmpLt, quantAny
	case TokenLe:
		return cmpLe, quantAny
	case TokenGt:
		return cmpGt, quantAny
	case TokenGe:
		return cmpGe, quantAny
	case TokenContains:
		return cmpContains, quantAny
	}
	panic(fmt.Sprintf("dfilter: %s is not a comparison", op))
}

func testPair(op cmpOp, a, b ftype.Value) bool {
	switch op {
	case cmpEq:
		return ftype.Equal(a, b)
	case cmpNe:
		return !ftype.Equal(a, b)
	case cmpContains:
		return ftype.Contains(a, b)
	}

	n, ok := ftype.Compare(a, b)
	if !ok {
		return false
	}
	switch op {
	case cmpLt:
		return n < 0
	case cmpLe:
		return n <= 0
	case cmpGt:
		return n > 0
	default:
		return n >= 0
	}
}

// compareValues applies op across every pair of left and right values.
// An empty operand never matches.
func compareValues(op cmpOp, quant quantifier, left, right []ftype.Value) bool {
	if len(left) == 0 || len(right) == 0 {
		return false
	}

	for _, a := range left {
		for _, b := range right {
			ok := testPair(op, a, b)
			if quant == quantAny && ok {
				return true
			}
			if quant == quantAll && !ok {
				return false
			}
		}
	}

	return quant == quantAll
}

type valueRange struct {
	low  ftype.Value
	high ftype.Value
}

func (r valueRange) contains(v ftype.Value) bool {
	lo, ok := ftype.Compare(v, r.low)
	if !ok || lo < 0 {
		return false
	}
	hi, ok := ftype.Compare(v, r.high)
	return ok && hi <= 0
}

func (r valueRange) String() string {
	return valueText(r.low) + ".." + valueText(r.high)
}

// memberSet is the compiled form of a set literal.
type memberSet struct {
	values []ftype.Value
	cidrs  *ftype.CIDRSet
	ranges []valueRange
	text   string
}

func newMemberSet(set *SetExpr) *memberSet {
	s := &memberSet{text: FormatExpr(set)}

	for _, el := range set.Elements {
		switch x := el.(type) {
		case *RangeExpr:
			s.ranges = append(s.ranges, valueRange{
				low:  x.Low.(*LiteralExpr).Value,
				high: x.High.(*LiteralExpr).Value,
			})
		case *LiteralExpr:
			if p, ok := x.Value.(ftype.PrefixValue); ok {
				if s.cidrs == nil {
					s.cidrs = ftype.NewCIDRSet()
				}
				s.cidrs.Add(p.Prefix)
				continue
			}
			s.values = append(s.values, x.Value)
		}
	}

	return s
}

func (s *memberSet) contains(v ftype.Value) bool {
	if s.cidrs != nil {
		if ip, ok := v.(ftype.IPValue); ok && s.cidrs.Contains(ip.Addr) {
			return true
		}
	}
	for _, m := range s.values {
		if ftype.Equal(v, m) {
			return true
		}
	}
	for _, r := range s.ranges {
		if r.contains(v) {
			return true
		}
	}
	return false
}

// sliceValue extracts the byte ranges from v. It fails when a range falls
// outside the value.
func sliceValue(v ftype.Value, ranges []SliceRange) (ftype.Value, bool) {
	raw, ok := ftype.RawBytes(v)
	if !ok {
		return nil, false
	}

	bounds := func(r SliceRange) (int, int, bool) {
		start := r.Start
		if start < 0 {
			start += len(raw)
		}
		if start < 0 || start >= len(raw) {
			return 0, 0, false
		}
		end := len(raw)
		if r.Length > 0 {
			end = start + r.Length
		}
		if end > len(raw) {
			return 0, 0, false
		}
		return start, end, true
	}

	if len(ranges) == 1 {
		start, end, ok := bounds(ranges[0])
		if !ok {
			return nil, false
		}
		return ftype.BytesValue(raw[start:end:end]), true
	}

	var out []byte
	for _, r := range ranges {
		start, end, ok := bounds(r)
		if !ok {
			return nil, false
		}
		out = append(out, raw[start:end]...)
	}
	return ftype.BytesValue(out), true
}

func anyTruthy(values []ftype.Value) bool {
	for _, v := range values {
		if v.IsTruthy() {
			return true
		}
	}
	return false
}

var (
	trueValues  = []ftype.Value{ftype.BoolValue(true)}
	falseValues = []ftype.Value{ftype.BoolValue(false)}
)

func boolValues(b bool) []ftype.Value {
	if b {
		return trueValues
	}
	return falseValues
}

// truth reads a boolean result from the stack.
func truth(values []ftype.Value) bool {
	return len(values) > 0 && values[0].IsTruthy()
}

func arithOp(op TokenType) ftype.ArithOp {
	switch op {
	case TokenPlus:
		return ftype.OpAdd
	case TokenMinus:
		return ftype.OpSub
	case TokenStar:
		return ftype.OpMul
	case TokenSlash:
		return ftype.OpDiv
	case TokenPercent:
		return ftype.OpMod
	case TokenBitAnd:
		return ftype.OpBitAnd
	}
	panic(fmt.Sprintf("dfilter: %s is not an arithmetic operator", op))
}

// arithValues applies op to every pair of operand values. Pairs without a
// defined result, such as division by zero, are dropped.
func arithValues(op ftype.ArithOp, left, right []ftype.Value) []ftype.Value {
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	out := make([]ftype.Value, 0, len(left)*len(right))
	for _, a := range left {
		for _, b := range right {
			if v, ok := ftype.Arith(op, a, b); ok {
				out = append(out, v)
			}
		}
	}
	return out
}

func negateValues(values []ftype.Value) []ftype.Value {
	out := make([]ftype.Value, 0, len(values))
	for _, v := range values {
		if n, ok := ftype.Negate(v); ok {
			out = append(out, n)
		}
	}
	return out
}

type emptyTree struct{}

func (emptyTree) FetchValues(registry.FieldID, fieldtree.Layer) []ftype.Value { return nil }

// run executes the program. Malformed programs panic.
func (f *Filter) run(tree FieldTree) bool {
	sp := f.stacks.Get().(*[][]ftype.Value)
	stack := (*sp)[:0]
	defer func() {
		clear(stack[:cap(stack)])
		*sp = stack[:0]
		f.stacks.Put(sp)
	}()

	top := func() []ftype.Value { return stack[len(stack)-1] }
	pop := func() []ftype.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	code := f.prog.code
	for pc := 0; pc < len(code); pc++ {
		in := code[pc]

		switch in.Op {
		case OpPush:
			stack = append(stack, f.prog.consts[in.Arg])

		case OpFetch:
			ref := f.prog.refs[in.Arg]
			stack = append(stack, tree.FetchValues(ref.Field.ID, ref.layer()))

		case OpExists:
			ref := f.prog.refs[in.Arg]
			stack = append(stack, boolValues(len(tree.FetchValues(ref.Field.ID, ref.layer())) > 0))

		case OpTruthy:
			stack[len(stack)-1] = boolValues(anyTruthy(top()))

		case OpCmp:
			right := pop()
			stack[len(stack)-1] = boolValues(compareValues(cmpOp(in.Arg), quantifier(in.Aux), top(), right))

		case OpMatch:
			re := f.prog.regexes[in.Arg]
			matched := false
			for _, v := range top() {
				if ftype.Matches(v, re) {
					matched = true
					break
				}
			}
			stack[len(stack)-1] = boolValues(matched)

		case OpInSet:
			set := f.prog.sets[in.Arg]
			found := false
			for _, v := range top() {
				if set.contains(v) {
					found = true
					break
				}
			}
			stack[len(stack)-1] = boolValues(found)

		case OpInRange:
			r := f.prog.ranges[in.Arg]
			found := false
			for _, v := range top() {
				if r.contains(v) {
					found = true
					break
				}
			}
			stack[len(stack)-1] = boolValues(found)

		case OpSlice:
			ranges := f.prog.slices[in.Arg]
			values := top()
			out := make([]ftype.Value, 0, len(values))
			for _, v := range values {
				if s, ok := sliceValue(v, ranges); ok {
					out = append(out, s)
				}
			}
			stack[len(stack)-1] = out

		case OpArith:
			right := pop()
			stack[len(stack)-1] = arithValues(ftype.ArithOp(in.Arg), top(), right)

		case OpNeg:
			stack[len(stack)-1] = negateValues(top())

		case OpCall:
			argc := int(in.Aux)
			args := stack[len(stack)-argc:]
			result := f.prog.funcs[in.Arg].eval(args)
			stack = append(stack[:len(stack)-argc], result)

		case OpNot:
			stack[len(stack)-1] = boolValues(!truth(top()))

		case OpXor:
			right := pop()
			stack[len(stack)-1] = boolValues(truth(top()) != truth(right))

		case OpJumpIfTrue:
			if truth(top()) {
				pc = int(in.Arg) - 1
			}

		case OpJumpIfFalse:
			if !truth(top()) {
				pc = int(in.Arg) - 1
			}

		case OpPop:
			pop()

		case OpReturn:
			return truth(pop())

		default:
			panic(fmt.Sprintf("dfilter: invalid opcode %d at %04d", in.Op, pc))
		}
	}

	panic("dfilter: program ended without RETURN")
}
