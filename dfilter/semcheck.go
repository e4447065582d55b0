package dfilter

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// checker resolves field names, assigns a type to every node and rewrites
// bare fields and values used as conditions into existence and truthiness
// tests.
type checker struct {
	reg      Registry
	warnings []string
}

func (c *checker) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	for _, w := range c.warnings {
		if w == msg {
			return
		}
	}
	c.warnings = append(c.warnings, msg)
}

// checkLogical checks e where a boolean result is required.
func (c *checker) checkLogical(e Expression) (Expression, error) {
	switch x := e.(type) {
	case *BinaryExpr:
		switch {
		case isLogical(x.Operator):
			left, err := c.checkLogical(x.Left)
			if err != nil {
				return nil, err
			}
			right, err := c.checkLogical(x.Right)
			if err != nil {
				return nil, err
			}
			x.Left, x.Right, x.Type = left, right, ftype.TypeBool
			return x, nil

		case isArithmetic(x.Operator):
			return c.truthy(x)

		case x.Operator == TokenIn:
			return c.checkMembership(x)

		default:
			return c.checkComparison(x)
		}

	case *UnaryExpr:
		if x.Operator != TokenNot {
			return c.truthy(x)
		}
		operand, err := c.checkLogical(x.Operand)
		if err != nil {
			return nil, err
		}
		x.Operand, x.Type = operand, ftype.TypeBool
		return x, nil

	case *FieldExpr:
		if err := c.resolveField(x); err != nil {
			return nil, err
		}
		if x.Field.Type == ftype.TypeBool {
			return &TruthyExpr{Operand: x}, nil
		}
		return &ExistsExpr{Field: x}, nil

	case *LiteralExpr:
		switch x.Value.Kind() {
		case ftype.KindBool:
			x.Type = ftype.TypeBool
			return x, nil
		case ftype.KindInt, ftype.KindUint, ftype.KindFloat:
			x.Type = literalType(x.Value)
			return &TruthyExpr{Operand: x}, nil
		}
		return nil, newError(ErrTypeMismatch, x.Loc, "%s literal %s cannot be used as a condition", x.Kind, x.Lexeme)

	case *SliceExpr, *CallExpr:
		return c.truthy(x)

	case *SetExpr:
		return nil, newError(ErrParse, x.Loc, "set literal is only valid after \"in\"")
	}

	return nil, newError(ErrParse, e.Pos(), "unexpected expression")
}

func (c *checker) truthy(e Expression) (Expression, error) {
	checked, err := c.checkValue(e, ftype.TypeNone)
	if err != nil {
		return nil, err
	}
	return &TruthyExpr{Operand: checked}, nil
}

func (c *checker) resolveField(f *FieldExpr) error {
	field, ok := c.reg.LookupField(f.Name)
	if !ok {
		return newError(ErrUnknownField, f.Loc, "%q is not a valid protocol or field name", f.Name)
	}
	f.Field = field
	return nil
}

// untyped reports whether e takes its type from the opposite operand:
// literals, and names that are not registered fields.
func (c *checker) untyped(e Expression) bool {
	switch x := e.(type) {
	case *LiteralExpr:
		return true
	case *FieldExpr:
		if x.Layer != 0 {
			return false
		}
		_, ok := c.reg.LookupField(x.Name)
		return !ok
	}
	return false
}

// checkValue checks e where a value is required. hint is the type of the
// opposite operand, used to interpret literals; TypeNone leaves literals
// with their lexical type.
func (c *checker) checkValue(e Expression, hint ftype.Type) (Expression, error) {
	switch x := e.(type) {
	case *LiteralExpr:
		return c.convertLiteral(x, hint)

	case *FieldExpr:
		if _, ok := c.reg.LookupField(x.Name); ok || x.Layer != 0 || hint == ftype.TypeNone || hint.Class() == ftype.ClassString {
			if err := c.resolveField(x); err != nil {
				return nil, err
			}
			return x, nil
		}

		lit := &LiteralExpr{Kind: TokenIdent, Lexeme: x.Name, Loc: x.Loc}
		if converted, err := c.convertLiteral(lit, hint); err == nil {
			return converted, nil
		}
		return nil, newError(ErrUnknownField, x.Loc, "%q is neither a field nor a valid %s value", x.Name, hint)

	case *UnaryExpr:
		if x.Operator == TokenNot {
			return c.checkLogical(x)
		}
		operand, err := c.checkValue(x.Operand, hint)
		if err != nil {
			return nil, err
		}
		t := typeOf(operand)
		if !t.IsNumeric() {
			return nil, newError(ErrTypeMismatch, x.Loc, "cannot negate a %s value", t)
		}
		if !t.Signed() {
			t = ftype.TypeInt64
		}
		x.Operand, x.Type = operand, t
		return x, nil

	case *BinaryExpr:
		if isArithmetic(x.Operator) {
			return c.checkArith(x, hint)
		}
		return c.checkLogical(x)

	case *SliceExpr:
		return c.checkSlice(x)

	case *CallExpr:
		return c.checkCall(x)

	case *SetExpr:
		return nil, newError(ErrParse, x.Loc, "set literal is only valid after \"in\"")
	}

	return nil, newError(ErrParse, e.Pos(), "unexpected expression")
}

// literalType is the type a literal has when nothing else constrains it.
func literalType(v ftype.Value) ftype.Type {
	switch x := v.(type) {
	case ftype.IntValue:
		return ftype.TypeInt64
	case ftype.UintValue:
		return ftype.TypeUint64
	case ftype.FloatValue:
		return ftype.TypeFloat
	case ftype.BoolValue:
		return ftype.TypeBool
	case ftype.StringValue:
		return ftype.TypeString
	case ftype.BytesValue:
		return ftype.TypeBytes
	case ftype.IPValue:
		return addrType(x.Addr)
	case ftype.PrefixValue:
		return addrType(x.Prefix.Addr())
	}
	return ftype.TypeNone
}

func addrType(addr netip.Addr) ftype.Type {
	if addr.Is4() {
		return ftype.TypeIPv4
	}
	return ftype.TypeIPv6
}

// convertLiteral reinterprets the lexeme of lit as a value of the target
// type.
func (c *checker) convertLiteral(lit *LiteralExpr, target ftype.Type) (Expression, error) {
	if target == ftype.TypeProtocol {
		target = ftype.TypeBytes
	}

	if target == ftype.TypeNone {
		if lit.Value == nil {
			return nil, newError(ErrUnknownField, lit.Loc, "%q is not a valid protocol or field name", lit.Lexeme)
		}
		lit.Type = literalType(lit.Value)
		return lit, nil
	}

	v, err := c.literalValue(lit, target)
	if err != nil {
		if errors.Is(err, ftype.ErrRange) {
			return nil, newError(ErrRange, lit.Loc, "%s", strings.TrimPrefix(err.Error(), ftype.ErrRange.Error()+": "))
		}
		return nil, newError(ErrTypeMismatch, lit.Loc, "%s is not a valid %s value", lit.Lexeme, target)
	}

	lit.Value = v
	lit.Type = target
	return lit, nil
}

func (c *checker) literalValue(lit *LiteralExpr, target ftype.Type) (ftype.Value, error) {
	class := target.Class()

	switch lit.Kind {
	case TokenString:
		s := string(lit.Value.(ftype.StringValue))
		switch {
		case class == ftype.ClassString:
			return ftype.StringValue(s), nil
		case target == ftype.TypeBytes:
			return ftype.BytesValue(s), nil
		}
		return ftype.ParseLiteral(target, s)

	case TokenChar:
		switch class {
		case ftype.ClassInteger:
			return ftype.FitInteger(target, lit.Value, lit.Lexeme)
		case ftype.ClassFloat:
			return ftype.FloatValue(lit.Value.(ftype.IntValue)), nil
		case ftype.ClassBytes:
			if target == ftype.TypeBytes {
				return ftype.BytesValue{byte(lit.Value.(ftype.IntValue))}, nil
			}
		}
		return nil, ftype.ErrSyntax

	case TokenBool:
		if class == ftype.ClassBool {
			return lit.Value, nil
		}
		return nil, ftype.ErrSyntax
	}

	if class == ftype.ClassString {
		return nil, ftype.ErrSyntax
	}
	return ftype.ParseLiteral(target, lit.Lexeme)
}

// operands checks both sides of a binary operator. A side without a type
// of its own is checked second, using the other side's type as the hint.
func (c *checker) operands(op TokenType, left, right Expression, hint ftype.Type) (Expression, Expression, error) {
	var err error

	if c.untyped(left) && !c.untyped(right) {
		if right, err = c.checkValue(right, hintFor(op, hint, right)); err != nil {
			return nil, nil, err
		}
		if left, err = c.checkValue(left, hintFor(op, typeOf(right), left)); err != nil {
			return nil, nil, err
		}
		return left, right, nil
	}

	if left, err = c.checkValue(left, hintFor(op, hint, left)); err != nil {
		return nil, nil, err
	}
	if right, err = c.checkValue(right, hintFor(op, typeOf(left), right)); err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

// hintFor adjusts the literal type for operators that do not compare whole
// values. The needle of contains may be shorter than an address, and a
// negative operand of arithmetic on an unsigned value stays signed.
func hintFor(op TokenType, t ftype.Type, e Expression) ftype.Type {
	switch {
	case op == TokenContains && t.Class() == ftype.ClassBytes:
		return ftype.TypeBytes
	case isArithmetic(op) && t.Class() == ftype.ClassInteger && !t.Signed() && isNegativeInt(e):
		return ftype.TypeInt64
	}
	return t
}

func isNegativeInt(e Expression) bool {
	lit, ok := e.(*LiteralExpr)
	if !ok || lit.Kind != TokenInt {
		return false
	}
	v, ok := lit.Value.(ftype.IntValue)
	return ok && v < 0
}

func (c *checker) checkComparison(b *BinaryExpr) (Expression, error) {
	if b.Operator == TokenMatches {
		return c.checkMatches(b)
	}

	left, right, err := c.operands(b.Operator, b.Left, b.Right, ftype.TypeNone)
	if err != nil {
		return nil, err
	}
	b.Left, b.Right, b.Type = left, right, ftype.TypeBool

	lt, rt := typeOf(left), typeOf(right)
	if !ftype.Comparable(lt, rt) {
		return nil, newError(ErrTypeMismatch, b.Loc, "%s and %s cannot be compared", lt, rt)
	}

	if !operatorSupported(b.Operator, lt.Class()) {
		return nil, newError(ErrUnsupportedOperator, b.OpLoc, "%s is not supported for %s values", b.Operator, lt)
	}

	if isPrefixLiteral(left) || isPrefixLiteral(right) {
		switch b.Operator {
		case TokenEq, TokenNe, TokenAllEq, TokenAllNe:
		default:
			return nil, newError(ErrUnsupportedOperator, b.OpLoc, "CIDR ranges only support ==, !=, === and !==")
		}
	}

	if b.Operator == TokenNe {
		for _, side := range []Expression{left, right} {
			if f, ok := side.(*FieldExpr); ok && f.Layer == 0 {
				c.warn("%q != matches when any occurrence differs; use !== to require that all occurrences differ", f.Name)
			}
		}
	}

	return b, nil
}

func operatorSupported(op TokenType, class ftype.Class) bool {
	switch op {
	case TokenEq, TokenNe, TokenAllEq, TokenAllNe:
		return class != ftype.ClassNone
	case TokenLt, TokenLe, TokenGt, TokenGe:
		switch class {
		case ftype.ClassInteger, ftype.ClassFloat, ftype.ClassBytes, ftype.ClassProtocol, ftype.ClassIP:
			return true
		}
	case TokenContains:
		switch class {
		case ftype.ClassString, ftype.ClassBytes, ftype.ClassProtocol:
			return true
		}
	}
	return false
}

func isPrefixLiteral(e Expression) bool {
	lit, ok := e.(*LiteralExpr)
	if !ok {
		return false
	}
	_, ok = lit.Value.(ftype.PrefixValue)
	return ok
}

func (c *checker) checkMatches(b *BinaryExpr) (Expression, error) {
	left, err := c.checkValue(b.Left, ftype.TypeNone)
	if err != nil {
		return nil, err
	}

	switch typeOf(left).Class() {
	case ftype.ClassString, ftype.ClassBytes, ftype.ClassProtocol:
	default:
		return nil, newError(ErrUnsupportedOperator, b.OpLoc, "matches is not supported for %s values", typeOf(left))
	}

	lit, ok := b.Right.(*LiteralExpr)
	if !ok || lit.Kind != TokenString {
		return nil, newError(ErrTypeMismatch, b.Right.Pos(), "matches needs a quoted pattern")
	}

	pattern := string(lit.Value.(ftype.StringValue))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, newError(ErrParse, lit.Loc, "invalid regular expression: %v", err)
	}
	lit.Regex = re
	lit.Type = ftype.TypeString

	b.Left, b.Type = left, ftype.TypeBool
	return b, nil
}

func (c *checker) checkMembership(b *BinaryExpr) (Expression, error) {
	set, ok := b.Right.(*SetExpr)
	if !ok {
		return nil, newError(ErrParse, b.Right.Pos(), "expected a set after in")
	}

	left, err := c.checkValue(b.Left, ftype.TypeNone)
	if err != nil {
		return nil, err
	}
	lt := typeOf(left)
	if lt == ftype.TypeProtocol {
		lt = ftype.TypeBytes
	}

	for i, el := range set.Elements {
		r, isRange := el.(*RangeExpr)
		if !isRange {
			if set.Elements[i], err = c.setElement(el, lt); err != nil {
				return nil, err
			}
			continue
		}

		if !lt.Ordered() {
			return nil, newError(ErrUnsupportedOperator, r.Loc, "ranges are not supported for %s values", lt)
		}
		if r.Low, err = c.setElement(r.Low, lt); err != nil {
			return nil, err
		}
		if r.High, err = c.setElement(r.High, lt); err != nil {
			return nil, err
		}
		if isPrefixLiteral(r.Low) || isPrefixLiteral(r.High) {
			return nil, newError(ErrTypeMismatch, r.Loc, "CIDR ranges cannot be range bounds")
		}

		lo, hi := r.Low.(*LiteralExpr).Value, r.High.(*LiteralExpr).Value
		if n, ok := ftype.Compare(lo, hi); ok && n > 0 {
			return nil, newError(ErrRange, r.Loc, "range %s..%s is empty", lo, hi)
		}
	}

	b.Left, b.Type = left, ftype.TypeBool
	return b, nil
}

// setElement converts one set member. Members are literals; bare names are
// read as literals of the tested type.
func (c *checker) setElement(e Expression, t ftype.Type) (Expression, error) {
	switch x := e.(type) {
	case *LiteralExpr:
		return c.convertLiteral(x, t)
	case *FieldExpr:
		if x.Layer == 0 {
			lit := &LiteralExpr{Kind: TokenIdent, Lexeme: x.Name, Loc: x.Loc}
			return c.convertLiteral(lit, t)
		}
	}
	return nil, newError(ErrTypeMismatch, e.Pos(), "set members must be literal values")
}

func (c *checker) checkArith(b *BinaryExpr, hint ftype.Type) (Expression, error) {
	if !hint.IsNumeric() {
		hint = ftype.TypeNone
	}

	left, right, err := c.operands(b.Operator, b.Left, b.Right, hint)
	if err != nil {
		return nil, err
	}
	b.Left, b.Right = left, right

	lt, rt := typeOf(left), typeOf(right)
	if !lt.IsNumeric() || !rt.IsNumeric() {
		return nil, newError(ErrTypeMismatch, b.Loc, "arithmetic needs numbers, got %s and %s", lt, rt)
	}

	if b.Operator == TokenBitAnd && (lt.Class() != ftype.ClassInteger || rt.Class() != ftype.ClassInteger) {
		return nil, newError(ErrUnsupportedOperator, b.OpLoc, "& needs integer operands")
	}

	switch {
	case lt.Class() == ftype.ClassFloat || rt.Class() == ftype.ClassFloat:
		b.Type = ftype.TypeFloat
	case isConstant(left) && !isConstant(right):
		b.Type = rt
	default:
		b.Type = lt
	}

	return b, nil
}

func (c *checker) checkSlice(s *SliceExpr) (Expression, error) {
	operand, err := c.checkValue(s.Operand, ftype.TypeNone)
	if err != nil {
		return nil, err
	}

	if t := typeOf(operand); !t.Sliceable() {
		return nil, newError(ErrUnsupportedOperator, s.Loc, "%s values cannot be sliced", t)
	}

	s.Operand = operand
	return s, nil
}

func (c *checker) checkCall(call *CallExpr) (Expression, error) {
	fn, ok := functions[call.Name]
	if !ok {
		return nil, newError(ErrUnknownField, call.Loc, "function %s() does not exist", call.Name)
	}

	n := len(call.Args)
	if n < fn.minArgs || fn.maxArgs >= 0 && n > fn.maxArgs {
		switch {
		case fn.maxArgs < 0:
			return nil, newError(ErrTypeMismatch, call.Loc, "%s() expects at least %d arguments, got %d", call.Name, fn.minArgs, n)
		case fn.minArgs == fn.maxArgs:
			return nil, newError(ErrTypeMismatch, call.Loc, "%s() expects %d arguments, got %d", call.Name, fn.minArgs, n)
		default:
			return nil, newError(ErrTypeMismatch, call.Loc, "%s() expects %d to %d arguments, got %d", call.Name, fn.minArgs, fn.maxArgs, n)
		}
	}

	for i, arg := range call.Args {
		checked, err := c.checkValue(arg, ftype.TypeNone)
		if err != nil {
			return nil, err
		}
		call.Args[i] = checked
	}

	t, err := fn.check(call)
	if err != nil {
		return nil, err
	}

	call.Type, call.fn = t, fn
	return call, nil
}
