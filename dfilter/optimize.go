package dfilter

import (
	"math"
	"slices"

	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// optimizer folds constant subexpressions and simplifies logical operators
// with constant operands. Running it on its own output changes nothing.
type optimizer struct {
	warn func(format string, args ...any)
}

func boolLiteral(b bool, loc Location) *LiteralExpr {
	lexeme := "false"
	if b {
		lexeme = "true"
	}
	return &LiteralExpr{
		Kind:   TokenBool,
		Lexeme: lexeme,
		Value:  ftype.BoolValue(b),
		Type:   ftype.TypeBool,
		Loc:    loc,
	}
}

// folded is a constant computed from other constants.
func folded(v ftype.Value, t ftype.Type, loc Location) *LiteralExpr {
	kind := TokenInt
	switch v.Kind() {
	case ftype.KindFloat:
		kind = TokenFloat
	case ftype.KindBool:
		return boolLiteral(v.IsTruthy(), loc)
	case ftype.KindString:
		kind = TokenString
	case ftype.KindBytes:
		kind = TokenBytes
	}
	return &LiteralExpr{Kind: kind, Value: v, Type: t, Loc: loc}
}

// constBool returns the value of a boolean constant.
func constBool(e Expression) (bool, bool) {
	lit, ok := e.(*LiteralExpr)
	if !ok || lit.Type != ftype.TypeBool {
		return false, false
	}
	b, ok := lit.Value.(ftype.BoolValue)
	return bool(b), ok
}

func constValue(e Expression) (ftype.Value, bool) {
	lit, ok := e.(*LiteralExpr)
	if !ok || lit.Value == nil || lit.Regex != nil {
		return nil, false
	}
	return lit.Value, true
}

func (o *optimizer) optimize(e Expression) Expression {
	switch x := e.(type) {
	case *TruthyExpr:
		x.Operand = o.optimize(x.Operand)
		if v, ok := constValue(x.Operand); ok {
			return boolLiteral(v.IsTruthy(), x.Pos())
		}
		return x

	case *UnaryExpr:
		x.Operand = o.optimize(x.Operand)
		if x.Operator == TokenNot {
			return o.optimizeNot(x)
		}
		if v, ok := constValue(x.Operand); ok {
			if n, ok := ftype.Negate(v); ok {
				return folded(n, x.Type, x.Loc)
			}
		}
		return x

	case *BinaryExpr:
		x.Left = o.optimize(x.Left)
		x.Right = o.optimize(x.Right)

		switch {
		case x.Operator == TokenAnd || x.Operator == TokenOr:
			return o.optimizeAndOr(x)
		case x.Operator == TokenXor:
			return o.optimizeXor(x)
		case isArithmetic(x.Operator):
			return o.optimizeArith(x)
		case x.Operator == TokenIn:
			return o.optimizeMembership(x)
		case x.Operator == TokenMatches:
			return o.optimizeMatches(x)
		default:
			return o.optimizeComparison(x)
		}

	case *SliceExpr:
		x.Operand = o.optimize(x.Operand)
		if v, ok := constValue(x.Operand); ok {
			if s, ok := sliceValue(v, x.Ranges); ok {
				return folded(s, ftype.TypeBytes, x.Loc)
			}
		}
		return x

	case *CallExpr:
		return o.optimizeCall(x)
	}

	return e
}

func (o *optimizer) optimizeNot(u *UnaryExpr) Expression {
	if b, ok := constBool(u.Operand); ok {
		return boolLiteral(!b, u.Loc)
	}
	if inner, ok := u.Operand.(*UnaryExpr); ok && inner.Operator == TokenNot {
		return inner.Operand
	}
	return u
}

func (o *optimizer) optimizeAndOr(b *BinaryExpr) Expression {
	// The operator's identity element drops out; its absorbing element
	// decides the result.
	identity := b.Operator == TokenAnd

	if v, ok := constBool(b.Left); ok {
		if v == identity {
			return b.Right
		}
		return boolLiteral(v, b.Loc)
	}
	if v, ok := constBool(b.Right); ok {
		if v == identity {
			return b.Left
		}
		return boolLiteral(v, b.Loc)
	}
	return b
}

func (o *optimizer) optimizeXor(b *BinaryExpr) Expression {
	lv, lok := constBool(b.Left)
	rv, rok := constBool(b.Right)

	switch {
	case lok && rok:
		return boolLiteral(lv != rv, b.Loc)
	case lok:
		return o.xorWith(lv, b.Right, b.Loc)
	case rok:
		return o.xorWith(rv, b.Left, b.Loc)
	}
	return b
}

func (o *optimizer) xorWith(v bool, e Expression, loc Location) Expression {
	if !v {
		return e
	}
	return o.optimizeNot(&UnaryExpr{Operator: TokenNot, Operand: e, Type: ftype.TypeBool, Loc: loc})
}

func (o *optimizer) optimizeArith(b *BinaryExpr) Expression {
	lv, lok := constValue(b.Left)
	rv, rok := constValue(b.Right)
	if !lok || !rok {
		return b
	}

	v, ok := ftype.Arith(arithOp(b.Operator), lv, rv)
	if !ok {
		return b
	}
	// Infinities and NaN have no literal form.
	if f, isFloat := v.(ftype.FloatValue); isFloat && (math.IsInf(float64(f), 0) || math.IsNaN(float64(f))) {
		return b
	}
	return folded(v, b.Type, b.Loc)
}

func (o *optimizer) alwaysWarning(e Expression, result bool) {
	if o.warn != nil {
		o.warn("%q is always %t", FormatExpr(e), result)
	}
}

func (o *optimizer) optimizeComparison(b *BinaryExpr) Expression {
	lv, lok := constValue(b.Left)
	rv, rok := constValue(b.Right)
	if !lok || !rok {
		return b
	}

	cmp, quant := comparisonFor(b.Operator)
	result := compareValues(cmp, quant, []ftype.Value{lv}, []ftype.Value{rv})
	o.alwaysWarning(b, result)
	return boolLiteral(result, b.Loc)
}

func (o *optimizer) optimizeMatches(b *BinaryExpr) Expression {
	lv, ok := constValue(b.Left)
	if !ok {
		return b
	}

	result := ftype.Matches(lv, b.Right.(*LiteralExpr).Regex)
	o.alwaysWarning(b, result)
	return boolLiteral(result, b.Loc)
}

func (o *optimizer) optimizeMembership(b *BinaryExpr) Expression {
	lv, ok := constValue(b.Left)
	if !ok {
		return b
	}

	result := newMemberSet(b.Right.(*SetExpr)).contains(lv)
	o.alwaysWarning(b, result)
	return boolLiteral(result, b.Loc)
}

func (o *optimizer) optimizeCall(call *CallExpr) Expression {
	args := make([][]ftype.Value, len(call.Args))
	constant := call.fn != nil && call.fn.name != "count"

	for i, arg := range call.Args {
		call.Args[i] = o.optimize(arg)
		if v, ok := constValue(call.Args[i]); ok {
			args[i] = []ftype.Value{v}
		} else {
			constant = false
		}
	}

	if !constant {
		return call
	}

	result := call.fn.eval(args)
	if len(result) != 1 {
		return call
	}
	return folded(result[0], call.Type, call.Loc)
}

// references holds the fields and protocols a filter reads.
type references struct {
	fields    map[registry.FieldID]struct{}
	protocols map[registry.FieldID]struct{}
}

// collectReferences walks the whole tree.
func collectReferences(e Expression) references {
	refs := references{
		fields:    make(map[registry.FieldID]struct{}),
		protocols: make(map[registry.FieldID]struct{}),
	}

	inspect(e, func(n Expression) {
		f, ok := n.(*FieldExpr)
		if !ok || !f.Resolved() {
			return
		}
		refs.fields[f.Field.ID] = struct{}{}
		refs.protocols[f.Field.Parent] = struct{}{}
	})

	return refs
}

func (r references) sortedFields() []registry.FieldID {
	out := make([]registry.FieldID, 0, len(r.fields))
	for id := range r.fields {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// inspect calls fn for e and each of its descendants in depth-first order.
func inspect(e Expression, fn func(Expression)) {
	if e == nil {
		return
	}
	fn(e)

	switch x := e.(type) {
	case *ExistsExpr:
		inspect(x.Field, fn)
	case *TruthyExpr:
		inspect(x.Operand, fn)
	case *UnaryExpr:
		inspect(x.Operand, fn)
	case *BinaryExpr:
		inspect(x.Left, fn)
		inspect(x.Right, fn)
	case *SetExpr:
		for _, el := range x.Elements {
			inspect(el, fn)
		}
	case *RangeExpr:
		inspect(x.Low, fn)
		inspect(x.High, fn)
	case *SliceExpr:
		inspect(x.Operand, fn)
	case *CallExpr:
		for _, arg := range x.Args {
			inspect(arg, fn)
		}
	}
}
