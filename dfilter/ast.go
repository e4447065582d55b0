package dfilter

import (
	"regexp"

	"github.com/vitalvas/pktfilter/ftype"
	"github.com/vitalvas/pktfilter/registry"
)

// Node is the base interface for all AST nodes.
type Node interface {
	node()
}

// Expression represents an expression in the AST.
type Expression interface {
	Node
	Pos() Location
	expression()
}

// LiteralExpr is a constant. Lexeme keeps the text as written so the
// checker can reinterpret it against the type of the opposite operand;
// constants produced by folding have no lexeme.
type LiteralExpr struct {
	Kind   TokenType
	Lexeme string
	Value  ftype.Value
	Type   ftype.Type
	Regex  *regexp.Regexp
	Loc    Location
}

func (l *LiteralExpr) node()         {}
func (l *LiteralExpr) expression()   {}
func (l *LiteralExpr) Pos() Location { return l.Loc }

// FieldExpr references a registered field or protocol. Layer is 0 for any
// occurrence, otherwise the layer selected with #N.
type FieldExpr struct {
	Name  string
	Layer int
	Field registry.Field
	Loc   Location
}

func (f *FieldExpr) node()         {}
func (f *FieldExpr) expression()   {}
func (f *FieldExpr) Pos() Location { return f.Loc }

// Resolved reports whether the checker bound the name to the registry.
func (f *FieldExpr) Resolved() bool {
	return f.Field.Abbrev != ""
}

// UnaryExpr is "not" or arithmetic negation.
type UnaryExpr struct {
	Operator TokenType
	Operand  Expression
	Type     ftype.Type
	Loc      Location
}

func (u *UnaryExpr) node()         {}
func (u *UnaryExpr) expression()   {}
func (u *UnaryExpr) Pos() Location { return u.Loc }

// BinaryExpr covers logical connectives, comparisons, membership tests and
// arithmetic. For "in" and "not in" the right operand is a *SetExpr.
type BinaryExpr struct {
	Left     Expression
	Operator TokenType
	Right    Expression
	Type     ftype.Type
	OpLoc    Location
	Loc      Location
}

func (b *BinaryExpr) node()         {}
func (b *BinaryExpr) expression()   {}
func (b *BinaryExpr) Pos() Location { return b.Loc }

// SetExpr is a set literal such as {80 443 8000..8080}.
type SetExpr struct {
	Elements []Expression
	Loc      Location
}

func (s *SetExpr) node()         {}
func (s *SetExpr) expression()   {}
func (s *SetExpr) Pos() Location { return s.Loc }

// RangeExpr is an inclusive lo..hi set element.
type RangeExpr struct {
	Low  Expression
	High Expression
	Loc  Location
}

func (r *RangeExpr) node()         {}
func (r *RangeExpr) expression()   {}
func (r *RangeExpr) Pos() Location { return r.Loc }

// SliceRange selects Length bytes starting at Start. A negative Start counts
// from the end; a zero Length runs to the end.
type SliceRange struct {
	Start  int
	Length int
}

// SliceExpr takes byte ranges out of its operand. Multiple ranges are
// concatenated.
type SliceExpr struct {
	Operand Expression
	Ranges  []SliceRange
	Loc     Location
}

func (s *SliceExpr) node()         {}
func (s *SliceExpr) expression()   {}
func (s *SliceExpr) Pos() Location { return s.Loc }

// CallExpr is a function call such as len(http.host).
type CallExpr struct {
	Name string
	Args []Expression
	Type ftype.Type
	Loc  Location

	fn *function
}

func (c *CallExpr) node()         {}
func (c *CallExpr) expression()   {}
func (c *CallExpr) Pos() Location { return c.Loc }

// ExistsExpr tests whether a field or protocol is present at all.
type ExistsExpr struct {
	Field *FieldExpr
}

func (e *ExistsExpr) node()         {}
func (e *ExistsExpr) expression()   {}
func (e *ExistsExpr) Pos() Location { return e.Field.Loc }

// TruthyExpr tests whether any value of its operand is non-zero, non-empty
// or true.
type TruthyExpr struct {
	Operand Expression
}

func (t *TruthyExpr) node()         {}
func (t *TruthyExpr) expression()   {}
func (t *TruthyExpr) Pos() Location { return t.Operand.Pos() }

// typeOf returns the type the checker assigned to e.
func typeOf(e Expression) ftype.Type {
	switch x := e.(type) {
	case *LiteralExpr:
		return x.Type
	case *FieldExpr:
		return x.Field.Type
	case *UnaryExpr:
		return x.Type
	case *BinaryExpr:
		return x.Type
	case *SliceExpr:
		return ftype.TypeBytes
	case *CallExpr:
		return x.Type
	case *ExistsExpr, *TruthyExpr:
		return ftype.TypeBool
	default:
		return ftype.TypeNone
	}
}

// isConstant reports whether e is a literal with a known value.
func isConstant(e Expression) bool {
	lit, ok := e.(*LiteralExpr)
	return ok && lit.Value != nil
}

func isLogical(op TokenType) bool {
	return op == TokenAnd || op == TokenOr || op == TokenXor
}

func isArithmetic(op TokenType) bool {
	return op >= TokenPlus && op <= TokenBitAnd
}

// cloneExpr deep-copies an expression. Chained comparisons share their
// middle operand and each comparison needs its own copy.
func cloneExpr(e Expression) Expression {
	switch x := e.(type) {
	case *LiteralExpr:
		c := *x
		return &c
	case *FieldExpr:
		c := *x
		return &c
	case *UnaryExpr:
		c := *x
		c.Operand = cloneExpr(x.Operand)
		return &c
	case *BinaryExpr:
		c := *x
		c.Left = cloneExpr(x.Left)
		c.Right = cloneExpr(x.Right)
		return &c
	case *SetExpr:
		c := *x
		c.Elements = make([]Expression, len(x.Elements))
		for i, el := range x.Elements {
			c.Elements[i] = cloneExpr(el)
		}
		return &c
	case *RangeExpr:
		c := *x
		c.Low = cloneExpr(x.Low)
		c.High = cloneExpr(x.High)
		return &c
	case *SliceExpr:
		c := *x
		c.Operand = cloneExpr(x.Operand)
		c.Ranges = append([]SliceRange(nil), x.Ranges...)
		return &c
	case *CallExpr:
		c := *x
		c.Args = make([]Expression, len(x.Args))
		for i, arg := range x.Args {
			c.Args[i] = cloneExpr(arg)
		}
		return &c
	case *ExistsExpr:
		return &ExistsExpr{Field: cloneExpr(x.Field).(*FieldExpr)}
	case *TruthyExpr:
		return &TruthyExpr{Operand: cloneExpr(x.Operand)}
	default:
		return e
	}
}
