package dfilter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// FormatExpr renders e as filter text that compiles back to the same
// expression.
func FormatExpr(e Expression) string {
	var sb strings.Builder
	writeExpr(&sb, e)
	return sb.String()
}

// exprPrecedence returns the binding strength of the operator at the root
// of e, used to decide where parentheses are needed.
func exprPrecedence(e Expression) int {
	switch x := e.(type) {
	case *BinaryExpr:
		if x.Operator == TokenIn {
			return precCompare
		}
		return precedences[x.Operator]
	case *UnaryExpr:
		if x.Operator == TokenNot {
			return precNot
		}
		return precPrefix
	case *TruthyExpr:
		return exprPrecedence(x.Operand)
	case *LiteralExpr:
		if strings.HasPrefix(x.Lexeme, "-") || x.Lexeme == "" && isNegative(x.Value) {
			return precPrefix
		}
		return precPostfix
	default:
		return precPostfix
	}
}

func isNegative(v ftype.Value) bool {
	switch x := v.(type) {
	case ftype.IntValue:
		return x < 0
	case ftype.FloatValue:
		return x < 0
	}
	return false
}

func writeOperand(sb *strings.Builder, e Expression, parens bool) {
	if parens {
		sb.WriteByte('(')
		writeExpr(sb, e)
		sb.WriteByte(')')
		return
	}
	writeExpr(sb, e)
}

func writeExpr(sb *strings.Builder, e Expression) {
	switch x := e.(type) {
	case *LiteralExpr:
		sb.WriteString(literalText(x))

	case *FieldExpr:
		sb.WriteString(x.Name)
		if x.Layer != 0 {
			sb.WriteString("#")
			sb.WriteString(strconv.Itoa(x.Layer))
		}

	case *ExistsExpr:
		writeExpr(sb, x.Field)

	case *TruthyExpr:
		writeExpr(sb, x.Operand)

	case *UnaryExpr:
		if x.Operator == TokenNot {
			sb.WriteString("not ")
			writeOperand(sb, x.Operand, exprPrecedence(x.Operand) < precNot)
			return
		}
		sb.WriteString("-")
		writeOperand(sb, x.Operand, exprPrecedence(x.Operand) <= precPrefix)

	case *BinaryExpr:
		prec := exprPrecedence(x)
		leftParens := exprPrecedence(x.Left) < prec
		rightParens := exprPrecedence(x.Right) <= prec
		if prec == precCompare {
			leftParens = exprPrecedence(x.Left) <= prec
		}

		writeOperand(sb, x.Left, leftParens)
		sb.WriteByte(' ')
		sb.WriteString(x.Operator.String())
		sb.WriteByte(' ')
		if _, ok := x.Right.(*SetExpr); ok {
			writeExpr(sb, x.Right)
			return
		}
		writeOperand(sb, x.Right, rightParens)

	case *SetExpr:
		sb.WriteByte('{')
		for i, el := range x.Elements {
			if i > 0 {
				sb.WriteByte(' ')
			}
			writeOperand(sb, el, exprPrecedence(el) <= precCompare)
		}
		sb.WriteByte('}')

	case *RangeExpr:
		writeExpr(sb, x.Low)
		sb.WriteString("..")
		writeExpr(sb, x.High)

	case *SliceExpr:
		writeOperand(sb, x.Operand, exprPrecedence(x.Operand) < precPostfix)
		sb.WriteByte('[')
		for i, r := range x.Ranges {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(r.String())
		}
		sb.WriteByte(']')

	case *CallExpr:
		sb.WriteString(x.Name)
		sb.WriteByte('(')
		for i, arg := range x.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeExpr(sb, arg)
		}
		sb.WriteByte(')')
	}
}

func (r SliceRange) String() string {
	if r.Length == 0 {
		return strconv.Itoa(r.Start) + ":"
	}
	return strconv.Itoa(r.Start) + ":" + strconv.Itoa(r.Length)
}

// literalText prefers the text as written. Folded constants are rendered
// from their value.
func literalText(l *LiteralExpr) string {
	if l.Lexeme != "" {
		return l.Lexeme
	}
	return valueText(l.Value)
}

func valueText(v ftype.Value) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case ftype.StringValue:
		return quoteString(string(x))
	case ftype.BytesValue:
		if len(x) == 1 {
			return fmt.Sprintf("%02x", x[0])
		}
		return x.String()
	default:
		return v.String()
	}
}

// quoteString produces a double-quoted string using only the escapes the
// lexer understands.
func quoteString(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(&sb, `\x%02x`, c)
			} else {
				sb.WriteByte(c)
			}
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// dumpTree renders the checked syntax tree, one node per line.
func dumpTree(e Expression) string {
	var sb strings.Builder
	writeTree(&sb, e, 0)
	return sb.String()
}

func writeTree(sb *strings.Builder, e Expression, depth int) {
	indent := strings.Repeat("  ", depth)
	line := func(format string, args ...any) {
		sb.WriteString(indent)
		fmt.Fprintf(sb, format, args...)
		sb.WriteByte('\n')
	}

	switch x := e.(type) {
	case nil:
		line("Null")

	case *LiteralExpr:
		if x.Regex != nil {
			line("Pattern(%s)", quoteString(x.Regex.String()))
			return
		}
		line("Value(%s <%s>)", valueText(x.Value), x.Type)

	case *FieldExpr:
		if x.Layer != 0 {
			line("Field(%s#%d <%s>)", x.Name, x.Layer, x.Field.Type)
			return
		}
		line("Field(%s <%s>)", x.Name, x.Field.Type)

	case *ExistsExpr:
		line("Exists")
		writeTree(sb, x.Field, depth+1)

	case *TruthyExpr:
		line("Truthy")
		writeTree(sb, x.Operand, depth+1)

	case *UnaryExpr:
		if x.Operator == TokenNot {
			line("Not")
		} else {
			line("Negate <%s>", x.Type)
		}
		writeTree(sb, x.Operand, depth+1)

	case *BinaryExpr:
		switch {
		case isLogical(x.Operator):
			line("%s", strings.ToUpper(x.Operator.String()))
		case isArithmetic(x.Operator):
			line("Arith(%s) <%s>", x.Operator, x.Type)
		default:
			line("Test(%s)", testName(x.Operator))
		}
		writeTree(sb, x.Left, depth+1)
		writeTree(sb, x.Right, depth+1)

	case *SetExpr:
		line("Set")
		for _, el := range x.Elements {
			writeTree(sb, el, depth+1)
		}

	case *RangeExpr:
		line("Range")
		writeTree(sb, x.Low, depth+1)
		writeTree(sb, x.High, depth+1)

	case *SliceExpr:
		ranges := make([]string, len(x.Ranges))
		for i, r := range x.Ranges {
			ranges[i] = r.String()
		}
		line("Slice[%s]", strings.Join(ranges, ","))
		writeTree(sb, x.Operand, depth+1)

	case *CallExpr:
		line("Function(%s) <%s>", x.Name, x.Type)
		for _, arg := range x.Args {
			writeTree(sb, arg, depth+1)
		}
	}
}

func testName(op TokenType) string {
	switch op {
	case TokenEq:
		return "any_eq"
	case TokenNe:
		return "any_ne"
	case TokenAllEq:
		return "all_eq"
	case TokenAllNe:
		return "all_ne"
	case TokenLt:
		return "lt"
	case TokenLe:
		return "le"
	case TokenGt:
		return "gt"
	case TokenGe:
		return "ge"
	default:
		return op.String()
	}
}
