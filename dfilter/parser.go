package dfilter

import (
	"log/slog"
	"math"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// Operator precedence levels, lowest to highest.
const (
	_ int = iota
	precLowest
	precOr
	precXor
	precAnd
	precNot
	precCompare
	precSum
	precProduct
	precBitAnd
	precPrefix
	precPostfix
)

var precedences = map[TokenType]int{
	TokenOr:       precOr,
	TokenXor:      precXor,
	TokenAnd:      precAnd,
	TokenEq:       precCompare,
	TokenNe:       precCompare,
	TokenAllEq:    precCompare,
	TokenAllNe:    precCompare,
	TokenLt:       precCompare,
	TokenLe:       precCompare,
	TokenGt:       precCompare,
	TokenGe:       precCompare,
	TokenContains: precCompare,
	TokenMatches:  precCompare,
	TokenIn:       precCompare,
	TokenNotIn:    precCompare,
	TokenPlus:     precSum,
	TokenMinus:    precSum,
	TokenStar:     precProduct,
	TokenSlash:    precProduct,
	TokenPercent:  precProduct,
	TokenBitAnd:   precBitAnd,
}

// Parser builds an expression tree from the tokens of a Lexer. It stops at
// the first error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	err       *Error
	trace     *slog.Logger
	depth     int
	inSet     bool
}

// NewParser creates a new parser for the given lexer.
func NewParser(lexer *Lexer) *Parser {
	p := &Parser{lexer: lexer}
	p.nextToken()
	p.nextToken()
	return p
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

func (p *Parser) fail(kind error, loc Location, format string, args ...any) Expression {
	if p.err == nil {
		p.err = newError(kind, loc, format, args...)
	}
	return nil
}

// failToken reports an unexpected token, passing lexer errors through.
func (p *Parser) failToken(tok Token, format string, args ...any) Expression {
	if tok.Type == TokenError {
		if lerr := p.lexer.Err(); lerr != nil {
			if p.err == nil {
				p.err = lerr
			}
			return nil
		}
	}
	return p.fail(ErrParse, tok.Loc, format, args...)
}

func (p *Parser) enter(production string) func() {
	if p.trace == nil {
		return func() {}
	}

	p.trace.Debug("parser enter",
		slog.String("production", production),
		slog.Int("depth", p.depth),
		slog.String("token", p.curToken.String()),
	)
	p.depth++

	return func() {
		p.depth--
		p.trace.Debug("parser leave", slog.String("production", production), slog.Int("depth", p.depth))
	}
}

// Parse parses the whole input. It returns a nil expression without error
// for blank input, which callers treat as the match-everything filter.
func (p *Parser) Parse() (Expression, error) {
	if p.curToken.Type == TokenEOF {
		return nil, nil
	}

	expr := p.parseExpression(precLowest)
	if p.err != nil {
		return nil, p.err
	}

	switch p.peekToken.Type {
	case TokenEOF:
	case TokenRParen, TokenRBrace, TokenRBracket:
		p.fail(ErrParse, p.peekToken.Loc, "unbalanced %s", p.peekToken.Type)
	default:
		p.failToken(p.peekToken, "unexpected %s after end of expression", p.peekToken.Type)
	}
	if p.err != nil {
		return nil, p.err
	}

	return expr, nil
}

func (p *Parser) parseExpression(precedence int) Expression {
	defer p.enter("expression")()

	var left Expression

	switch p.curToken.Type {
	case TokenNot:
		left = p.parseNotExpression()
	case TokenMinus:
		left = p.parseNegateExpression()
	default:
		left = p.parsePostfixExpression()
	}

	for left != nil && p.err == nil && p.peekToken.Type != TokenEOF && precedence < p.peekPrecedence() && !p.signedMember() {
		p.nextToken()
		left = p.parseInfixExpression(left)
	}

	return left
}

// signedMember reports whether the next token is the sign of a new set
// member, as in "{1 -2}": a minus after a space and directly before its
// operand. "{1 - 2}" stays a subtraction.
func (p *Parser) signedMember() bool {
	if !p.inSet || p.peekToken.Type != TokenMinus {
		return false
	}
	minus := p.peekToken.Loc.Offset
	end := p.curToken.Loc.Offset + p.curToken.Loc.Length
	input := p.lexer.input
	if minus == end || minus+1 >= len(input) {
		return false
	}
	switch input[minus+1] {
	case ' ', '\t', '\n', '\r':
		return false
	}
	return true
}

func (p *Parser) parseNotExpression() Expression {
	defer p.enter("not")()

	start := p.curToken.Loc
	p.nextToken()
	operand := p.parseExpression(precNot)
	if operand == nil {
		return nil
	}

	return &UnaryExpr{
		Operator: TokenNot,
		Operand:  operand,
		Loc:      start.Span(operand.Pos()),
	}
}

// parseNegateExpression folds a minus sign into a numeric literal so the
// checker sees "-5" as one lexeme.
func (p *Parser) parseNegateExpression() Expression {
	defer p.enter("negate")()

	start := p.curToken.Loc
	p.nextToken()
	operand := p.parseExpression(precPrefix)
	if operand == nil {
		return nil
	}
	loc := start.Span(operand.Pos())

	if lit, ok := operand.(*LiteralExpr); ok && (lit.Kind == TokenInt || lit.Kind == TokenFloat) && !strings.HasPrefix(lit.Lexeme, "-") {
		v, ok := negateNumber(lit.Value)
		if !ok {
			return p.fail(ErrRange, loc, "-%s is out of range", lit.Lexeme)
		}
		return &LiteralExpr{Kind: lit.Kind, Lexeme: "-" + lit.Lexeme, Value: v, Loc: loc}
	}

	return &UnaryExpr{Operator: TokenMinus, Operand: operand, Loc: loc}
}

func negateNumber(v ftype.Value) (ftype.Value, bool) {
	switch x := v.(type) {
	case ftype.IntValue:
		if x == math.MinInt64 {
			return nil, false
		}
		return -x, true
	case ftype.UintValue:
		if uint64(x) > 1<<63 {
			return nil, false
		}
		return ftype.IntValue(-int64(x - 1) - 1), true
	case ftype.FloatValue:
		return -x, true
	}
	return nil, false
}

func (p *Parser) parsePostfixExpression() Expression {
	expr := p.parsePrimaryExpression()

	for expr != nil && p.err == nil {
		switch p.peekToken.Type {
		case TokenHash:
			p.nextToken()
			expr = p.parseLayer(expr)
		case TokenLBracket:
			p.nextToken()
			expr = p.parseSlice(expr)
		default:
			return expr
		}
	}

	return expr
}

func (p *Parser) parsePrimaryExpression() Expression {
	defer p.enter("primary")()

	switch tok := p.curToken; tok.Type {
	case TokenLParen:
		return p.parseGroupedExpression()
	case TokenIdent:
		if p.peekToken.Type == TokenLParen {
			return p.parseCallExpression()
		}
		return &FieldExpr{Name: tok.Literal, Loc: tok.Loc}
	case TokenString, TokenChar, TokenInt, TokenFloat, TokenBytes, TokenIP, TokenCIDR, TokenBool:
		return &LiteralExpr{Kind: tok.Type, Lexeme: tok.Literal, Value: tok.Value, Loc: tok.Loc}
	case TokenLBrace:
		return p.fail(ErrParse, tok.Loc, "set literal is only valid after \"in\"")
	case TokenRParen, TokenRBrace, TokenRBracket:
		return p.fail(ErrParse, tok.Loc, "unbalanced %s", tok.Type)
	case TokenEOF:
		return p.fail(ErrParse, tok.Loc, "unexpected end of filter")
	default:
		return p.failToken(tok, "unexpected %s", tok.Type)
	}
}

func (p *Parser) parseGroupedExpression() Expression {
	open := p.curToken.Loc
	p.nextToken()

	defer func(inSet bool) { p.inSet = inSet }(p.inSet)
	p.inSet = false

	expr := p.parseExpression(precLowest)
	if expr == nil {
		return nil
	}

	if p.peekToken.Type != TokenRParen {
		if p.peekToken.Type == TokenEOF {
			return p.fail(ErrParse, open, "unbalanced (")
		}
		return p.failToken(p.peekToken, "expected ), got %s", p.peekToken.Type)
	}
	p.nextToken()

	return expr
}

func (p *Parser) parseCallExpression() Expression {
	defer p.enter("call")()

	name := p.curToken
	p.nextToken() // consume '('

	call := &CallExpr{Name: strings.ToLower(name.Literal)}

	defer func(inSet bool) { p.inSet = inSet }(p.inSet)
	p.inSet = false

	if p.peekToken.Type == TokenRParen {
		p.nextToken()
		call.Loc = name.Loc.Span(p.curToken.Loc)
		return call
	}

	for {
		p.nextToken()
		arg := p.parseExpression(precLowest)
		if arg == nil {
			return nil
		}
		call.Args = append(call.Args, arg)

		switch p.peekToken.Type {
		case TokenComma:
			p.nextToken()
		case TokenRParen:
			p.nextToken()
			call.Loc = name.Loc.Span(p.curToken.Loc)
			return call
		case TokenEOF:
			return p.fail(ErrParse, name.Loc, "unbalanced ( in call to %s", name.Literal)
		default:
			return p.failToken(p.peekToken, "expected , or ) in call to %s, got %s", name.Literal, p.peekToken.Type)
		}
	}
}

// parseLayer handles field#N, where N may be negative.
func (p *Parser) parseLayer(expr Expression) Expression {
	hash := p.curToken.Loc

	field, ok := expr.(*FieldExpr)
	if !ok || field.Layer != 0 {
		return p.fail(ErrParse, hash, "layer index needs a field")
	}

	sign := 1
	p.nextToken()
	if p.curToken.Type == TokenMinus {
		sign = -1
		p.nextToken()
	}

	tok := p.curToken
	n, ok := tok.Value.(ftype.IntValue)
	if tok.Type != TokenInt || !ok {
		return p.failToken(tok, "expected layer number after #, got %s", tok.Type)
	}

	loc := hash.Span(tok.Loc)
	if n == 0 || n > math.MaxInt32 {
		return p.fail(ErrRange, loc, "layer index %d out of range", int64(n)*int64(sign))
	}

	out := *field
	out.Layer = int(n) * sign
	out.Loc = field.Loc.Span(tok.Loc)
	return &out
}

// parseSlice handles [i:j], [i-j], [i], [:j], [i:] and comma separated
// combinations of those.
func (p *Parser) parseSlice(expr Expression) Expression {
	defer p.enter("slice")()

	open := p.curToken.Loc
	slice := &SliceExpr{Operand: expr}

	for {
		p.nextToken()
		r, ok := p.parseSliceRange()
		if !ok {
			return nil
		}
		slice.Ranges = append(slice.Ranges, r)

		p.nextToken()
		switch p.curToken.Type {
		case TokenComma:
			continue
		case TokenRBracket:
			slice.Loc = expr.Pos().Span(p.curToken.Loc)
			return slice
		case TokenEOF:
			return p.fail(ErrParse, open, "unbalanced [")
		default:
			return p.failToken(p.curToken, "expected , or ] in slice, got %s", p.curToken.Type)
		}
	}
}

func (p *Parser) sliceBound() (int, bool) {
	tok := p.curToken
	if tok.Type != TokenInt {
		p.failToken(tok, "expected slice offset, got %s", tok.Type)
		return 0, false
	}

	n := int64(tok.Value.(ftype.IntValue))
	if n > math.MaxInt32 || n < math.MinInt32 {
		p.fail(ErrRange, tok.Loc, "slice bound %d out of range", n)
		return 0, false
	}
	return int(n), true
}

func (p *Parser) parseSliceRange() (SliceRange, bool) {
	start := p.curToken.Loc

	if p.curToken.Type == TokenColon {
		p.nextToken()
		n, ok := p.sliceBound()
		if !ok {
			return SliceRange{}, false
		}
		if n <= 0 {
			p.fail(ErrRange, start.Span(p.curToken.Loc), "slice length must be positive")
			return SliceRange{}, false
		}
		return SliceRange{Start: 0, Length: n}, true
	}

	offset, ok := p.sliceBound()
	if !ok {
		return SliceRange{}, false
	}

	switch p.peekToken.Type {
	case TokenColon:
		p.nextToken()
		if p.peekToken.Type != TokenInt {
			return SliceRange{Start: offset}, true
		}
		p.nextToken()
		n, ok := p.sliceBound()
		if !ok {
			return SliceRange{}, false
		}
		if n <= 0 {
			p.fail(ErrRange, start.Span(p.curToken.Loc), "slice length must be positive")
			return SliceRange{}, false
		}
		return SliceRange{Start: offset, Length: n}, true

	case TokenMinus:
		p.nextToken()
		p.nextToken()
		end, ok := p.sliceBound()
		if !ok {
			return SliceRange{}, false
		}
		if offset < 0 || end < offset {
			p.fail(ErrRange, start.Span(p.curToken.Loc), "slice range %d-%d is empty or inverted", offset, end)
			return SliceRange{}, false
		}
		return SliceRange{Start: offset, Length: end - offset + 1}, true
	}

	return SliceRange{Start: offset, Length: 1}, true
}

func (p *Parser) parseInfixExpression(left Expression) Expression {
	op := p.curToken

	switch {
	case op.Type == TokenIn || op.Type == TokenNotIn:
		return p.parseMembership(left)
	case op.Type.IsComparison():
		return p.parseComparison(left)
	}

	defer p.enter("binary")()

	precedence := p.curPrecedence()
	p.nextToken()
	right := p.parseExpression(precedence)
	if right == nil {
		return nil
	}

	return &BinaryExpr{
		Left:     left,
		Operator: op.Type,
		Right:    right,
		OpLoc:    op.Loc,
		Loc:      left.Pos().Span(right.Pos()),
	}
}

// parseComparison parses one comparison and any comparisons chained after
// it. "a < x <= b" becomes "a < x and x <= b".
func (p *Parser) parseComparison(left Expression) Expression {
	defer p.enter("comparison")()

	op := p.curToken
	p.nextToken()
	right := p.parseExpression(precCompare)
	if right == nil {
		return nil
	}

	var result Expression = &BinaryExpr{
		Left:     left,
		Operator: op.Type,
		Right:    right,
		OpLoc:    op.Loc,
		Loc:      left.Pos().Span(right.Pos()),
	}

	for isChainable(p.peekToken.Type) {
		p.nextToken()
		op = p.curToken
		p.nextToken()

		next := p.parseExpression(precCompare)
		if next == nil {
			return nil
		}

		middle := cloneExpr(right)
		link := &BinaryExpr{
			Left:     middle,
			Operator: op.Type,
			Right:    next,
			OpLoc:    op.Loc,
			Loc:      middle.Pos().Span(next.Pos()),
		}
		result = &BinaryExpr{
			Left:     result,
			Operator: TokenAnd,
			Right:    link,
			OpLoc:    op.Loc,
			Loc:      result.Pos().Span(link.Pos()),
		}
		right = next
	}

	return result
}

func isChainable(t TokenType) bool {
	switch t {
	case TokenEq, TokenNe, TokenAllEq, TokenAllNe, TokenLt, TokenLe, TokenGt, TokenGe:
		return true
	default:
		return false
	}
}

func (p *Parser) parseMembership(left Expression) Expression {
	defer p.enter("membership")()

	op := p.curToken
	p.nextToken()
	if p.curToken.Type != TokenLBrace {
		return p.failToken(p.curToken, "expected { after %s, got %s", op.Type, p.curToken.Type)
	}

	set := p.parseSet()
	if set == nil {
		return nil
	}

	expr := &BinaryExpr{
		Left:     left,
		Operator: TokenIn,
		Right:    set,
		OpLoc:    op.Loc,
		Loc:      left.Pos().Span(set.Pos()),
	}
	if op.Type == TokenNotIn {
		return &UnaryExpr{Operator: TokenNot, Operand: expr, Loc: expr.Loc}
	}
	return expr
}

// parseSet parses {a b c}, {a, b, c} and ranges lo..hi.
func (p *Parser) parseSet() Expression {
	open := p.curToken.Loc
	set := &SetExpr{}

	defer func(inSet bool) { p.inSet = inSet }(p.inSet)
	p.inSet = true

	for {
		switch p.peekToken.Type {
		case TokenRBrace:
			p.nextToken()
			if len(set.Elements) == 0 {
				return p.fail(ErrParse, open.Span(p.curToken.Loc), "empty set")
			}
			set.Loc = open.Span(p.curToken.Loc)
			return set
		case TokenEOF:
			return p.fail(ErrParse, open, "unbalanced {")
		case TokenComma:
			if len(set.Elements) == 0 {
				return p.failToken(p.peekToken, "unexpected , in set")
			}
			p.nextToken()
			if p.peekToken.Type == TokenComma || p.peekToken.Type == TokenRBrace {
				return p.failToken(p.peekToken, "expected set element after ,")
			}
		}

		p.nextToken()
		elem := p.parseExpression(precCompare)
		if elem == nil {
			return nil
		}

		if p.peekToken.Type == TokenRange {
			p.nextToken()
			p.nextToken()
			high := p.parseExpression(precCompare)
			if high == nil {
				return nil
			}
			elem = &RangeExpr{Low: elem, High: high, Loc: elem.Pos().Span(high.Pos())}
		}

		set.Elements = append(set.Elements, elem)
	}
}

func (p *Parser) curPrecedence() int {
	if p, ok := precedences[p.curToken.Type]; ok {
		return p
	}
	return precLowest
}

func (p *Parser) peekPrecedence() int {
	if p, ok := precedences[p.peekToken.Type]; ok {
		return p
	}
	return precLowest
}
