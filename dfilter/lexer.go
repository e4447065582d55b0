package dfilter

import (
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/vitalvas/pktfilter/ftype"
)

// Lexer tokenizes filter text. Tokens are produced on demand by NextToken;
// Reset rewinds to the beginning.
type Lexer struct {
	input    string
	pos      int
	ch       byte
	brackets int
	prev     TokenType
	err      *Error
	trace    *slog.Logger
}

// NewLexer creates a lexer for input.
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.Reset()
	return l
}

// Reset rewinds the lexer to the start of its input.
func (l *Lexer) Reset() {
	l.pos = 0
	l.brackets = 0
	l.prev = TokenEOF
	l.err = nil
	l.readChar()
}

// Err returns the error behind the last TokenError, if any.
func (l *Lexer) Err() *Error {
	return l.err
}

func (l *Lexer) readChar() {
	if l.pos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.pos]
	}
	l.pos++
}

func (l *Lexer) peekChar() byte {
	return l.peekAt(0)
}

func (l *Lexer) peekAt(n int) byte {
	if l.pos+n >= len(l.input) {
		return 0
	}
	return l.input[l.pos+n]
}

func (l *Lexer) atEOF() bool {
	return l.pos > len(l.input)
}

func (l *Lexer) skipWhitespace() {
	for !l.atEOF() && (l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r') {
		l.readChar()
	}
}

// NextToken returns the next token. After the end of input it keeps
// returning TokenEOF.
func (l *Lexer) NextToken() Token {
	tok := l.next()
	l.prev = tok.Type

	if l.trace != nil {
		l.trace.Debug("lexer token",
			slog.String("type", tok.Type.String()),
			slog.String("literal", tok.Literal),
			slog.Int("offset", tok.Loc.Offset),
		)
	}

	return tok
}

// Tokens lexes the remaining input.
func (l *Lexer) Tokens() ([]Token, error) {
	var out []Token
	for {
		tok := l.NextToken()
		if tok.Type == TokenError {
			return out, l.err
		}
		out = append(out, tok)
		if tok.Type == TokenEOF {
			return out, nil
		}
	}
}

func (l *Lexer) next() Token {
	l.skipWhitespace()

	start := l.pos - 1
	if l.atEOF() {
		return Token{Type: TokenEOF, Loc: Location{Offset: len(l.input)}}
	}

	if l.brackets > 0 {
		return l.readSliceToken(start)
	}

	if tok, ok := l.readOperatorToken(start); ok {
		return tok
	}

	switch l.ch {
	case '"':
		return l.readStringToken(start, false)
	case '\'':
		return l.readCharToken(start)
	case 'r':
		if l.peekChar() == '"' {
			l.readChar()
			return l.readStringToken(start, true)
		}
	}

	if isWordStart(l.ch) || l.ch == ':' && l.peekChar() == ':' {
		return l.readWordToken(start)
	}

	return l.fail(ErrLex, start, 1, "unexpected character %q", l.ch)
}

func (l *Lexer) emit(typ TokenType, start int) Token {
	end := min(l.pos-1, len(l.input))
	return Token{
		Type:    typ,
		Literal: l.input[start:end],
		Loc:     Location{Offset: start, Length: end - start},
	}
}

func (l *Lexer) fail(kind error, start, length int, format string, args ...any) Token {
	l.err = newError(kind, Location{Offset: start, Length: length}, format, args...)
	end := min(start+length, len(l.input))
	return Token{
		Type:    TokenError,
		Literal: l.input[start:end],
		Loc:     l.err.Loc,
	}
}

// readOperatorToken handles punctuation and symbolic operators.
func (l *Lexer) readOperatorToken(start int) (Token, bool) {
	single := func(typ TokenType) (Token, bool) {
		l.readChar()
		return l.emit(typ, start), true
	}
	double := func(typ TokenType) (Token, bool) {
		l.readChar()
		l.readChar()
		return l.emit(typ, start), true
	}

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			if l.peekAt(1) == '=' {
				l.readChar()
				return double(TokenAllEq)
			}
			return double(TokenEq)
		}
	case '!':
		if l.peekChar() == '=' {
			if l.peekAt(1) == '=' {
				l.readChar()
				return double(TokenAllNe)
			}
			return double(TokenNe)
		}
		return single(TokenNot)
	case '<':
		if l.peekChar() == '=' {
			return double(TokenLe)
		}
		return single(TokenLt)
	case '>':
		if l.peekChar() == '=' {
			return double(TokenGe)
		}
		return single(TokenGt)
	case '~':
		if l.peekChar() == '=' {
			return double(TokenMatches)
		}
		return single(TokenMatches)
	case '&':
		if l.peekChar() == '&' {
			return double(TokenAnd)
		}
		return single(TokenBitAnd)
	case '|':
		if l.peekChar() == '|' {
			return double(TokenOr)
		}
	case '^':
		if l.peekChar() == '^' {
			return double(TokenXor)
		}
	case '.':
		if l.peekChar() == '.' {
			return double(TokenRange)
		}
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '%':
		return single(TokenPercent)
	case '#':
		return single(TokenHash)
	case ',':
		return single(TokenComma)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '{':
		return single(TokenLBrace)
	case '}':
		return single(TokenRBrace)
	case '[':
		l.brackets++
		return single(TokenLBracket)
	case ']':
		return single(TokenRBracket)
	}

	return Token{}, false
}

// readSliceToken lexes the inside of a slice: offsets, lengths and the
// ":", "-" and "," separators.
func (l *Lexer) readSliceToken(start int) Token {
	switch {
	case l.ch == ']':
		l.brackets--
		l.readChar()
		return l.emit(TokenRBracket, start)
	case l.ch == ':':
		l.readChar()
		return l.emit(TokenColon, start)
	case l.ch == ',':
		l.readChar()
		return l.emit(TokenComma, start)
	case l.ch == '-' && isDigit(l.peekChar()) && (l.prev == TokenLBracket || l.prev == TokenComma || l.prev == TokenColon):
		l.readChar()
		return l.readSliceNumber(start)
	case l.ch == '-':
		l.readChar()
		return l.emit(TokenMinus, start)
	case isDigit(l.ch):
		return l.readSliceNumber(start)
	}

	return l.fail(ErrLex, start, 1, "unexpected character %q in slice", l.ch)
}

func (l *Lexer) readSliceNumber(start int) Token {
	for isDigit(l.ch) || isLetter(l.ch) {
		l.readChar()
	}

	tok := l.emit(TokenInt, start)
	v, err := ftype.ParseNumber(tok.Literal)
	if err != nil {
		return l.fail(ErrLex, start, tok.Loc.Length, "malformed slice bound %q", tok.Literal)
	}
	if _, ok := v.(ftype.IntValue); !ok {
		return l.fail(ErrRange, start, tok.Loc.Length, "slice bound %s out of range", tok.Literal)
	}

	tok.Value = v
	return tok
}

func (l *Lexer) readStringToken(start int, raw bool) Token {
	l.readChar()

	var sb strings.Builder
	for {
		if l.atEOF() {
			return l.fail(ErrLex, start, len(l.input)-start, "unterminated string")
		}

		switch {
		case l.ch == '"':
			l.readChar()
			tok := l.emit(TokenString, start)
			tok.Value = ftype.StringValue(sb.String())
			return tok

		case l.ch == '\\' && !raw:
			escStart := l.pos - 1
			l.readChar()
			if l.atEOF() {
				return l.fail(ErrLex, start, len(l.input)-start, "unterminated string")
			}
			if err := l.readEscape(&sb); err != "" {
				return l.fail(ErrLex, escStart, l.pos-1-escStart, "%s", err)
			}

		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readEscape decodes the escape sequence after a backslash. It returns a
// message describing a malformed escape.
func (l *Lexer) readEscape(sb *strings.Builder) string {
	c := l.ch
	l.readChar()

	switch c {
	case 'n':
		sb.WriteByte('\n')
	case 't':
		sb.WriteByte('\t')
	case 'r':
		sb.WriteByte('\r')
	case 'a':
		sb.WriteByte('\a')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'v':
		sb.WriteByte('\v')
	case '\\', '"', '\'':
		sb.WriteByte(c)
	case 'x':
		digits := l.readWhile(2, isHexDigit)
		if digits == "" {
			return "\\x needs hex digits"
		}
		n, _ := strconv.ParseUint(digits, 16, 8)
		sb.WriteByte(byte(n))
	default:
		if c < '0' || c > '7' {
			return "invalid escape \\" + string(c)
		}
		digits := string(c) + l.readWhile(2, isOctalDigit)
		n, err := strconv.ParseUint(digits, 8, 8)
		if err != nil {
			return "octal escape \\" + digits + " out of range"
		}
		sb.WriteByte(byte(n))
	}

	return ""
}

func (l *Lexer) readWhile(limit int, pred func(byte) bool) string {
	start := l.pos - 1
	for i := 0; i < limit && !l.atEOF() && pred(l.ch); i++ {
		l.readChar()
	}
	return l.input[start : l.pos-1]
}

func (l *Lexer) readCharToken(start int) Token {
	l.readChar()
	for !l.atEOF() && l.ch != '\'' {
		if l.ch == '\\' {
			l.readChar()
		}
		l.readChar()
	}
	if l.atEOF() {
		return l.fail(ErrLex, start, len(l.input)-start, "unterminated character literal")
	}
	l.readChar()

	tok := l.emit(TokenChar, start)
	v, err := ftype.ParseNumber(tok.Literal)
	if err != nil {
		return l.fail(ErrLex, start, tok.Loc.Length, "malformed character literal %s", tok.Literal)
	}
	tok.Value = v
	return tok
}

// readWordToken reads a run of name, number, address and byte-string
// characters and classifies it. Separators that cannot start an arithmetic
// or range operator are only taken while the word is still made of hex
// digits, so "ip.len-1" needs spaces but "00-1b-21" does not.
func (l *Lexer) readWordToken(start int) Token {
	hexOnly := true
	address := false

	for !l.atEOF() {
		c := l.ch
		switch {
		case isLetter(c) || isDigit(c) || c == '_':
			if !isHexDigit(c) {
				hexOnly = false
			}
		case c == '.':
			if l.peekChar() == '.' {
				return l.classifyWord(l.emit(TokenIdent, start))
			}
			address = true
		case (c == '+' || c == '-') && l.exponentSign(start):
		case c == '-':
			if !hexOnly || !isHexDigit(l.peekChar()) {
				return l.classifyWord(l.emit(TokenIdent, start))
			}
		case c == ':':
			next := l.peekChar()
			if !hexOnly || !(isHexDigit(next) || next == ':' || l.prevChar() == ':') {
				return l.classifyWord(l.emit(TokenIdent, start))
			}
			address = true
		case c == '/':
			if !hexOnly || !address || !isDigit(l.peekChar()) {
				return l.classifyWord(l.emit(TokenIdent, start))
			}
		default:
			return l.classifyWord(l.emit(TokenIdent, start))
		}
		l.readChar()
	}

	return l.classifyWord(l.emit(TokenIdent, start))
}

// exponentSign reports whether the sign at the current position belongs to
// the exponent of a decimal float such as "1e+20".
func (l *Lexer) exponentSign(start int) bool {
	mantissa := l.input[start : l.pos-1]
	if len(mantissa) < 2 || !isDigit(mantissa[0]) || !isDigit(l.peekChar()) {
		return false
	}
	if last := mantissa[len(mantissa)-1]; last != 'e' && last != 'E' {
		return false
	}

	dots := 0
	for i := 0; i < len(mantissa)-1; i++ {
		switch c := mantissa[i]; {
		case c == '.':
			dots++
		case !isDigit(c):
			return false
		}
	}
	return dots <= 1
}

func (l *Lexer) prevChar() byte {
	if l.pos < 2 {
		return 0
	}
	return l.input[l.pos-2]
}

var keywords = map[string]TokenType{
	"and":      TokenAnd,
	"or":       TokenOr,
	"xor":      TokenXor,
	"not":      TokenNot,
	"in":       TokenIn,
	"contains": TokenContains,
	"matches":  TokenMatches,
	"eq":       TokenEq,
	"any_eq":   TokenEq,
	"ne":       TokenNe,
	"any_ne":   TokenNe,
	"all_eq":   TokenAllEq,
	"all_ne":   TokenAllNe,
	"lt":       TokenLt,
	"le":       TokenLe,
	"gt":       TokenGt,
	"ge":       TokenGe,
}

func (l *Lexer) classifyWord(tok Token) Token {
	word := tok.Literal
	first := word[0]

	if isIdentifier(word) {
		lower := strings.ToLower(word)
		if typ, ok := keywords[lower]; ok {
			tok.Type = typ
			if typ == TokenNot {
				l.joinNotIn(&tok)
			}
			return tok
		}
		switch lower {
		case "true":
			tok.Type, tok.Value = TokenBool, ftype.BoolValue(true)
			return tok
		case "false":
			tok.Type, tok.Value = TokenBool, ftype.BoolValue(false)
			return tok
		}
		if !isDigit(first) {
			return tok
		}
	}

	switch {
	case strings.Contains(word, "/"):
		return l.literal(tok, TokenCIDR, "CIDR", func(s string) (ftype.Value, error) {
			v, err := ftype.ParseAddress(s)
			if err == nil {
				if _, ok := v.(ftype.PrefixValue); !ok {
					err = ftype.ErrSyntax
				}
			}
			return v, err
		})

	case looksLikeIPv4(word):
		return l.literal(tok, TokenIP, "IPv4 address", ftype.ParseAddress)

	case strings.Contains(word, ":"):
		if b, err := ftype.ParseBytes(word); err == nil {
			tok.Type, tok.Value = TokenBytes, ftype.BytesValue(b)
			return tok
		}
		return l.literal(tok, TokenIP, "IPv6 address", ftype.ParseAddress)

	case isDigit(first):
		if v, err := ftype.ParseNumber(word); err == nil {
			tok.Value = v
			tok.Type = TokenInt
			if _, ok := v.(ftype.FloatValue); ok {
				tok.Type = TokenFloat
			}
			return tok
		} else if errors.Is(err, ftype.ErrRange) {
			return l.fail(ErrRange, tok.Loc.Offset, tok.Loc.Length, "number %s out of range", word)
		}
		if b, err := ftype.ParseBytes(word); err == nil {
			tok.Type, tok.Value = TokenBytes, ftype.BytesValue(b)
			return tok
		}
		return l.fail(ErrLex, tok.Loc.Offset, tok.Loc.Length, "malformed number %q", word)

	case ftype.IsByteString(word):
		b, _ := ftype.ParseBytes(word)
		tok.Type, tok.Value = TokenBytes, ftype.BytesValue(b)
		return tok
	}

	return l.fail(ErrLex, tok.Loc.Offset, tok.Loc.Length, "unrecognized token %q", word)
}

// joinNotIn merges "not in" into a single membership operator.
func (l *Lexer) joinNotIn(tok *Token) {
	i := l.pos - 1
	for i < len(l.input) && (l.input[i] == ' ' || l.input[i] == '\t' || l.input[i] == '\n' || l.input[i] == '\r') {
		i++
	}
	if i == l.pos-1 || i+2 > len(l.input) || !strings.EqualFold(l.input[i:i+2], "in") {
		return
	}
	if i+2 < len(l.input) {
		if c := l.input[i+2]; isLetter(c) || isDigit(c) || c == '_' || c == '.' {
			return
		}
	}

	for l.pos-1 < i+2 {
		l.readChar()
	}
	tok.Type = TokenNotIn
	tok.Literal = l.input[tok.Loc.Offset : i+2]
	tok.Loc.Length = i + 2 - tok.Loc.Offset
}

func (l *Lexer) literal(tok Token, typ TokenType, what string, parse func(string) (ftype.Value, error)) Token {
	v, err := parse(tok.Literal)
	if err != nil {
		if errors.Is(err, ftype.ErrRange) {
			return l.fail(ErrRange, tok.Loc.Offset, tok.Loc.Length, "%s %s out of range", what, tok.Literal)
		}
		return l.fail(ErrLex, tok.Loc.Offset, tok.Loc.Length, "malformed %s %q", what, tok.Literal)
	}
	tok.Type, tok.Value = typ, v
	return tok
}

// looksLikeIPv4 reports whether s is four dot separated decimal groups.
func looksLikeIPv4(s string) bool {
	dots := 0
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '.':
			dots++
		case !isDigit(s[i]):
			return false
		}
	}
	return dots == 3
}

// isIdentifier reports whether s is a dotted name such as tcp.flags.syn.
func isIdentifier(s string) bool {
	if s == "" || s[0] == '.' || s[len(s)-1] == '.' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isLetter(c) || isDigit(c) || c == '_':
		case c == '.':
			if s[i-1] == '.' {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func isWordStart(ch byte) bool {
	return isLetter(ch) || isDigit(ch) || ch == '_'
}

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isHexDigit(ch byte) bool {
	return isDigit(ch) || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

func isOctalDigit(ch byte) bool {
	return ch >= '0' && ch <= '7'
}
