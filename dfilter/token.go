package dfilter

import (
	"fmt"

	"github.com/vitalvas/pktfilter/ftype"
)

// TokenType identifies the kind of a lexical token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenError

	// Names and literals
	TokenIdent
	TokenString
	TokenChar
	TokenInt
	TokenFloat
	TokenBytes
	TokenIP
	TokenCIDR
	TokenBool

	// Comparison operators
	TokenEq
	TokenNe
	TokenAllEq
	TokenAllNe
	TokenLt
	TokenLe
	TokenGt
	TokenGe
	TokenContains
	TokenMatches
	TokenIn
	TokenNotIn

	// Logical operators
	TokenAnd
	TokenOr
	TokenXor
	TokenNot

	// Arithmetic operators
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenPercent
	TokenBitAnd

	// Delimiters
	TokenLParen
	TokenRParen
	TokenLBrace
	TokenRBrace
	TokenLBracket
	TokenRBracket
	TokenComma
	TokenColon
	TokenRange
	TokenHash
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenIdent:    "IDENT",
	TokenString:   "STRING",
	TokenChar:     "CHAR",
	TokenInt:      "INT",
	TokenFloat:    "FLOAT",
	TokenBytes:    "BYTES",
	TokenIP:       "IP",
	TokenCIDR:     "CIDR",
	TokenBool:     "BOOL",
	TokenEq:       "==",
	TokenNe:       "!=",
	TokenAllEq:    "===",
	TokenAllNe:    "!==",
	TokenLt:       "<",
	TokenLe:       "<=",
	TokenGt:       ">",
	TokenGe:       ">=",
	TokenContains: "contains",
	TokenMatches:  "matches",
	TokenIn:       "in",
	TokenNotIn:    "not in",
	TokenAnd:      "and",
	TokenOr:       "or",
	TokenXor:      "xor",
	TokenNot:      "not",
	TokenPlus:     "+",
	TokenMinus:    "-",
	TokenStar:     "*",
	TokenSlash:    "/",
	TokenPercent:  "%",
	TokenBitAnd:   "&",
	TokenLParen:   "(",
	TokenRParen:   ")",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenComma:    ",",
	TokenColon:    ":",
	TokenRange:    "..",
	TokenHash:     "#",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", t)
}

// IsComparison reports whether the token is a comparison or membership operator.
func (t TokenType) IsComparison() bool {
	return t >= TokenEq && t <= TokenNotIn
}

// IsLiteral reports whether the token carries a literal value.
func (t TokenType) IsLiteral() bool {
	return t >= TokenString && t <= TokenBool
}

// Token is a lexical token. Literal holds the text as written; Value holds
// the decoded literal for literal tokens.
type Token struct {
	Type    TokenType
	Literal string
	Value   ftype.Value
	Loc     Location
}

func (t Token) String() string {
	if t.Literal == "" {
		return t.Type.String()
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
