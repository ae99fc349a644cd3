package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the LOOP/WHILE/GOTO lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota

	// Punctuation
	TokenColon     // :
	TokenSemicolon // ;
	TokenAssign    // :=
	TokenNeq       // !=
	TokenEqu       // =
	TokenLte       // <=
	TokenPlus      // +
	TokenMinus     // -
	TokenMult      // *

	// Keywords
	TokenLoop
	TokenDo
	TokenEnd
	TokenWhile
	TokenIf
	TokenThen
	TokenElse
	TokenGoto

	// Symbols
	TokenVar // x1, X42
	TokenNum // 0, 17
)

var tokenNames = map[TokenType]string{
	TokenEOF:       "EOF",
	TokenColon:     ":",
	TokenSemicolon: ";",
	TokenAssign:    ":=",
	TokenNeq:       "!=",
	TokenEqu:       "=",
	TokenLte:       "<=",
	TokenPlus:      "+",
	TokenMinus:     "-",
	TokenMult:      "*",
	TokenLoop:      "loop",
	TokenDo:        "do",
	TokenEnd:       "end",
	TokenWhile:     "while",
	TokenIf:        "if",
	TokenThen:      "then",
	TokenElse:      "else",
	TokenGoto:      "goto",
	TokenVar:       "VAR",
	TokenNum:       "NUM",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", t)
}

// IsKeyword reports whether the token type is a reserved word.
func (t TokenType) IsKeyword() bool {
	return t >= TokenLoop && t <= TokenGoto
}

// Token represents a lexical token.
type Token struct {
	Type    TokenType
	Literal string   // the raw text
	Pos     Position // start position
	End     Position // position just past the token
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}

// describe renders the token for error messages.
func (t Token) describe() string {
	if t.Type == TokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("'%s'", t.Literal)
}

// expected renders a token type for "expected ..." messages.
func (t TokenType) expected() string {
	switch t {
	case TokenVar:
		return "a variable"
	case TokenNum:
		return "a number"
	case TokenEOF:
		return "end of input"
	}
	return fmt.Sprintf("'%s'", tokenNames[t])
}

// Reserved words mapped to their token types.
var keywords = map[string]TokenType{
	"loop":  TokenLoop,
	"do":    TokenDo,
	"end":   TokenEnd,
	"while": TokenWhile,
	"if":    TokenIf,
	"then":  TokenThen,
	"else":  TokenElse,
	"goto":  TokenGoto,
}

// Keywords returns the reserved words in declaration order.
func Keywords() []string {
	return []string{"loop", "do", "end", "while", "if", "then", "else", "goto"}
}
