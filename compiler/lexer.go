package compiler

import (
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: Tokenizer for LOOP, WHILE and GOTO programs
// ---------------------------------------------------------------------------

// Lexer tokenizes source code. It is pull based: Peek returns the next token
// without consuming it and Advance consumes it. The cursor only moves forward
// and a lexer is used for a single pass over its input.
type Lexer struct {
	input   string
	pos     int  // offset of ch
	readPos int  // offset after ch
	ch      rune // current character
	line    int  // line of ch (1-based)
	col     int  // column of ch (1-based)

	peeked  bool
	peekTok Token
	peekErr error
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   1,
	}
	l.load()
	return l
}

// load decodes the character at readPos into ch.
func (l *Lexer) load() {
	l.pos = l.readPos
	if l.readPos >= len(l.input) {
		l.ch = 0
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.readPos += size
}

// readChar moves past the current character.
func (l *Lexer) readChar() {
	if l.atEOF() {
		return
	}
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.load()
}

func (l *Lexer) atEOF() bool {
	return l.pos >= len(l.input)
}

// position returns the position of the current character.
func (l *Lexer) position() Position {
	return Position{
		Offset: l.pos,
		Line:   l.line,
		Column: l.col,
	}
}

// Peek returns the next token without consuming it. Repeated calls return
// the same token (or the same error).
func (l *Lexer) Peek() (Token, error) {
	if !l.peeked {
		l.peekTok, l.peekErr = l.lex()
		l.peeked = true
	}
	return l.peekTok, l.peekErr
}

// Advance consumes and returns the next token. Once the input is exhausted
// it keeps returning EOF. A lexical error is sticky: the lexer does not move
// past it.
func (l *Lexer) Advance() (Token, error) {
	tok, err := l.Peek()
	if err == nil {
		l.peeked = false
	}
	return tok, err
}

// lex recognizes the next token.
func (l *Lexer) lex() (Token, error) {
	for !l.atEOF() && unicode.IsSpace(l.ch) {
		l.readChar()
	}

	pos := l.position()
	if l.atEOF() {
		return Token{Type: TokenEOF, Pos: pos, End: pos}, nil
	}

	switch l.ch {
	case ':':
		l.readChar()
		if l.ch == '=' && !l.atEOF() {
			l.readChar()
			return l.token(TokenAssign, pos), nil
		}
		return l.token(TokenColon, pos), nil

	case ';':
		l.readChar()
		return l.token(TokenSemicolon, pos), nil

	case '=':
		l.readChar()
		return l.token(TokenEqu, pos), nil

	case '+':
		l.readChar()
		return l.token(TokenPlus, pos), nil

	case '-':
		l.readChar()
		return l.token(TokenMinus, pos), nil

	case '*':
		l.readChar()
		return l.token(TokenMult, pos), nil

	case '!', '<':
		first := l.ch
		l.readChar()
		if l.ch == '=' && !l.atEOF() {
			l.readChar()
			if first == '!' {
				return l.token(TokenNeq, pos), nil
			}
			return l.token(TokenLte, pos), nil
		}
		return Token{}, l.errorFrom(pos, "unknown character: '%c'", first)

	case 'x', 'X':
		return l.readVariable(pos)
	}

	switch {
	case isLetter(l.ch):
		return l.readKeyword(pos)
	case isDigit(l.ch):
		return l.readNumber(pos), nil
	}

	ch := l.ch
	l.readChar()
	return Token{}, l.errorFrom(pos, "unknown character: '%c'", ch)
}

// token builds a token spanning from start to the current position.
func (l *Lexer) token(t TokenType, start Position) Token {
	return Token{
		Type:    t,
		Literal: l.input[start.Offset:l.pos],
		Pos:     start,
		End:     l.position(),
	}
}

// errorFrom builds a lexical error spanning from start to the current position.
func (l *Lexer) errorFrom(start Position, format string, args ...any) *Error {
	return errorAt(Token{Pos: start, End: l.position()}, format, args...)
}

// readVariable reads a register name: x or X followed by one or more digits.
func (l *Lexer) readVariable(pos Position) (Token, error) {
	l.readChar() // consume x

	if !isDigit(l.ch) || l.atEOF() {
		if l.atEOF() {
			return Token{}, l.errorFrom(pos, "variable expected but found end of input")
		}
		found := l.ch
		l.readChar()
		return Token{}, l.errorFrom(pos, "variable expected but found: '%c'", found)
	}

	for isDigit(l.ch) && !l.atEOF() {
		l.readChar()
	}
	return l.token(TokenVar, pos), nil
}

// readKeyword reads a run of letters and resolves it against the keyword set.
func (l *Lexer) readKeyword(pos Position) (Token, error) {
	for isLetter(l.ch) && !l.atEOF() {
		l.readChar()
	}

	literal := l.input[pos.Offset:l.pos]
	if tokType, ok := keywords[literal]; ok {
		return l.token(tokType, pos), nil
	}
	return Token{}, l.errorFrom(pos, "unknown keyword: '%s'", literal)
}

// readNumber reads a run of decimal digits.
func (l *Lexer) readNumber(pos Position) Token {
	for isDigit(l.ch) && !l.atEOF() {
		l.readChar()
	}
	return l.token(TokenNum, pos)
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input up to and including EOF. On a
// lexical error it returns the tokens read so far and the error.
func Tokenize(input string) ([]Token, error) {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok, err := l.Advance()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens, nil
		}
	}
}
