package compiler

import "fmt"

// Position represents a location in source code.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// IsValid reports whether the position carries line information.
func (p Position) IsValid() bool {
	return p.Line > 0
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Error is a recognition failure: a lexical, grammatical or semantic error
// found while compiling. Compilation stops at the first one.
type Error struct {
	Msg string
	Pos Position // start of the offending source span; zero if unknown
	End Position // end of the span (exclusive); zero if unknown
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("line %d:%d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
	}
	return e.Msg
}

// HasPosition reports whether the error carries line and column information.
func (e *Error) HasPosition() bool {
	return e.Pos.IsValid()
}

// HasSpan reports whether the error identifies a source range.
func (e *Error) HasSpan() bool {
	return e.Pos.IsValid() && e.End.Offset >= e.Pos.Offset
}

// Span returns the byte offsets [start, end) of the offending source text.
func (e *Error) Span() (start, end int) {
	return e.Pos.Offset, e.End.Offset
}

// errorAt builds an error covering the given token.
func errorAt(tok Token, format string, args ...any) *Error {
	return &Error{
		Msg: fmt.Sprintf(format, args...),
		Pos: tok.Pos,
		End: tok.End,
	}
}
