// Package compiler translates LOOP, WHILE and GOTO programs into bytecode
// for the register machine in package vm.
//
// Compilation is a single recursive-descent pass with no intermediate tree:
// grammar recognition and code emission happen together, and forward branch
// targets are backpatched once known. In GOTO programs a jump may name a line
// that appears later, so those targets are collected as fixups and resolved
// after the whole program has been read.
package compiler

import (
	"github.com/maxstrauch/theia/pkg/bytecode"
)

// Compiler holds the state of a single compilation. It is created per call
// to Compile and discarded afterwards.
type Compiler struct {
	lexer   *Lexer
	lang    Language
	program bytecode.Program

	labels map[int]int // GOTO line number -> address of its first instruction
	fixups []fixup     // GOTO branch targets awaiting resolution
}

// NewCompiler creates a compiler for the given source and language.
func NewCompiler(source string, lang Language) *Compiler {
	return &Compiler{
		lexer:  NewLexer(source),
		lang:   lang,
		labels: make(map[int]int),
	}
}

// Compile compiles source text in the given language. Every failure is a
// *Error describing the first problem found.
func Compile(source string, lang Language) (bytecode.Program, error) {
	return NewCompiler(source, lang).Compile()
}

// Compile runs the compiler. It must be called at most once.
func (c *Compiler) Compile() (bytecode.Program, error) {
	var err error
	switch c.lang {
	case LangLoop, LangWhile:
		err = c.parseProgram()
	case LangGoto:
		err = c.parseGotoProgram()
	default:
		err = &Error{Msg: "unsupported language " + c.lang.String()}
	}
	if err != nil {
		return nil, err
	}
	if c.program == nil {
		c.program = bytecode.Program{}
	}
	return c.program, nil
}

// Labels returns a copy of the GOTO line-number to address map built by
// Compile. It is empty for LOOP and WHILE programs.
func (c *Compiler) Labels() map[int]int {
	out := make(map[int]int, len(c.labels))
	for line, addr := range c.labels {
		out[line] = addr
	}
	return out
}
