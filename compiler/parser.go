package compiler

import (
	"strconv"

	"github.com/maxstrauch/theia/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// peek returns the next token without consuming it.
func (c *Compiler) peek() (Token, error) {
	return c.lexer.Peek()
}

// next consumes the next token.
func (c *Compiler) next() (Token, error) {
	return c.lexer.Advance()
}

// expect consumes the next token if it has type t; otherwise it fails
// without consuming anything.
func (c *Compiler) expect(t TokenType) (Token, error) {
	tok, err := c.peek()
	if err != nil {
		return tok, err
	}
	if tok.Type != t {
		return tok, errorAt(tok, "expected %s but found %s", t.expected(), tok.describe())
	}
	return c.next()
}

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// parseProgram parses a LOOP or WHILE program: a statement sequence
// followed by the end of input.
func (c *Compiler) parseProgram() error {
	if err := c.parseSequence(); err != nil {
		return err
	}
	tok, err := c.peek()
	if err != nil {
		return err
	}
	if tok.Type != TokenEOF {
		return errorAt(tok, "unexpected %s after end of program", tok.describe())
	}
	return nil
}

// parseGotoProgram parses a GOTO program: numbered lines separated by
// semicolons. Jump targets are resolved once every line has been read.
func (c *Compiler) parseGotoProgram() error {
	for {
		tok, err := c.peek()
		if err != nil {
			return err
		}
		if tok.Type != TokenNum {
			return errorAt(tok, "a GOTO statement needs a line number")
		}
		c.next()

		line, err := parseNumber(tok)
		if err != nil {
			return err
		}
		if _, dup := c.labels[line]; dup {
			return errorAt(tok, "line number '%d' already used", line)
		}
		c.labels[line] = c.here()

		if _, err := c.expect(TokenColon); err != nil {
			return err
		}
		if err := c.parseStatement(); err != nil {
			return err
		}

		tok, err = c.peek()
		if err != nil {
			return err
		}
		if tok.Type == TokenEOF {
			break
		}

		semi, err := c.expect(TokenSemicolon)
		if err != nil {
			return err
		}

		// A semicolon terminates a line only if another line follows.
		tok, err = c.peek()
		if err != nil {
			return err
		}
		if tok.Type == TokenEOF {
			return errorAt(semi, "program ends with a semicolon")
		}
	}

	return c.resolveFixups()
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// parseSequence parses "stmt { ; stmt }". GOTO programs reserve the
// semicolon for line termination and never call this.
func (c *Compiler) parseSequence() error {
	for {
		if err := c.parseStatement(); err != nil {
			return err
		}
		tok, err := c.peek()
		if err != nil {
			return err
		}
		if tok.Type != TokenSemicolon {
			return nil
		}
		c.next()
	}
}

// parseStatement dispatches on the first token of a statement.
func (c *Compiler) parseStatement() error {
	tok, err := c.peek()
	if err != nil {
		return err
	}

	switch tok.Type {
	case TokenEOF:
		return errorAt(tok, "no statement provided")

	case TokenVar:
		return c.parseAssign()

	case TokenLoop:
		if c.lang != LangLoop {
			return errorAt(tok, "illegal statement loop in language %s", c.lang)
		}
		return c.parseLoop()

	case TokenWhile:
		if c.lang != LangWhile {
			return errorAt(tok, "illegal statement while in language %s", c.lang)
		}
		return c.parseWhile()

	case TokenIf:
		return c.parseIf()
	}

	return errorAt(tok, "unexpected %s at start of statement", tok.describe())
}

// parseAssign parses "var := arg" or "var := arg op arg".
func (c *Compiler) parseAssign() error {
	tok, err := c.expect(TokenVar)
	if err != nil {
		return err
	}
	dst, err := parseRegister(tok)
	if err != nil {
		return err
	}
	if _, err := c.expect(TokenAssign); err != nil {
		return err
	}

	arg1, err := c.parseArgument()
	if err != nil {
		return err
	}

	opTok, err := c.peek()
	if err != nil {
		return err
	}
	switch opTok.Type {
	case TokenPlus, TokenMinus, TokenMult:
	default:
		c.emit(bytecode.OpMov, arg1, dst)
		return nil
	}
	c.next()

	op, ok := arithmeticOps[opTok.Type]
	if !ok {
		return errorAt(opTok, "unknown operator %s", opTok.describe())
	}
	arg2, err := c.parseArgument()
	if err != nil {
		return err
	}
	c.emit(op, arg1, arg2, dst)
	return nil
}

// parseArgument parses a VAR or NUM operand.
func (c *Compiler) parseArgument() (bytecode.Word, error) {
	tok, err := c.peek()
	if err != nil {
		return 0, err
	}
	switch tok.Type {
	case TokenVar:
		c.next()
		return parseRegister(tok)
	case TokenNum:
		c.next()
		n, err := parseNumber(tok)
		if err != nil {
			return 0, err
		}
		return bytecode.Imm(uint32(n)), nil
	}
	return 0, errorAt(tok, "a variable or number is required here but found %s", tok.describe())
}

// parseLoop parses "loop var do stmt end".
//
//	    push v
//	top: bz end
//	    body
//	    dec
//	    goto top
//	end: pop
func (c *Compiler) parseLoop() error {
	c.next() // loop
	tok, err := c.expect(TokenVar)
	if err != nil {
		return err
	}
	counter, err := parseRegister(tok)
	if err != nil {
		return err
	}

	c.emit(bytecode.OpPush, counter)
	top := c.here()
	exit := c.emitBranch(bytecode.OpBz)

	if _, err := c.expect(TokenDo); err != nil {
		return err
	}
	if err := c.parseSequence(); err != nil {
		return err
	}
	if _, err := c.expect(TokenEnd); err != nil {
		return err
	}

	c.emit(bytecode.OpDec)
	c.emit(bytecode.OpGoto, bytecode.Word(top))
	c.patchHere(exit)
	c.emit(bytecode.OpPop)
	return nil
}

// parseWhile parses "while var != 0 do stmt end".
//
//	top: ifeq v, 0, end
//	     body
//	     goto top
//	end: nop
func (c *Compiler) parseWhile() error {
	c.next() // while
	tok, err := c.expect(TokenVar)
	if err != nil {
		return err
	}
	reg, err := parseRegister(tok)
	if err != nil {
		return err
	}

	cmp, err := c.peek()
	if err != nil {
		return err
	}
	if cmp.Type != TokenNeq {
		return errorAt(cmp, "while condition: operator must be '!='")
	}
	c.next()

	num, err := c.peek()
	if err != nil {
		return err
	}
	if num.Type != TokenNum {
		return errorAt(num, "while condition: must test against 0")
	}
	c.next()
	if n, err := parseNumber(num); err != nil || n != 0 {
		return errorAt(num, "while condition: must test against 0")
	}

	top := c.here()
	exit := c.emitBranch(bytecode.OpIfEq, reg, bytecode.Imm(0))

	if _, err := c.expect(TokenDo); err != nil {
		return err
	}
	if err := c.parseSequence(); err != nil {
		return err
	}
	if _, err := c.expect(TokenEnd); err != nil {
		return err
	}

	c.emit(bytecode.OpGoto, bytecode.Word(top))
	c.patchHere(exit)
	c.emit(bytecode.OpNop)
	return nil
}

// parseIf parses a conditional. LOOP and WHILE use
// "if arg cmp arg then stmt else stmt end"; GOTO uses
// "if arg = arg goto num".
//
// The then-block is reached by falling through; the emitted branch is the
// inverted comparison and jumps to the else-block:
//
//	    ifneq a, b, else    (ifgt for <=)
//	    then-block
//	    goto done
//	else: else-block
//	done: nop
func (c *Compiler) parseIf() error {
	c.next() // if
	arg1, err := c.parseArgument()
	if err != nil {
		return err
	}

	cmp, err := c.peek()
	if err != nil {
		return err
	}
	if cmp.Type != TokenEqu && cmp.Type != TokenLte {
		return errorAt(cmp, "illegal compare operator %s", cmp.describe())
	}
	c.next()

	arg2, err := c.parseArgument()
	if err != nil {
		return err
	}

	if c.lang == LangGoto {
		return c.parseIfGoto(cmp, arg1, arg2)
	}

	tok, err := c.peek()
	if err != nil {
		return err
	}
	if tok.Type == TokenGoto {
		return errorAt(tok, "illegal statement goto in language %s", c.lang)
	}
	if _, err := c.expect(TokenThen); err != nil {
		return err
	}

	elseSite := c.emitBranch(invertedBranch[cmp.Type], arg1, arg2)
	if err := c.parseSequence(); err != nil {
		return err
	}
	doneSite := c.emitBranch(bytecode.OpGoto)

	if _, err := c.expect(TokenElse); err != nil {
		return err
	}
	c.patchHere(elseSite)
	if err := c.parseSequence(); err != nil {
		return err
	}
	if _, err := c.expect(TokenEnd); err != nil {
		return err
	}

	c.patchHere(doneSite)
	c.emit(bytecode.OpNop)
	return nil
}

// parseIfGoto finishes "if arg = arg goto num". The target line may not have
// been read yet, so a placeholder is emitted and recorded as a fixup.
func (c *Compiler) parseIfGoto(cmp Token, arg1, arg2 bytecode.Word) error {
	if _, err := c.expect(TokenGoto); err != nil {
		return err
	}
	if cmp.Type != TokenEqu {
		return errorAt(cmp, "GOTO-IF must use the '=' comparison")
	}

	tok, err := c.expect(TokenNum)
	if err != nil {
		return err
	}
	line, err := parseNumber(tok)
	if err != nil {
		return err
	}

	site := c.emitBranch(bytecode.OpIfEq, arg1, arg2)
	c.fixups = append(c.fixups, fixup{site: site, line: line, ref: tok})
	return nil
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

// parseNumber converts a NUM token. Values must fit in 31 bits.
func parseNumber(tok Token) (int, error) {
	n, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil || n > bytecode.MaxValue {
		return 0, errorAt(tok, "number out of range: %s", tok.Literal)
	}
	return int(n), nil
}

// parseRegister converts a VAR token into a register operand.
func parseRegister(tok Token) (bytecode.Word, error) {
	n, err := strconv.ParseInt(tok.Literal[1:], 10, 64)
	if err != nil || n > bytecode.MaxValue {
		return 0, errorAt(tok, "register index out of range: %s", tok.Literal)
	}
	return bytecode.Reg(uint32(n)), nil
}
