package compiler

import "github.com/maxstrauch/theia/pkg/bytecode"

// ---------------------------------------------------------------------------
// Code emission and fixups
// ---------------------------------------------------------------------------

// fixup is a branch target in a GOTO program that names a line number which
// may not have been seen yet.
type fixup struct {
	site int   // index of the placeholder word
	line int   // referenced line number
	ref  Token // the line number token, for error reporting
}

// here returns the address of the next emitted word.
func (c *Compiler) here() int {
	return len(c.program)
}

// emit appends an instruction.
func (c *Compiler) emit(op bytecode.Opcode, operands ...bytecode.Word) {
	c.program = append(c.program, bytecode.Word(op))
	c.program = append(c.program, operands...)
}

// emitBranch appends an instruction whose last operand is a branch target
// still to be determined and returns the index of that placeholder word.
func (c *Compiler) emitBranch(op bytecode.Opcode, operands ...bytecode.Word) int {
	c.emit(op, append(operands, bytecode.Placeholder)...)
	return c.here() - 1
}

// patch sets the branch target stored at site.
func (c *Compiler) patch(site, addr int) {
	c.program[site] = bytecode.Word(addr)
}

// patchHere points the branch target stored at site to the next emitted word.
func (c *Compiler) patchHere(site int) {
	c.patch(site, c.here())
}

// resolveFixups rewrites every recorded GOTO target with the address of the
// first instruction of the referenced line.
func (c *Compiler) resolveFixups() error {
	for _, f := range c.fixups {
		addr, ok := c.labels[f.line]
		if !ok {
			return errorAt(f.ref, "goto target line %d is not defined", f.line)
		}
		c.patch(f.site, addr)
	}
	return nil
}

// arithmeticOps maps binary operator tokens to opcodes.
var arithmeticOps = map[TokenType]bytecode.Opcode{
	TokenPlus:  bytecode.OpAdd,
	TokenMinus: bytecode.OpSub,
	TokenMult:  bytecode.OpMul,
}

// invertedBranch maps a condition's comparator to the branch taken when the
// condition does not hold.
var invertedBranch = map[TokenType]bytecode.Opcode{
	TokenEqu: bytecode.OpIfNeq,
	TokenLte: bytecode.OpIfGt,
}
