package bytecode

import "fmt"

// Opcode is the first word of an instruction. Its value alone determines how
// many operand words follow.
type Opcode Word

const (
	// ========================================================================
	// Loop counter stack (0x10-0x1F)
	// ========================================================================

	OpPush Opcode = 0x10 // Push register value: OpPush <reg>
	OpPop  Opcode = 0x11 // Discard top of stack
	OpDec  Opcode = 0x12 // Decrement top of stack in place
	OpBz   Opcode = 0x13 // Branch if top of stack is zero (no pop): OpBz <addr>

	// ========================================================================
	// Control flow (0x20-0x2F)
	// ========================================================================

	OpGoto Opcode = 0x21 // Unconditional branch: OpGoto <addr>

	// ========================================================================
	// Register arithmetic (0x2A-0x2D)
	// ========================================================================

	OpAdd Opcode = 0x2a // dst := a1 + a2: OpAdd <a1> <a2> <dst>
	OpSub Opcode = 0x2b // dst := a1 - a2
	OpMul Opcode = 0x2c // dst := a1 * a2
	OpMov Opcode = 0x2d // dst := src: OpMov <src> <dst>

	// ========================================================================
	// Conditional branches (0x40-0x4F)
	// ========================================================================

	OpIfNeq Opcode = 0x42 // Branch if a1 != a2: OpIfNeq <a1> <a2> <addr>
	OpIfGt  Opcode = 0x43 // Branch if a1 > a2
	OpIfEq  Opcode = 0x44 // Branch if a1 == a2

	// ========================================================================
	// Misc
	// ========================================================================

	OpNop Opcode = 0x99 // Landing pad for forward branches
)

// OperandKind describes how an operand word is interpreted.
type OperandKind int

const (
	OperandValue   OperandKind = iota // tagged register or immediate
	OperandReg                        // register reference
	OperandAddress                    // absolute word index
)

// OpcodeInfo provides metadata about each opcode for decoding and listing.
type OpcodeInfo struct {
	Name     string        // Mnemonic
	Operands []OperandKind // Kinds of the trailing operand words, in order
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpPush: {"push", []OperandKind{OperandReg}},
	OpPop:  {"pop", nil},
	OpDec:  {"dec", nil},
	OpBz:   {"bz", []OperandKind{OperandAddress}},

	OpGoto: {"goto", []OperandKind{OperandAddress}},

	OpAdd: {"add", []OperandKind{OperandValue, OperandValue, OperandValue}},
	OpSub: {"sub", []OperandKind{OperandValue, OperandValue, OperandValue}},
	OpMul: {"mul", []OperandKind{OperandValue, OperandValue, OperandValue}},
	OpMov: {"mov", []OperandKind{OperandValue, OperandValue}},

	OpIfNeq: {"ifneq", []OperandKind{OperandValue, OperandValue, OperandAddress}},
	OpIfGt:  {"ifgt", []OperandKind{OperandValue, OperandValue, OperandAddress}},
	OpIfEq:  {"ifeq", []OperandKind{OperandValue, OperandValue, OperandAddress}},

	OpNop: {"nop", nil},
}

// LookupOpcode returns the metadata for op and whether op is defined.
func LookupOpcode(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02x)", Word(op))
}

// OperandCount returns the number of operand words following the opcode,
// or 0 for an unknown opcode.
func (op Opcode) OperandCount() int {
	return len(opcodeInfoTable[op].Operands)
}

// InstructionLen returns the total length of an instruction in words.
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandCount()
}

// IsBranch reports whether the opcode carries an address operand.
func (op Opcode) IsBranch() bool {
	switch op {
	case OpBz, OpGoto, OpIfNeq, OpIfGt, OpIfEq:
		return true
	}
	return false
}

// IsDefined reports whether op is part of the instruction set.
func (op Opcode) IsDefined() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// AllOpcodes returns every defined opcode.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}
