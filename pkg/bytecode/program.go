package bytecode

import (
	"errors"
	"fmt"
)

// Word is the unit of a program. Addresses are word indices.
type Word uint32

const (
	// RegisterFlag marks an operand word as a register reference.
	RegisterFlag Word = 0x80000000
	// ValueMask selects the 31 value bits of an operand word.
	ValueMask Word = 0x7fffffff
	// Placeholder is emitted for branch targets that are patched later.
	Placeholder Word = 0xffffffff
	// MaxValue is the largest register index or immediate an operand can hold.
	MaxValue = int64(ValueMask)
)

// Reg encodes a register reference. Bits above the 31 value bits are dropped.
func Reg(index uint32) Word {
	return RegisterFlag | (Word(index) & ValueMask)
}

// Imm encodes an immediate literal. Bits above the 31 value bits are dropped.
func Imm(n uint32) Word {
	return Word(n) & ValueMask
}

// IsReg reports whether the operand word references a register.
func (w Word) IsReg() bool {
	return w&RegisterFlag != 0
}

// Value returns the 31-bit payload of an operand word.
func (w Word) Value() uint32 {
	return uint32(w & ValueMask)
}

// Program is a flat sequence of words: opcodes immediately followed by their
// operands.
type Program []Word

// ErrTruncated is returned by Decode when an instruction's operands extend
// past the end of the program.
var ErrTruncated = errors.New("truncated instruction")

// ErrUnknownOpcode is returned by Decode for a word that is not an opcode.
var ErrUnknownOpcode = errors.New("unknown opcode")

// Instruction is a decoded instruction.
type Instruction struct {
	Addr     int
	Op       Opcode
	Operands []Word
}

// Len returns the instruction length in words (at least 1).
func (in Instruction) Len() int {
	return 1 + len(in.Operands)
}

// Decode decodes the instruction starting at addr. On ErrUnknownOpcode the
// returned instruction has no operands; on ErrTruncated it holds the operand
// words that were present.
func Decode(p Program, addr int) (Instruction, error) {
	if addr < 0 || addr >= len(p) {
		return Instruction{}, fmt.Errorf("address %d out of range", addr)
	}
	op := Opcode(p[addr])
	in := Instruction{Addr: addr, Op: op}
	info, ok := LookupOpcode(op)
	if !ok {
		return in, ErrUnknownOpcode
	}
	n := len(info.Operands)
	end := addr + 1 + n
	if end > len(p) {
		in.Operands = p[addr+1:]
		return in, ErrTruncated
	}
	in.Operands = p[addr+1 : end]
	return in, nil
}

// Equal reports whether two programs contain the same words.
func (p Program) Equal(other Program) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Ints returns the program as plain uint32 words, the form used on the wire.
func (p Program) Ints() []uint32 {
	out := make([]uint32, len(p))
	for i, w := range p {
		out[i] = uint32(w)
	}
	return out
}

// FromInts converts wire words back into a Program.
func FromInts(words []uint32) Program {
	p := make(Program, len(words))
	for i, w := range words {
		p[i] = Word(w)
	}
	return p
}
