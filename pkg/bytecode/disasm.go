package bytecode

import (
	"errors"
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the program, one
// address-prefixed line per instruction. It never fails: words that are not
// opcodes are listed as unknown and decoding resumes at the next word, and
// operands cut off by the end of the program are shown as "?".
func Disassemble(p Program) string {
	var sb strings.Builder
	sb.WriteString("Code:\n")

	addr := 0
	for addr < len(p) {
		line, n := disassembleInstruction(p, addr)
		fmt.Fprintf(&sb, "%3d: %s\n", addr, line)
		addr += n
	}

	return sb.String()
}

// DisassembleInstruction formats the single instruction at addr. It returns
// the text and the number of words consumed (at least 1).
func DisassembleInstruction(p Program, addr int) (string, int) {
	if addr < 0 || addr >= len(p) {
		return "<end of code>", 1
	}
	return disassembleInstruction(p, addr)
}

func disassembleInstruction(p Program, addr int) (string, int) {
	in, err := Decode(p, addr)
	if errors.Is(err, ErrUnknownOpcode) {
		return fmt.Sprintf("<unknown opcode 0x%02x>", uint32(p[addr])), 1
	}

	info, _ := LookupOpcode(in.Op)
	if len(info.Operands) == 0 {
		return info.Name, 1
	}

	parts := make([]string, len(info.Operands))
	for i, kind := range info.Operands {
		if i >= len(in.Operands) {
			parts[i] = "?"
			continue
		}
		parts[i] = formatOperand(kind, in.Operands[i])
	}

	return info.Name + " " + strings.Join(parts, ", "), in.Len()
}

// formatOperand renders an operand word according to its kind.
func formatOperand(kind OperandKind, w Word) string {
	switch kind {
	case OperandAddress:
		return fmt.Sprintf("#%d", uint32(w))
	case OperandReg:
		return fmt.Sprintf("x%d", w.Value())
	}
	return FormatValue(w)
}

// FormatValue renders a tagged operand as "xN" for a register or a bare
// number for an immediate.
func FormatValue(w Word) string {
	if w.IsReg() {
		return fmt.Sprintf("x%d", w.Value())
	}
	return fmt.Sprintf("%d", w.Value())
}
