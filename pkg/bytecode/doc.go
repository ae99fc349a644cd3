// Package bytecode defines the instruction set shared by the LOOP, WHILE and
// GOTO front ends and executed by the register machine in package vm.
//
// A program is a flat slice of 32-bit words. Each instruction is an opcode
// word followed by a fixed number of operand words implied by the opcode;
// there is no length prefix. Addresses are word indices into the program,
// not byte offsets.
//
// # Operands
//
// Operand words are tagged:
//
//   - bit 31 set: register reference, bits 0..30 hold the register index
//   - bit 31 clear: immediate literal, bits 0..30 hold the value
//
// Address operands (branch targets) are plain word indices and carry no tag.
// Values wider than 31 bits lose their upper bits when encoded.
//
// # Instruction set
//
//	push reg          push register value onto the loop counter stack
//	pop               discard top of stack
//	dec               decrement top of stack in place
//	bz   addr         branch if top of stack is zero, without popping
//	mov  src, dst     dst := src
//	add  a1, a2, dst  dst := a1 + a2 (likewise sub, mul)
//	goto addr         unconditional branch
//	ifeq a1, a2, addr branch if a1 == a2 (likewise ifneq, ifgt)
//	nop               landing pad
//
// Disassemble renders a program as an address-prefixed listing and accepts
// arbitrary words.
package bytecode
