// Package vm executes bytecode programs on a register machine.
//
// This package contains:
//   - Registers, the shared register store (index -> int64), safe for
//     concurrent use and observable through change subscriptions
//   - Machine, the interpreter loop over a bytecode.Program
//   - Run, a handle on an execution running on its own goroutine
//   - Session, which owns a register store and allows at most one run
//
// A machine halts normally when its instruction pointer runs past the end
// of the program. Runtime faults end the run with a *Fault; an external stop
// request is observed before the next instruction and ends the run with
// outcome Terminated. Register writes made before a fault or stop are kept.
package vm
