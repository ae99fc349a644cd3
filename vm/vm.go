package vm

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/maxstrauch/theia/pkg/bytecode"
)

// loopCounter is an entry of the loop-counter stack. The counter is written
// back to its register on every dec, so a finished loop leaves that register
// at 0 while the iteration count stays fixed at loop entry.
type loopCounter struct {
	value int64
	reg   uint32
}

// Machine interprets a single program against a register store. A Machine
// is used for one execution; Stop may be called from any goroutine.
type Machine struct {
	prog bytecode.Program
	regs *Registers

	ip       int
	stack    []loopCounter
	maxDepth int
	steps    atomic.Uint64
	stopped  atomic.Bool

	log   commonlog.Logger
	trace bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for run lifecycle messages.
func WithLogger(log commonlog.Logger) Option {
	return func(m *Machine) {
		if log != nil {
			m.log = log
		}
	}
}

// WithTrace logs every instruction at debug level before it executes.
func WithTrace(trace bool) Option {
	return func(m *Machine) {
		m.trace = trace
	}
}

// New creates a machine for prog. A nil regs gets a fresh store.
func New(prog bytecode.Program, regs *Registers, opts ...Option) *Machine {
	if regs == nil {
		regs = NewRegisters()
	}
	m := &Machine{
		prog: prog,
		regs: regs,
		log:  commonlog.GetLogger("theia.vm"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Registers returns the store the machine reads and writes.
func (m *Machine) Registers() *Registers {
	return m.regs
}

// Stop asks the machine to halt before its next instruction.
func (m *Machine) Stop() {
	m.stopped.Store(true)
}

// Steps returns the number of instructions executed so far.
func (m *Machine) Steps() uint64 {
	return m.steps.Load()
}

// Execute runs the program to completion, fault or stop. Cancelling ctx has
// the same effect as Stop.
func (m *Machine) Execute(ctx context.Context) Result {
	if ctx != nil {
		if ctx.Err() != nil {
			m.Stop()
		}
		release := context.AfterFunc(ctx, m.Stop)
		defer release()
	}

	start := time.Now()
	outcome, err := m.run()
	res := Result{
		Outcome:  outcome,
		Err:      err,
		Started:  start,
		Elapsed:  time.Since(start),
		Steps:    m.steps.Load(),
		MaxDepth: m.maxDepth,
	}

	if err != nil {
		m.log.Warningf("run %s at step %d: %v", outcome, res.Steps, err)
	} else {
		m.log.Debugf("run %s after %d steps in %s", outcome, res.Steps, res.Elapsed)
	}
	return res
}

// run is the main execution loop.
func (m *Machine) run() (Outcome, error) {
	m.ip = 0
	m.stack = m.stack[:0]

	for m.ip < len(m.prog) {
		if m.stopped.Load() {
			return Terminated, nil
		}

		in, err := bytecode.Decode(m.prog, m.ip)
		if err != nil {
			return Faulted, m.decodeFault(in, err)
		}

		if m.trace && m.log.AllowLevel(commonlog.Debug) {
			text, _ := bytecode.DisassembleInstruction(m.prog, m.ip)
			m.log.Debugf("%4d: %-24s depth=%d", m.ip, text, len(m.stack))
		}

		next, err := m.step(in)
		if err != nil {
			return Faulted, err
		}
		m.steps.Add(1)
		m.ip = next
	}

	return Completed, nil
}

// step executes one instruction and returns the next instruction pointer.
func (m *Machine) step(in bytecode.Instruction) (int, error) {
	next := m.ip + in.Len()
	ops := in.Operands

	switch in.Op {
	// ============ Loop counter stack ============
	case bytecode.OpPush:
		if !ops[0].IsReg() {
			return 0, m.fault(in.Op, ErrNotRegister)
		}
		reg := ops[0].Value()
		// A negative count runs the body zero times.
		m.stack = append(m.stack, loopCounter{value: max(m.regs.Get(reg), 0), reg: reg})
		if len(m.stack) > m.maxDepth {
			m.maxDepth = len(m.stack)
		}

	case bytecode.OpPop:
		if len(m.stack) == 0 {
			return 0, m.fault(in.Op, ErrStackUnderflow)
		}
		m.stack = m.stack[:len(m.stack)-1]

	case bytecode.OpDec:
		if len(m.stack) == 0 {
			return 0, m.fault(in.Op, ErrStackUnderflow)
		}
		top := &m.stack[len(m.stack)-1]
		top.value--
		m.regs.Set(top.reg, top.value)

	case bytecode.OpBz:
		if len(m.stack) == 0 {
			return 0, m.fault(in.Op, ErrStackUnderflow)
		}
		if m.stack[len(m.stack)-1].value == 0 {
			return int(ops[0]), nil
		}

	// ============ Control flow ============
	case bytecode.OpGoto:
		return int(ops[0]), nil

	case bytecode.OpNop:

	// ============ Register arithmetic ============
	case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul:
		if !ops[2].IsReg() {
			return 0, m.fault(in.Op, ErrNotRegister)
		}
		a, b := m.value(ops[0]), m.value(ops[1])
		var r int64
		switch in.Op {
		case bytecode.OpAdd:
			r = a + b
		case bytecode.OpSub:
			r = a - b
		default:
			r = a * b
		}
		m.regs.Set(ops[2].Value(), r)

	case bytecode.OpMov:
		if !ops[1].IsReg() {
			return 0, m.fault(in.Op, ErrNotRegister)
		}
		m.regs.Set(ops[1].Value(), m.value(ops[0]))

	// ============ Conditional branches ============
	case bytecode.OpIfNeq:
		if m.value(ops[0]) != m.value(ops[1]) {
			return int(ops[2]), nil
		}

	case bytecode.OpIfGt:
		if m.value(ops[0]) > m.value(ops[1]) {
			return int(ops[2]), nil
		}

	case bytecode.OpIfEq:
		if m.value(ops[0]) == m.value(ops[1]) {
			return int(ops[2]), nil
		}

	default:
		return 0, m.fault(in.Op, ErrUnknownOpcode)
	}

	return next, nil
}

// value resolves a tagged operand: a register read or an immediate.
func (m *Machine) value(w bytecode.Word) int64 {
	if w.IsReg() {
		return m.regs.Get(w.Value())
	}
	return int64(w.Value())
}

func (m *Machine) fault(op bytecode.Opcode, err error) *Fault {
	return &Fault{IP: m.ip, Op: op, Err: err}
}

// decodeFault maps a decoding failure onto the runtime fault taxonomy.
func (m *Machine) decodeFault(in bytecode.Instruction, err error) *Fault {
	switch {
	case errors.Is(err, bytecode.ErrUnknownOpcode):
		return m.fault(in.Op, ErrUnknownOpcode)
	case errors.Is(err, bytecode.ErrTruncated):
		return m.fault(in.Op, ErrTruncated)
	}
	return m.fault(in.Op, err)
}

// Exec executes prog synchronously against regs. It is shorthand for
// New(prog, regs, opts...).Execute(ctx).
func Exec(ctx context.Context, prog bytecode.Program, regs *Registers, opts ...Option) Result {
	return New(prog, regs, opts...).Execute(ctx)
}
