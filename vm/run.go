package vm

import (
	"context"
	"fmt"

	"github.com/maxstrauch/theia/pkg/bytecode"
)

// Run is a handle on an execution running on its own goroutine.
type Run struct {
	machine *Machine
	done    chan struct{}
	result  Result
}

// Start begins executing prog against regs and returns immediately.
func Start(ctx context.Context, prog bytecode.Program, regs *Registers, opts ...Option) *Run {
	r := &Run{
		machine: New(prog, regs, opts...),
		done:    make(chan struct{}),
	}
	go r.execute(ctx)
	return r
}

// execute runs the machine, recovering from panics.
func (r *Run) execute(ctx context.Context) {
	defer close(r.done)
	defer func() {
		if p := recover(); p != nil {
			r.result = Result{
				Outcome: Faulted,
				Err:     &Fault{IP: r.machine.ip, Err: fmt.Errorf("panic: %v", p)},
				Steps:   r.machine.Steps(),
			}
		}
	}()
	r.result = r.machine.Execute(ctx)
}

// Stop asks the run to halt before its next instruction. It does not wait.
func (r *Run) Stop() {
	r.machine.Stop()
}

// Done is closed when the run has ended.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run has ended and returns its result.
func (r *Run) Wait() Result {
	<-r.done
	return r.result
}

// Result returns the result and true if the run has ended.
func (r *Run) Result() (Result, bool) {
	select {
	case <-r.done:
		return r.result, true
	default:
		return Result{}, false
	}
}

// Steps returns the number of instructions executed so far.
func (r *Run) Steps() uint64 {
	return r.machine.Steps()
}

// Registers returns the store the run writes to.
func (r *Run) Registers() *Registers {
	return r.machine.Registers()
}
