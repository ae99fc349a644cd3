package vm

import (
	"errors"
	"fmt"
	"time"

	"github.com/maxstrauch/theia/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Outcome and Result
// ---------------------------------------------------------------------------

// Outcome is how an execution ended.
type Outcome int

const (
	// Completed means the instruction pointer ran past the end of the program.
	Completed Outcome = iota
	// Terminated means the run was stopped from outside before it completed.
	Terminated
	// Faulted means the program hit a runtime fault.
	Faulted
)

var outcomeNames = [...]string{
	Completed:  "completed",
	Terminated: "terminated",
	Faulted:    "fault",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// MarshalText encodes the outcome by name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// UnmarshalText decodes an outcome name.
func (o *Outcome) UnmarshalText(text []byte) error {
	for i, name := range outcomeNames {
		if name == string(text) {
			*o = Outcome(i)
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", text)
}

// Result reports the end of an execution.
type Result struct {
	Outcome  Outcome
	Err      error         // *Fault when Outcome is Faulted, nil otherwise
	Started  time.Time
	Elapsed  time.Duration // wall time spent executing
	Steps    uint64        // instructions executed
	MaxDepth int           // deepest loop-counter stack seen
}

func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %v (%d steps in %s)", r.Outcome, r.Err, r.Steps, r.Elapsed)
	}
	return fmt.Sprintf("%s (%d steps in %s)", r.Outcome, r.Steps, r.Elapsed)
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

// Sentinel errors wrapped by Fault.
var (
	ErrUnknownOpcode  = errors.New("unknown opcode")
	ErrStackUnderflow = errors.New("stack underflow")
	ErrTruncated      = errors.New("truncated instruction")
	ErrNotRegister    = errors.New("operand is not a register")
)

// Fault is a runtime error. It records where execution stopped.
type Fault struct {
	IP  int
	Op  bytecode.Opcode
	Err error // one of the sentinel errors above
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault at %d (%s): %v", f.IP, f.Op, f.Err)
}

func (f *Fault) Unwrap() error { return f.Err }
