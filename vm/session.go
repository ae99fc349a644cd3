package vm

import (
	"context"
	"sync"

	"github.com/maxstrauch/theia/pkg/bytecode"
)

// Session owns a register store and at most one in-flight run. Starting a
// run first stops and waits for the previous one.
type Session struct {
	regs *Registers
	opts []Option

	mu      sync.Mutex
	current *Run
}

// NewSession creates a session with an empty register store. The options
// apply to every run it starts.
func NewSession(opts ...Option) *Session {
	return &Session{
		regs: NewRegisters(),
		opts: opts,
	}
}

// Registers returns the session's register store.
func (s *Session) Registers() *Registers {
	return s.regs
}

// Run stops any in-flight run, waits for it to end and starts prog. Extra
// options are applied after the session's own.
func (s *Session) Run(ctx context.Context, prog bytecode.Program, opts ...Option) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.current.Stop()
		s.current.Wait()
	}

	all := make([]Option, 0, len(s.opts)+len(opts))
	all = append(all, s.opts...)
	all = append(all, opts...)

	s.current = Start(ctx, prog, s.regs, all...)
	return s.current
}

// Stop stops the in-flight run, if any, and waits for it to end. It reports
// whether a run was active.
func (s *Session) Stop() bool {
	s.mu.Lock()
	run := s.current
	s.mu.Unlock()

	if run == nil {
		return false
	}
	select {
	case <-run.Done():
		return false
	default:
	}
	run.Stop()
	run.Wait()
	return true
}

// Current returns the most recent run, which may have ended, or nil.
func (s *Session) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Running reports whether a run is in flight.
func (s *Session) Running() bool {
	run := s.Current()
	if run == nil {
		return false
	}
	_, ended := run.Result()
	return !ended
}
