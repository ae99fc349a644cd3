package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxstrauch/theia/compiler"
	"github.com/maxstrauch/theia/pkg/bytecode"
)

// program is a server-side reference to a compiled program.
type program struct {
	id       string
	code     bytecode.Program
	language compiler.Language
	source   string
	created  time.Time
	lastUsed atomic.Int64 // unix nanoseconds
}

// ProgramStore maps opaque string IDs to compiled programs, so a client can
// compile once and run the result repeatedly.
type ProgramStore struct {
	mu       sync.RWMutex
	programs map[string]*program
	nextID   atomic.Uint64
}

// NewProgramStore creates a new program store.
func NewProgramStore() *ProgramStore {
	return &ProgramStore{
		programs: make(map[string]*program),
	}
}

// Create registers a compiled program and returns an opaque ID.
func (s *ProgramStore) Create(code bytecode.Program, lang compiler.Language, source string) string {
	id := fmt.Sprintf("p-%d", s.nextID.Add(1))

	p := &program{
		id:       id,
		code:     code,
		language: lang,
		source:   source,
		created:  time.Now(),
	}
	p.lastUsed.Store(p.created.UnixNano())

	s.mu.Lock()
	s.programs[id] = p
	s.mu.Unlock()

	return id
}

// Lookup retrieves a program by ID.
func (s *ProgramStore) Lookup(id string) (*program, bool) {
	s.mu.RLock()
	p, ok := s.programs[id]
	s.mu.RUnlock()

	if ok {
		p.lastUsed.Store(time.Now().UnixNano())
	}
	return p, ok
}

// Release removes a program.
func (s *ProgramStore) Release(id string) {
	s.mu.Lock()
	delete(s.programs, id)
	s.mu.Unlock()
}

// Len returns the number of stored programs.
func (s *ProgramStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.programs)
}

// Sweep removes programs that haven't been accessed within the TTL.
func (s *ProgramStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, p := range s.programs {
		if p.lastUsed.Load() < cutoff {
			delete(s.programs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *ProgramStore) StartSweeper(interval, ttl time.Duration) func() {
	return startSweeper(interval, func() { s.Sweep(ttl) })
}
