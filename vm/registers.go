package vm

import (
	"sort"
	"sync"
)

// Cell is a single register and its value.
type Cell struct {
	Index uint32 `json:"index" cbor:"1,keyasint"`
	Value int64  `json:"value" cbor:"2,keyasint"`
}

// Change describes a mutation of a register store. Cleared is set when the
// whole store was emptied; Index and Value are then zero.
type Change struct {
	Index   uint32
	Value   int64
	Cleared bool
}

// Registers maps register indices to values. Reading a register that was
// never written initializes it to 0, so it shows up in Snapshot afterwards.
//
// Registers is safe for concurrent use. A machine writes to it while other
// goroutines may read or edit it; those edits are not isolated from a run.
type Registers struct {
	mu    sync.RWMutex
	cells map[uint32]int64

	subMu   sync.Mutex
	subs    map[uint64]func(Change)
	nextSub uint64
}

// NewRegisters creates an empty register store.
func NewRegisters() *Registers {
	return &Registers{
		cells: make(map[uint32]int64),
		subs:  make(map[uint64]func(Change)),
	}
}

// Get returns the value of register index, initializing it to 0 on first
// access.
func (r *Registers) Get(index uint32) int64 {
	r.mu.RLock()
	v, ok := r.cells[index]
	r.mu.RUnlock()
	if ok {
		return v
	}

	r.mu.Lock()
	v, ok = r.cells[index]
	if !ok {
		r.cells[index] = 0
	}
	r.mu.Unlock()

	if !ok {
		r.notify(Change{Index: index})
	}
	return v
}

// Lookup returns the value of register index without initializing it.
func (r *Registers) Lookup(index uint32) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.cells[index]
	return v, ok
}

// Set stores value in register index.
func (r *Registers) Set(index uint32, value int64) {
	r.mu.Lock()
	r.cells[index] = value
	r.mu.Unlock()

	r.notify(Change{Index: index, Value: value})
}

// Load stores every cell, as if by repeated calls to Set.
func (r *Registers) Load(cells []Cell) {
	for _, c := range cells {
		r.Set(c.Index, c.Value)
	}
}

// Clear removes every register.
func (r *Registers) Clear() {
	r.mu.Lock()
	r.cells = make(map[uint32]int64)
	r.mu.Unlock()

	r.notify(Change{Cleared: true})
}

// Len returns the number of registers in the store.
func (r *Registers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cells)
}

// Snapshot returns every register ordered by ascending index.
func (r *Registers) Snapshot() []Cell {
	r.mu.RLock()
	cells := make([]Cell, 0, len(r.cells))
	for index, value := range r.cells {
		cells = append(cells, Cell{Index: index, Value: value})
	}
	r.mu.RUnlock()

	sort.Slice(cells, func(i, j int) bool { return cells[i].Index < cells[j].Index })
	return cells
}

// Subscribe registers fn to be called after every mutation. Callbacks run
// synchronously on the mutating goroutine, outside the store's lock, so they
// may read the store. The returned function removes the subscription.
func (r *Registers) Subscribe(fn func(Change)) (cancel func()) {
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

func (r *Registers) notify(c Change) {
	r.subMu.Lock()
	if len(r.subs) == 0 {
		r.subMu.Unlock()
		return
	}
	fns := make([]func(Change), 0, len(r.subs))
	for _, fn := range r.subs {
		fns = append(fns, fn)
	}
	r.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
