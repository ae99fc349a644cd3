package vm

import (
	"sync"
	"testing"
)

func TestRegistersImplicitInit(t *testing.T) {
	regs := NewRegisters()
	if _, ok := regs.Lookup(7); ok {
		t.Fatal("fresh store has x7")
	}
	if v := regs.Get(7); v != 0 {
		t.Errorf("Get(7) = %d, want 0", v)
	}
	if v, ok := regs.Lookup(7); !ok || v != 0 {
		t.Errorf("Lookup(7) = %d, %v after Get", v, ok)
	}
	if regs.Len() != 1 {
		t.Errorf("Len = %d, want 1", regs.Len())
	}
}

func TestRegistersSnapshotOrder(t *testing.T) {
	regs := NewRegisters()
	for _, i := range []uint32{42, 3, 17, 0, 1000, 5} {
		regs.Set(i, int64(i)*10)
	}

	snap := regs.Snapshot()
	if len(snap) != 6 {
		t.Fatalf("len = %d, want 6", len(snap))
	}
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Index >= snap[i].Index {
			t.Errorf("snapshot not ascending at %d: %v", i, snap)
		}
	}
	for _, c := range snap {
		if c.Value != int64(c.Index)*10 {
			t.Errorf("x%d = %d", c.Index, c.Value)
		}
	}
}

func TestRegistersClear(t *testing.T) {
	regs := NewRegisters()
	regs.Set(1, 1)
	regs.Set(2, 2)
	regs.Clear()
	if regs.Len() != 0 || len(regs.Snapshot()) != 0 {
		t.Errorf("store not empty after Clear: %v", regs.Snapshot())
	}
	if regs.Get(1) != 0 {
		t.Error("cleared register kept its value")
	}
}

func TestRegistersSubscribe(t *testing.T) {
	regs := NewRegisters()

	var changes []Change
	cancel := regs.Subscribe(func(c Change) {
		// Callbacks run outside the lock and may read the store.
		_ = regs.Snapshot()
		changes = append(changes, c)
	})

	regs.Set(1, 5)
	regs.Get(2) // implicit init notifies
	regs.Get(2) // already present, no notification
	regs.Clear()

	want := []Change{
		{Index: 1, Value: 5},
		{Index: 2},
		{Cleared: true},
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("change[%d] = %+v, want %+v", i, changes[i], want[i])
		}
	}

	cancel()
	cancel() // idempotent
	regs.Set(3, 3)
	if len(changes) != len(want) {
		t.Error("callback invoked after cancel")
	}
}

func TestRegistersConcurrentAccess(t *testing.T) {
	regs := NewRegisters()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				idx := uint32(i % 16)
				switch (g + i) % 5 {
				case 0:
					regs.Set(idx, int64(i))
				case 1:
					regs.Get(idx)
				case 2:
					regs.Snapshot()
				case 3:
					regs.Lookup(idx)
				case 4:
					if i%100 == 0 {
						regs.Clear()
					}
				}
			}
		}(g)
	}

	wg.Wait()
	snap := regs.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].Index >= snap[i].Index {
			t.Fatalf("snapshot out of order: %v", snap)
		}
	}
}
