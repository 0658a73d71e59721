package epoch

import (
	"sync"
	"testing"
)

func TestReclaimRunsAfterReaderExits(t *testing.T) {
	m := New()
	tok := m.Enter()

	ran := false
	m.Retire(func() { ran = true })
	m.Advance()

	if n := m.Reclaim(); n != 0 {
		t.Fatalf("Reclaim() = %d while reader still active, want 0", n)
	}
	if ran {
		t.Fatal("cleanup ran while reader still active")
	}

	m.Exit(tok)
	if n := m.Reclaim(); n != 1 {
		t.Fatalf("Reclaim() = %d after reader exited, want 1", n)
	}
	if !ran {
		t.Fatal("cleanup did not run after reader exited")
	}
	if p := m.Pending(); p != 0 {
		t.Fatalf("Pending() = %d, want 0", p)
	}
}

func TestReclaimWaitsForOldestOfMultipleReaders(t *testing.T) {
	m := New()
	tok1 := m.Enter()
	m.Advance()
	tok2 := m.Enter()

	var ran bool
	m.Retire(func() { ran = true })

	m.Exit(tok2)
	if n := m.Reclaim(); n != 0 {
		t.Fatalf("Reclaim() = %d, want 0 while the older reader is still active", n)
	}

	m.Exit(tok1)
	if n := m.Reclaim(); n != 1 {
		t.Fatalf("Reclaim() = %d, want 1 once every reader has exited", n)
	}
	if !ran {
		t.Fatal("cleanup did not run")
	}
}

func TestEnterBacksOutOnConcurrentAdvance(t *testing.T) {
	m := New()
	const readers = 64

	var wg sync.WaitGroup
	wg.Add(readers)
	for range readers {
		go func() {
			defer wg.Done()
			tok := m.Enter()
			m.Exit(tok)
		}()
	}
	for range 8 {
		m.Advance()
	}
	wg.Wait()

	if oldest := m.oldestActive(); oldest != ^uint64(0) {
		t.Fatalf("reader count still held in epoch %d after every reader exited", oldest)
	}
	if p := m.Pending(); p != 0 {
		t.Fatalf("Pending() = %d, want 0", p)
	}
}

func TestPendingReflectsUnreclaimedRetirements(t *testing.T) {
	m := New()
	tok := m.Enter()
	m.Retire(func() {})
	m.Retire(func() {})
	m.Advance()

	if p := m.Pending(); p != 2 {
		t.Fatalf("Pending() = %d, want 2", p)
	}
	m.Exit(tok)
	m.Reclaim()
	if p := m.Pending(); p != 0 {
		t.Fatalf("Pending() = %d, want 0 after Reclaim", p)
	}
}
