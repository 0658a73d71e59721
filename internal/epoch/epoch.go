// Package epoch provides epoch-based reclamation for structures shared
// between writers that retire objects and readers that may still be
// walking them lock-free. The engine uses Enter/Exit around its reads
// and Advance/Reclaim on its background ticks; no engine path calls
// Retire, so memtables, level vectors and dropped runs are freed by the
// garbage collector once unreferenced.
//
// A reader calls Enter before it starts observing shared state and Exit
// when done. A writer that retires an object calls Retire with a cleanup
// closure instead of freeing it immediately; Reclaim runs every closure
// whose retirement epoch is older than the oldest epoch any reader is
// still in.
package epoch

import (
	"sync"
	"sync/atomic"
)

// CleanupFunc runs once a retired object is provably unreachable by any
// active reader.
type CleanupFunc func()

type retirement struct {
	epoch   uint64
	cleanup CleanupFunc
}

// Manager tracks one global epoch counter, a reader count per epoch, and
// a queue of pending retirements. It is safe for concurrent use by any
// number of readers and writers.
type Manager struct {
	current      atomic.Uint64
	readerCounts sync.Map // epoch uint64 -> *atomic.Int32

	mu      sync.Mutex
	pending []retirement
}

// New returns a Manager starting at epoch 0.
func New() *Manager {
	return &Manager{}
}

// Enter marks the caller as an active reader in the current epoch and
// returns that epoch. The caller must pass it to Exit.
func (m *Manager) Enter() uint64 {
	for {
		e := m.current.Load()
		c, _ := m.readerCounts.LoadOrStore(e, &atomic.Int32{})
		counter := c.(*atomic.Int32)
		counter.Add(1)
		if e == m.current.Load() {
			return e
		}
		// the global epoch moved while we were registering; back out and retry
		counter.Add(-1)
	}
}

// Exit releases a reader previously admitted by Enter.
func (m *Manager) Exit(e uint64) {
	if c, ok := m.readerCounts.Load(e); ok {
		c.(*atomic.Int32).Add(-1)
	}
}

// Advance bumps the global epoch and returns the new value. Callers
// advance the epoch after publishing a structural change (e.g. installing
// a new level vector) so that objects retired before the change can later
// be reclaimed once readers drain out of the old epoch.
func (m *Manager) Advance() uint64 {
	return m.current.Add(1)
}

// Retire queues cleanup to run once no reader can still be in an epoch at
// or before the current one.
func (m *Manager) Retire(cleanup CleanupFunc) {
	e := m.current.Load()
	m.mu.Lock()
	m.pending = append(m.pending, retirement{epoch: e, cleanup: cleanup})
	m.mu.Unlock()
}

// oldestActive returns the oldest epoch with a live reader in it, or
// math.MaxUint64 if there are none.
func (m *Manager) oldestActive() uint64 {
	oldest := ^uint64(0)
	found := false
	m.readerCounts.Range(func(key, value any) bool {
		if value.(*atomic.Int32).Load() > 0 {
			found = true
			if e := key.(uint64); e < oldest {
				oldest = e
			}
		}
		return true
	})
	if !found {
		return ^uint64(0)
	}
	return oldest
}

// Reclaim runs cleanup for every retirement whose epoch is strictly older
// than the oldest epoch any reader is currently in, and returns how many
// ran. Safe to call periodically from a background goroutine or inline
// after a structural change.
func (m *Manager) Reclaim() int {
	safe := m.oldestActive()

	m.mu.Lock()
	var ready, rest []retirement
	for _, r := range m.pending {
		if r.epoch < safe {
			ready = append(ready, r)
		} else {
			rest = append(rest, r)
		}
	}
	m.pending = rest
	m.mu.Unlock()

	for _, r := range ready {
		r.cleanup()
	}
	return len(ready)
}

// Pending reports how many retirements are still waiting on readers to
// drain. Useful for tests and metrics.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
