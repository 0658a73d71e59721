package lsmforge

import (
	"sync/atomic"

	"github.com/ardonlin/lsmforge/compaction"
	"github.com/ardonlin/lsmforge/internal/epoch"
	"github.com/ardonlin/lsmforge/memtable"
)

// Version is one consistent read snapshot of the whole engine: the
// active memtable, every sealed-but-not-yet-flushed memtable (oldest
// first, matching flush order), and the on-level sorted runs. A reader
// loads one Version via VersionSet.Load and sees a point-in-time view
// no concurrent Put, flush, or compaction can mutate out from under it.
type Version struct {
	active *memtable.MemTable
	sealed []*memtable.MemTable
	levels *compaction.Snapshot
}

// VersionSet owns the atomic pointer readers load from and advances the
// epoch manager on every install: a reader that loaded the previous
// Version before the swap keeps it (and everything it reaches) alive
// for as long as its stack holds the reference, Go's ordinary
// reachability rules — the epoch manager's job is bounding how long a
// straggling reader can block Get/Scan's lock-free walk of that stale
// Version from a concurrent writer's perspective, not gating any
// explicit deallocation.
type VersionSet struct {
	current atomic.Pointer[Version]
	epoch   *epoch.Manager
}

// NewVersionSet returns a VersionSet seeded with an empty Version over
// numLevels levels.
func NewVersionSet(em *epoch.Manager, numLevels int) *VersionSet {
	vs := &VersionSet{epoch: em}
	vs.current.Store(&Version{
		active: memtable.New(),
		levels: compaction.NewSnapshot(numLevels),
	})
	return vs
}

// Load returns the current Version. Safe to call from any goroutine
// without locking.
func (vs *VersionSet) Load() *Version {
	return vs.current.Load()
}

// Swap installs next as the current Version and advances the epoch so
// readers that entered before the swap are recognized as having
// observed a since-superseded Version.
func (vs *VersionSet) Swap(next *Version) *Version {
	prev := vs.current.Swap(next)
	vs.epoch.Advance()
	return prev
}
