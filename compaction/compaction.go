// Package compaction implements the level hierarchy and the two
// compaction strategies (tiered and leveled) that decide when and how
// to merge sorted runs together.
package compaction

import (
	"sort"

	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/table"
)

// Level holds every run currently resident at a given level. Runs in
// Level 0 may overlap each other in key range. Under the leveled
// strategy runs at Level 1 and above never do; under the tiered
// strategy they may, and are kept newest first instead.
type Level struct {
	Runs []*table.Table
}

// ByteSize sums the size of every run in the level.
func (lv *Level) ByteSize() int64 {
	var n int64
	for _, r := range lv.Runs {
		n += r.ByteSize()
	}
	return n
}

// Snapshot is an immutable, point-in-time view of the whole level
// hierarchy — the "level vector" the read path, the picker, and a
// running compaction all share a reference to. A new Snapshot is built
// and atomically swapped in by the engine each time a flush or a
// compaction installs new runs; nothing ever mutates a Snapshot in
// place; that's what keeps reads lock-free against background work.
type Snapshot struct {
	Levels []Level
	// Busy marks runs currently being read by an in-flight compaction
	// job, by pointer identity, so the picker doesn't select them again
	// until that job completes.
	Busy map[*table.Table]bool
}

// NewSnapshot returns an empty Snapshot with numLevels levels (L0..Ln-1).
func NewSnapshot(numLevels int) *Snapshot {
	return &Snapshot{Levels: make([]Level, numLevels), Busy: map[*table.Table]bool{}}
}

// clone returns a shallow copy whose Levels slice (and each Level's Runs
// slice) is independently mutable, but whose *table.Table entries are
// shared — tables are immutable once built, so sharing them is safe.
func (s *Snapshot) clone() *Snapshot {
	out := &Snapshot{Levels: make([]Level, len(s.Levels)), Busy: map[*table.Table]bool{}}
	for i, lv := range s.Levels {
		out.Levels[i].Runs = append([]*table.Table(nil), lv.Runs...)
	}
	for t := range s.Busy {
		out.Busy[t] = true
	}
	return out
}

// WithFlushedRun returns a new Snapshot with run added to the front of
// L0 (newest first), leaving the receiver untouched.
func (s *Snapshot) WithFlushedRun(run *table.Table) *Snapshot {
	out := s.clone()
	out.Levels[0].Runs = append([]*table.Table{run}, out.Levels[0].Runs...)
	return out
}

// MarkBusy returns a new Snapshot with runs flagged busy.
func (s *Snapshot) MarkBusy(runs []*table.Table) *Snapshot {
	out := s.clone()
	for _, r := range runs {
		out.Busy[r] = true
	}
	return out
}

// WithCompactionResult returns a new Snapshot with inputs removed from
// their source levels and outputs installed at outputLevel.
func (s *Snapshot) WithCompactionResult(job *Job, outputs []*table.Table) *Snapshot {
	out := s.clone()
	remove := map[*table.Table]bool{}
	for _, r := range job.Inputs {
		remove[r] = true
		delete(out.Busy, r)
	}
	for _, r := range job.OutputLevelInputs {
		remove[r] = true
		delete(out.Busy, r)
	}
	for lvlIdx := range out.Levels {
		kept := out.Levels[lvlIdx].Runs[:0:0]
		for _, r := range out.Levels[lvlIdx].Runs {
			if !remove[r] {
				kept = append(kept, r)
			}
		}
		out.Levels[lvlIdx].Runs = kept
	}
	if job.OutputLevel == 0 {
		out.Levels[0].Runs = append(outputs, out.Levels[0].Runs...)
	} else if job.SortOutput {
		// Leveled only: the output level's runs never overlap in key
		// range, so the read path is free to order them by key instead
		// of by recency.
		out.Levels[job.OutputLevel].Runs = append(out.Levels[job.OutputLevel].Runs, outputs...)
		sortByKey(out.Levels[job.OutputLevel].Runs)
	} else {
		// Tiered: runs at the output level may still overlap, so
		// buildSources's age-ordering (newest first, by position)
		// must be preserved — the new merged run is the newest thing
		// at this level, so it goes to the front.
		out.Levels[job.OutputLevel].Runs = append(append([]*table.Table(nil), outputs...), out.Levels[job.OutputLevel].Runs...)
	}
	return out
}

func sortByKey(runs []*table.Table) {
	sort.Slice(runs, func(i, j int) bool {
		return keys.Compare(runs[i].SmallestKey(), runs[j].SmallestKey()) < 0
	})
}

// Job describes one compaction: a set of input runs drawn from
// SourceLevel, a set of overlapping runs from OutputLevel already
// resident there (leveled strategy only; empty for tiered), and the
// level the merged output should land at.
type Job struct {
	SourceLevel       int
	Inputs            []*table.Table
	OutputLevel       int
	OutputLevelInputs []*table.Table
	// BottomLevel is true when this job's output level is the deepest
	// level of the hierarchy, meaning it is safe to drop tombstones:
	// nothing older can still be hiding beneath the merge. Whether the
	// levels below the output level are empty is not considered.
	BottomLevel bool
	// SortOutput is true for the leveled strategy, whose output levels
	// never hold overlapping runs and so may be freely key-sorted; it
	// is false for tiered, whose output level runs must stay in age
	// order (newest first) because they can still overlap.
	SortOutput bool
}

// AllInputs returns every run this job reads from.
func (j *Job) AllInputs() []*table.Table {
	return append(append([]*table.Table(nil), j.Inputs...), j.OutputLevelInputs...)
}

// Strategy decides when a level hierarchy needs compaction and how to
// carry one out. Tiered and Leveled are the two strategies this module
// ships; both are picked once at engine construction time and used for
// the whole lifetime of the engine, not mixed per level.
type Strategy interface {
	// PickJob inspects snap and returns the next compaction job to run,
	// or nil if nothing needs compacting right now.
	PickJob(snap *Snapshot) *Job
}
