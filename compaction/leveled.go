package compaction

import (
	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/table"
)

// Leveled implements classic leveled compaction: L0 holds overlapping
// runs straight from memtable flushes; once it accumulates MaxL0Runs
// runs they are all merged down into L1. From L1 on, each level's
// target size is BaseSizeL1 * Fanout^(level-1); the fullest
// over-target level is compacted one run at a time (round-robin by key
// range) against whatever L(n+1) runs its key range overlaps.
type Leveled struct {
	MaxL0Runs  int
	Fanout     int
	BaseSizeL1 int64
	MaxLevel   int

	// next remembers, per level, the key to resume round-robin
	// selection from so consecutive compactions sweep the whole level
	// instead of repeatedly picking the same run.
	next map[int][]byte
}

// NewLeveled returns a Leveled strategy.
func NewLeveled(maxL0Runs, fanout int, baseSizeL1 int64, maxLevel int) *Leveled {
	return &Leveled{MaxL0Runs: maxL0Runs, Fanout: fanout, BaseSizeL1: baseSizeL1, MaxLevel: maxLevel, next: map[int][]byte{}}
}

func (lv *Leveled) targetSize(level int) int64 {
	size := lv.BaseSizeL1
	for i := 1; i < level; i++ {
		size *= int64(lv.Fanout)
	}
	return size
}

func overlapping(candidates []*table.Table, smallest, largest []byte) []*table.Table {
	var out []*table.Table
	// [smallest, largest] is inclusive on both ends, so this cannot use
	// Table.Overlaps, whose limit is exclusive.
	for _, t := range candidates {
		if t.NumEntries() > 0 &&
			keys.Compare(t.SmallestKey(), largest) <= 0 &&
			keys.Compare(t.LargestKey(), smallest) >= 0 {
			out = append(out, t)
		}
	}
	return out
}

func keyRange(runs []*table.Table) (smallest, largest []byte) {
	for _, r := range runs {
		if smallest == nil || keys.Compare(r.SmallestKey(), smallest) < 0 {
			smallest = r.SmallestKey()
		}
		if largest == nil || keys.Compare(r.LargestKey(), largest) > 0 {
			largest = r.LargestKey()
		}
	}
	return smallest, largest
}

// PickJob implements Strategy. L0 overflow takes priority over any
// single over-target level, matching how L0 backpressure is the most
// urgent signal in the read/write path too.
func (lv *Leveled) PickJob(snap *Snapshot) *Job {
	if job := lv.pickL0(snap); job != nil {
		return job
	}
	return lv.pickLevel(snap)
}

func (lv *Leveled) pickL0(snap *Snapshot) *Job {
	var idle []*table.Table
	for _, r := range snap.Levels[0].Runs {
		if !snap.Busy[r] {
			idle = append(idle, r)
		}
	}
	if len(idle) < lv.MaxL0Runs {
		return nil
	}
	smallest, largest := keyRange(idle)
	var l1 []*table.Table
	if len(snap.Levels) > 1 {
		l1 = overlapping(snap.Levels[1].Runs, smallest, largest)
	}
	return &Job{
		SourceLevel:       0,
		Inputs:            idle,
		OutputLevel:       1,
		OutputLevelInputs: l1,
		BottomLevel:       len(snap.Levels) <= 2,
		SortOutput:        true,
	}
}

// pickLevel scores every level L1..MaxLevel-1 that has a level below
// it in snap (the deepest level is never a source) by ByteSize/targetSize
// and compacts the highest-scoring one over 1.0, picking the next run
// in round-robin key order so repeated compactions sweep the level
// rather than always hitting the same run.
func (lv *Leveled) pickLevel(snap *Snapshot) *Job {
	bestLevel := -1
	bestScore := 1.0
	for level := 1; level < lv.MaxLevel && level+1 < len(snap.Levels); level++ {
		target := lv.targetSize(level)
		if target <= 0 {
			continue
		}
		score := float64(snap.Levels[level].ByteSize()) / float64(target)
		if score > bestScore {
			bestScore = score
			bestLevel = level
		}
	}
	if bestLevel == -1 {
		return nil
	}

	runs := snap.Levels[bestLevel].Runs
	var idle []*table.Table
	for _, r := range runs {
		if !snap.Busy[r] {
			idle = append(idle, r)
		}
	}
	if len(idle) == 0 {
		return nil
	}

	chosen := lv.pickRoundRobin(bestLevel, idle)
	if chosen == nil {
		return nil
	}
	smallest, largest := chosen.SmallestKey(), chosen.LargestKey()
	var outputInputs []*table.Table
	if bestLevel+1 < len(snap.Levels) {
		outputInputs = overlapping(snap.Levels[bestLevel+1].Runs, smallest, largest)
	}
	return &Job{
		SourceLevel:       bestLevel,
		Inputs:            []*table.Table{chosen},
		OutputLevel:       bestLevel + 1,
		OutputLevelInputs: outputInputs,
		BottomLevel:       bestLevel+1 >= len(snap.Levels)-1,
		SortOutput:        true,
	}
}

func (lv *Leveled) pickRoundRobin(level int, idle []*table.Table) *table.Table {
	resume := lv.next[level]
	var chosen *table.Table
	for _, r := range idle {
		if resume == nil || keys.Compare(r.SmallestKey(), resume) >= 0 {
			chosen = r
			break
		}
	}
	if chosen == nil {
		chosen = idle[0]
	}
	lv.next[level] = append([]byte(nil), chosen.LargestKey()...)
	return chosen
}
