package compaction

import "github.com/ardonlin/lsmforge/table"

// Tiered implements size-tiered compaction: once a level accumulates
// TriggerFanIn runs, every run currently resident at that level is
// merged into a single output run one level down; a level holding any
// run already busy in another job is not compacted that cycle. There
// is no overlap constraint within a tiered level — runs simply
// accumulate until the trigger fires.
type Tiered struct {
	// TriggerFanIn is the number of runs at a level that triggers a
	// merge-all compaction of that level.
	TriggerFanIn int
	// MaxLevel bounds how deep the tier chain grows; a level at
	// MaxLevel is never itself compacted further (it's the terminal
	// tier).
	MaxLevel int
}

// NewTiered returns a Tiered strategy. triggerFanIn must be >= 2;
// maxLevel must be >= 1.
func NewTiered(triggerFanIn, maxLevel int) *Tiered {
	return &Tiered{TriggerFanIn: triggerFanIn, MaxLevel: maxLevel}
}

// PickJob implements Strategy. A level is only a candidate once every
// run currently resident there is idle: the job always takes all runs
// of the level as input, never a partial subset, so a level with any
// busy run is skipped entirely this cycle rather than compacted short.
func (t *Tiered) PickJob(snap *Snapshot) *Job {
	for lvl := 0; lvl < t.MaxLevel && lvl+1 < len(snap.Levels); lvl++ {
		runs := snap.Levels[lvl].Runs
		var idle []*table.Table
		for _, r := range runs {
			if !snap.Busy[r] {
				idle = append(idle, r)
			}
		}
		if len(idle) != len(runs) || len(idle) < t.TriggerFanIn {
			continue
		}
		outputLevel := lvl + 1
		return &Job{
			SourceLevel: lvl,
			Inputs:      idle,
			OutputLevel: outputLevel,
			BottomLevel: outputLevel >= t.MaxLevel || outputLevel >= len(snap.Levels)-1,
		}
	}
	return nil
}
