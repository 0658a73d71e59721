package compaction

import (
	"fmt"
	"testing"

	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/table"
)

func mkRun(t *testing.T, rank int, start, n int) *table.Table {
	t.Helper()
	b := table.NewBuilder()
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%05d", start+i)
		b.Add([]byte(k), &keys.Record{Kind: keys.KindSet, Value: []byte("v")})
	}
	return b.Finish(rank)
}

func TestTieredTriggersOnFanIn(t *testing.T) {
	snap := NewSnapshot(3)
	snap.Levels[0].Runs = []*table.Table{
		mkRun(t, 0, 0, 5),
		mkRun(t, 1, 10, 5),
		mkRun(t, 2, 20, 5),
	}
	strat := NewTiered(3, 2)

	if job := strat.PickJob(snap); job == nil {
		t.Fatal("expected a job once fan-in trigger is reached")
	} else if len(job.Inputs) != 3 || job.OutputLevel != 1 {
		t.Fatalf("unexpected job: %+v", job)
	}

	snap.Levels[0].Runs = snap.Levels[0].Runs[:2]
	if job := strat.PickJob(snap); job != nil {
		t.Fatalf("expected no job below trigger, got %+v", job)
	}
}

func TestTieredSkipsBusyRuns(t *testing.T) {
	snap := NewSnapshot(3)
	runs := []*table.Table{mkRun(t, 0, 0, 5), mkRun(t, 1, 10, 5), mkRun(t, 2, 20, 5)}
	snap.Levels[0].Runs = runs
	snap = snap.MarkBusy(runs[:1])
	strat := NewTiered(3, 2)
	if job := strat.PickJob(snap); job != nil {
		t.Fatalf("expected no job: only 2 idle runs below trigger of 3, got %+v", job)
	}
}

func TestTieredSkipsLevelWithAnyBusyRunEvenAboveFanIn(t *testing.T) {
	snap := NewSnapshot(3)
	runs := []*table.Table{mkRun(t, 0, 0, 5), mkRun(t, 1, 10, 5), mkRun(t, 2, 20, 5), mkRun(t, 3, 30, 5)}
	snap.Levels[0].Runs = runs
	// 3 of 4 runs are idle — at or above the fan-in trigger — but the
	// level must still be skipped whole because one run is busy.
	snap = snap.MarkBusy(runs[3:])
	strat := NewTiered(3, 2)
	if job := strat.PickJob(snap); job != nil {
		t.Fatalf("expected level to be skipped entirely while any run is busy, got %+v", job)
	}
}

func TestLeveledL0OverflowPicksAllAndOverlappingL1(t *testing.T) {
	snap := NewSnapshot(3)
	snap.Levels[0].Runs = []*table.Table{
		mkRun(t, 0, 0, 5),
		mkRun(t, 1, 3, 5),
	}
	snap.Levels[1].Runs = []*table.Table{
		mkRun(t, 10, 2, 3),  // overlaps
		mkRun(t, 11, 100, 3), // does not overlap
	}
	strat := NewLeveled(2, 10, 1<<20, 5)

	job := strat.PickJob(snap)
	if job == nil {
		t.Fatal("expected L0 compaction job")
	}
	if job.SourceLevel != 0 || job.OutputLevel != 1 {
		t.Fatalf("unexpected job levels: %+v", job)
	}
	if len(job.Inputs) != 2 {
		t.Fatalf("expected both L0 runs selected, got %d", len(job.Inputs))
	}
	if len(job.OutputLevelInputs) != 1 {
		t.Fatalf("expected exactly 1 overlapping L1 run, got %d", len(job.OutputLevelInputs))
	}
}

func TestLeveledScoresOverTargetLevel(t *testing.T) {
	snap := NewSnapshot(3)
	// L1 well over its target size should be picked
	snap.Levels[1].Runs = []*table.Table{mkRun(t, 0, 0, 1000)}
	strat := NewLeveled(100, 4, 10, 5) // tiny base size forces overflow

	job := strat.PickJob(snap)
	if job == nil {
		t.Fatal("expected a level compaction job")
	}
	if job.SourceLevel != 1 || job.OutputLevel != 2 {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestExecuteDropsTombstonesOnlyAtBottom(t *testing.T) {
	older := func() *table.Table {
		b := table.NewBuilder()
		b.Add([]byte("a"), &keys.Record{Kind: keys.KindSet, Value: []byte("old")})
		return b.Finish(1)
	}()
	newer := func() *table.Table {
		b := table.NewBuilder()
		b.Add([]byte("a"), &keys.Record{Kind: keys.KindDelete})
		return b.Finish(0)
	}()

	job := &Job{Inputs: []*table.Table{older, newer}, BottomLevel: false}
	out := Execute(job)
	if len(out) != 1 || out[0].NumEntries() != 1 {
		t.Fatalf("expected tombstone preserved mid-tree, got %d outputs", len(out))
	}
	rec, ok := out[0].Get([]byte("a"))
	if !ok || !rec.IsTombstone() {
		t.Fatal("expected surviving entry to be the tombstone")
	}

	job.BottomLevel = true
	out = Execute(job)
	if len(out) != 0 {
		t.Fatalf("expected tombstone dropped at bottom level, got %d outputs", len(out))
	}
}
