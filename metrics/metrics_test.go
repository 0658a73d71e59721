package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRecordFlushAndCompaction(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.RecordFlush(FlushEvent{TotalBytes: 1024, MemtableRatio: 0.9})
	c.RecordCompaction(CompactionEvent{TotalInputBytes: 100, TotalOutputBytes: 60})

	snap := c.Snapshot()
	if len(snap.Flushes) != 1 || snap.Flushes[0].TotalBytes != 1024 {
		t.Fatalf("unexpected flush snapshot: %+v", snap.Flushes)
	}
	if len(snap.Compactions) != 1 {
		t.Fatalf("unexpected compaction snapshot: %+v", snap.Compactions)
	}
	if wa := snap.Compactions[0].WriteAmplification(); wa != 0.6 {
		t.Fatalf("WriteAmplification() = %v, want 0.6", wa)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected prometheus metric families to be registered")
	}
}

func TestRingBufferWrapsWithoutGrowing(t *testing.T) {
	r := newRing[int]()
	for i := 0; i < ringCapacity+50; i++ {
		r.push(i)
	}
	snap := r.snapshot()
	if len(snap) != ringCapacity {
		t.Fatalf("len(snapshot) = %d, want %d", len(snap), ringCapacity)
	}
	// oldest retained value should be 50 (the first 50 pushes evicted)
	if snap[0] != 50 {
		t.Fatalf("snapshot[0] = %d, want 50", snap[0])
	}
	if snap[len(snap)-1] != ringCapacity+49 {
		t.Fatalf("snapshot[last] = %d, want %d", snap[len(snap)-1], ringCapacity+49)
	}
}

func TestIdleSeriesRecorded(t *testing.T) {
	c := New(nil)
	c.RecordFlushIdle(0.2)
	c.RecordCompactionIdle(0.8)
	snap := c.Snapshot()
	if len(snap.FlushIdleFrac) != 1 || snap.FlushIdleFrac[0] != 0.2 {
		t.Fatalf("unexpected flush idle snapshot: %v", snap.FlushIdleFrac)
	}
	if len(snap.CompactionIdleFrac) != 1 || snap.CompactionIdleFrac[0] != 0.8 {
		t.Fatalf("unexpected compaction idle snapshot: %v", snap.CompactionIdleFrac)
	}
}
