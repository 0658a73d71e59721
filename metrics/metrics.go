// Package metrics collects the flush and compaction event series the
// adaptive tuner scores the system against, and mirrors the same
// counters through a Prometheus registry for external observability.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// FlushEvent records one memtable flush.
type FlushEvent struct {
	TotalBytes       int64
	MemtableRatio    float64 // fraction of WriteBufferSize the flushed memtable reached
	WriteBandwidthMB float64
	L0RunsAfter      int
}

// CompactionEvent records one compaction job.
type CompactionEvent struct {
	InputLevel          int
	OutputLevel          int
	DropRatio            float64 // fraction of input bytes dropped as tombstones/overwrites
	ReadBandwidthMB      float64
	WriteBandwidthMB     float64
	TotalMicros          int64
	TotalInputBytes      int64
	TotalOutputBytes     int64
	PendingCompactBytes  int64
	ImmutableMemtables   int
}

// WriteAmplification returns output/input bytes, RocksDB-style.
func (c *CompactionEvent) WriteAmplification() float64 {
	if c.TotalInputBytes == 0 {
		return 0
	}
	return float64(c.TotalOutputBytes) / float64(c.TotalInputBytes)
}

const ringCapacity = 256

// ring is a fixed-capacity append-only-looking buffer: once full, the
// oldest entry is overwritten rather than growing unboundedly, exactly
// the ring-buffer discipline event history needs for a long-running
// engine.
type ring[T any] struct {
	mu    sync.Mutex
	buf   []T
	start int
}

func newRing[T any]() *ring[T] {
	return &ring[T]{buf: make([]T, 0, ringCapacity)}
}

func (r *ring[T]) push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < ringCapacity {
		r.buf = append(r.buf, v)
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % ringCapacity
}

// snapshot returns the buffered values oldest-first.
func (r *ring[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.buf))
	for i := range out {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

// idleSample is one observation of a worker pool's idle time over an
// interval, used by the tuner to judge whether flush/compaction
// throughput is thread-starved or not.
type idleSample struct {
	idleFraction float64
}

// Collector aggregates flush events, compaction events, and per-pool
// idle-time series. One Collector is shared by the whole engine.
type Collector struct {
	flushes      *ring[FlushEvent]
	compactions  *ring[CompactionEvent]
	flushIdle    *ring[idleSample]
	compactIdle  *ring[idleSample]

	promFlushBytes      prometheus.Counter
	promCompactionBytes prometheus.Counter
	promWriteAmp        prometheus.Histogram
}

// New returns a Collector. If reg is non-nil, the collector registers
// its Prometheus instruments on it; a nil registry is valid and simply
// skips external exposition (e.g. in unit tests).
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		flushes:     newRing[FlushEvent](),
		compactions: newRing[CompactionEvent](),
		flushIdle:   newRing[idleSample](),
		compactIdle: newRing[idleSample](),
		promFlushBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmforge_flush_bytes_total",
			Help: "Total bytes written out by memtable flushes.",
		}),
		promCompactionBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lsmforge_compaction_bytes_total",
			Help: "Total bytes written out by compactions.",
		}),
		promWriteAmp: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lsmforge_compaction_write_amplification",
			Help:    "Per-compaction write amplification (output bytes / input bytes).",
			Buckets: prometheus.LinearBuckets(0, 0.5, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promFlushBytes, c.promCompactionBytes, c.promWriteAmp)
	}
	return c
}

// RecordFlush appends a flush event.
func (c *Collector) RecordFlush(e FlushEvent) {
	c.flushes.push(e)
	c.promFlushBytes.Add(float64(e.TotalBytes))
}

// RecordCompaction appends a compaction event.
func (c *Collector) RecordCompaction(e CompactionEvent) {
	c.compactions.push(e)
	c.promCompactionBytes.Add(float64(e.TotalOutputBytes))
	c.promWriteAmp.Observe(e.WriteAmplification())
}

// RecordFlushIdle appends one idle-fraction sample for the flush pool.
func (c *Collector) RecordFlushIdle(fraction float64) {
	c.flushIdle.push(idleSample{idleFraction: fraction})
}

// RecordCompactionIdle appends one idle-fraction sample for the
// compaction pool.
func (c *Collector) RecordCompactionIdle(fraction float64) {
	c.compactIdle.push(idleSample{idleFraction: fraction})
}

// Snapshot is a consistent point-in-time copy of every series, handed
// to the tuner each scoring round.
type Snapshot struct {
	Flushes           []FlushEvent
	Compactions       []CompactionEvent
	FlushIdleFrac     []float64
	CompactionIdleFrac []float64
}

// Snapshot returns the current state of every series.
func (c *Collector) Snapshot() Snapshot {
	fi := c.flushIdle.snapshot()
	ci := c.compactIdle.snapshot()
	fiFrac := make([]float64, len(fi))
	for i, s := range fi {
		fiFrac[i] = s.idleFraction
	}
	ciFrac := make([]float64, len(ci))
	for i, s := range ci {
		ciFrac[i] = s.idleFraction
	}
	return Snapshot{
		Flushes:            c.flushes.snapshot(),
		Compactions:        c.compactions.snapshot(),
		FlushIdleFrac:      fiFrac,
		CompactionIdleFrac: ciFrac,
	}
}
