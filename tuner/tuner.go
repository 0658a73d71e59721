// Package tuner implements the adaptive thread-count/memtable-size
// controller: each round it scores the engine against metrics.Snapshot,
// classifies the bottleneck (thread-starved, overflowing L0, tiny
// memtable, idle, ...) and votes an additive-increase/multiplicative-
// decrease adjustment, emitting ChangePoints the engine applies.
package tuner

import "github.com/ardonlin/lsmforge/metrics"

// SystemScores is one round's quantified view of the system. Every
// field mirrors a series the metrics collector already tracks.
type SystemScores struct {
	MemtableSpeedMBs   float64 // MB flushed across the retained window (a volume, not divided by elapsed time)
	ActiveSizeRatio    float64 // most recent flush's memtable size / write buffer size
	ImmutableNumber    int     // sealed-but-unflushed memtable count
	FlushSpeedAvg      float64 // MB/sec
	FlushSpeedVar      float64
	L0Num              float64 // L0 run count / MaxL0Runs
	L0DropRatio        float64
	EstimateCompactionBytes float64 // pending compaction bytes / soft limit
	CompactionIdleTime float64 // compaction pool idle fraction
	FlushIdleTime      float64 // flush pool idle fraction
	FlushNumbers       int     // flushes observed this round
}

// Add returns the element-wise sum of s and o.
//
// The upstream tuner this is modeled on names its accumulator method
// operator+ but implements it as subtraction, which silently corrupts
// every rolling average fed from it; this is a true addition.
func (s SystemScores) Add(o SystemScores) SystemScores {
	return SystemScores{
		MemtableSpeedMBs:       s.MemtableSpeedMBs + o.MemtableSpeedMBs,
		ActiveSizeRatio:        s.ActiveSizeRatio + o.ActiveSizeRatio,
		ImmutableNumber:        s.ImmutableNumber + o.ImmutableNumber,
		FlushSpeedAvg:          s.FlushSpeedAvg + o.FlushSpeedAvg,
		FlushSpeedVar:          s.FlushSpeedVar + o.FlushSpeedVar,
		L0Num:                  s.L0Num + o.L0Num,
		L0DropRatio:            s.L0DropRatio + o.L0DropRatio,
		EstimateCompactionBytes: s.EstimateCompactionBytes + o.EstimateCompactionBytes,
		CompactionIdleTime:     s.CompactionIdleTime + o.CompactionIdleTime,
		FlushIdleTime:          s.FlushIdleTime + o.FlushIdleTime,
		FlushNumbers:           s.FlushNumbers + o.FlushNumbers,
	}
}

// Sub returns the element-wise difference s - o, the basis for the
// per-round gradient.
func (s SystemScores) Sub(o SystemScores) SystemScores {
	return SystemScores{
		MemtableSpeedMBs:       s.MemtableSpeedMBs - o.MemtableSpeedMBs,
		ActiveSizeRatio:        s.ActiveSizeRatio - o.ActiveSizeRatio,
		ImmutableNumber:        s.ImmutableNumber - o.ImmutableNumber,
		FlushSpeedAvg:          s.FlushSpeedAvg - o.FlushSpeedAvg,
		FlushSpeedVar:          s.FlushSpeedVar - o.FlushSpeedVar,
		L0Num:                  s.L0Num - o.L0Num,
		L0DropRatio:            s.L0DropRatio - o.L0DropRatio,
		EstimateCompactionBytes: s.EstimateCompactionBytes - o.EstimateCompactionBytes,
		CompactionIdleTime:     s.CompactionIdleTime - o.CompactionIdleTime,
		FlushIdleTime:          s.FlushIdleTime - o.FlushIdleTime,
		FlushNumbers:           s.FlushNumbers - o.FlushNumbers,
	}
}

// Div returns every field of s divided by n, used to average a round
// of accumulated scores.
func (s SystemScores) Div(n int) SystemScores {
	d := float64(n)
	return SystemScores{
		MemtableSpeedMBs:       s.MemtableSpeedMBs / d,
		ActiveSizeRatio:        s.ActiveSizeRatio / d,
		ImmutableNumber:        s.ImmutableNumber / n,
		FlushSpeedAvg:          s.FlushSpeedAvg / d,
		FlushSpeedVar:          s.FlushSpeedVar / d,
		L0Num:                  s.L0Num / d,
		L0DropRatio:            s.L0DropRatio / d,
		EstimateCompactionBytes: s.EstimateCompactionBytes / d,
		CompactionIdleTime:     s.CompactionIdleTime / d,
		FlushIdleTime:          s.FlushIdleTime / d,
		FlushNumbers:           s.FlushNumbers / n,
	}
}

// ThreadState classifies which bottleneck, if any, the worker pool is
// suffering from this round.
type ThreadState int

const (
	ThreadL0Overflow ThreadState = iota
	ThreadRedundancyDataOverflow
	ThreadGoodCondition
	ThreadIdle
	ThreadMemtableOverflow
)

// BatchState classifies whether the memtable size is currently well
// chosen.
type BatchState int

const (
	BatchTinyMemtable BatchState = iota
	BatchOverflowFree
	BatchFlushDecrease
)

// OpType is one AIMD step: grow linearly, cut in half, or hold.
type OpType int

const (
	OpLinearIncrease OpType = iota
	OpHalf
	OpKeep
)

// TuningOP bundles the chosen step for both tunables in one round.
type TuningOP struct {
	BatchOp  OpType
	ThreadOp OpType
}

// ChangePoint is a single applied configuration change, returned to
// the engine for logging and for Options mutation.
type ChangePoint struct {
	Option string
	Value  int64
}

// Thresholds holds the classifier cutoffs, split out from Tuner so
// tests can exercise boundary behavior without touching engine wiring.
type Thresholds struct {
	MemtableSpeedStall float64 // fraction of max_scores.MemtableSpeedMBs counted as a stall
	FlushSpeedStall     float64 // fraction of max_scores.FlushSpeedAvg counted as slow flushing
	L0OverflowHigh      float64
	L0OverflowLow       float64
	RedundancyOverflow  float64
	IdleHigh            float64
	ActiveSizeHigh      float64
	BusyThreadCount     int
	FlushCountDrop      float64
}

// DefaultThresholds mirrors the constants the upstream controller
// hard-codes into its classifier branches.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MemtableSpeedStall: 0.7,
		FlushSpeedStall:    0.5,
		L0OverflowHigh:     0.7,
		L0OverflowLow:      0.5,
		RedundancyOverflow: 0.5,
		IdleHigh:           2.5,
		ActiveSizeHigh:     0.5,
		BusyThreadCount:    6,
		FlushCountDrop:     0.3,
	}
}

// Tuner scores each round's metrics.Snapshot and votes thread-count
// and memtable-size adjustments, clamped to the configured bounds.
type Tuner struct {
	Thresholds Thresholds

	CoreCount        int
	MinThreads       int
	MinMemtableSize  int64
	MaxMemtableSize  int64

	maxScores   SystemScores
	lastThread  ThreadState
	lastBatch   BatchState
	round       int

	currentThreads int
	currentBatchBytes int64
}

// New returns a Tuner seeded with the engine's starting thread count
// and memtable size.
func New(coreCount, startThreads int, startBatchBytes, minMemtableSize, maxMemtableSize int64) *Tuner {
	minThreads := 2
	if coreCount < minThreads {
		minThreads = coreCount
	}
	return &Tuner{
		Thresholds:        DefaultThresholds(),
		CoreCount:         coreCount,
		MinThreads:        minThreads,
		MinMemtableSize:   minMemtableSize,
		MaxMemtableSize:   maxMemtableSize,
		currentThreads:    startThreads,
		currentBatchBytes: startBatchBytes,
	}
}

// Score reduces a metrics.Snapshot into one SystemScores for the round.
// Only the series' most recent sample is used for instantaneous
// figures (idle fractions, ratios); FlushNumbers and MemtableSpeedMBs
// are computed over the whole retained window, matching how the
// collector's ring buffer represents "this round" once it has wrapped.
func Score(snap metrics.Snapshot, maxL0Runs int, softLimitBytes int64) SystemScores {
	var s SystemScores

	s.FlushNumbers = len(snap.Flushes)
	var totalBytes int64
	var speedSum float64
	for _, f := range snap.Flushes {
		totalBytes += f.TotalBytes
		speedSum += f.WriteBandwidthMB
	}
	if n := len(snap.Flushes); n > 0 {
		s.FlushSpeedAvg = speedSum / float64(n)
		last := snap.Flushes[n-1]
		s.ActiveSizeRatio = last.MemtableRatio
		s.L0Num = float64(last.L0RunsAfter) / float64(maxL0Runs)
	}
	s.MemtableSpeedMBs = float64(totalBytes) / (1 << 20)

	if n := len(snap.Compactions); n > 0 {
		last := snap.Compactions[n-1]
		s.ImmutableNumber = last.ImmutableMemtables
		s.L0DropRatio = last.DropRatio
		if softLimitBytes > 0 {
			s.EstimateCompactionBytes = float64(last.PendingCompactBytes) / float64(softLimitBytes)
		}
	}

	if n := len(snap.FlushIdleFrac); n > 0 {
		s.FlushIdleTime = snap.FlushIdleFrac[n-1]
	}
	if n := len(snap.CompactionIdleFrac); n > 0 {
		s.CompactionIdleTime = snap.CompactionIdleFrac[n-1]
	}
	return s
}

// updateMax keeps the running best-ever value for every field the
// classifiers compare against, the same "high-water mark" baseline
// the upstream controller calls max_scores.
func (t *Tuner) updateMax(s SystemScores) {
	if s.MemtableSpeedMBs > t.maxScores.MemtableSpeedMBs {
		t.maxScores.MemtableSpeedMBs = s.MemtableSpeedMBs
	}
	if s.FlushSpeedAvg > t.maxScores.FlushSpeedAvg {
		t.maxScores.FlushSpeedAvg = s.FlushSpeedAvg
	}
	if s.FlushNumbers > t.maxScores.FlushNumbers {
		t.maxScores.FlushNumbers = s.FlushNumbers
	}
}

func (t *Tuner) locateThreadState(s SystemScores) ThreadState {
	th := t.Thresholds
	if s.MemtableSpeedMBs < t.maxScores.MemtableSpeedMBs*th.MemtableSpeedStall {
		flushSlow := s.FlushSpeedAvg <= t.maxScores.FlushSpeedAvg*th.FlushSpeedStall
		if s.ImmutableNumber >= 1 && flushSlow && t.currentThreads > th.BusyThreadCount {
			return ThreadMemtableOverflow
		}
		if s.ImmutableNumber >= 1 && s.L0Num > th.L0OverflowLow {
			return ThreadL0Overflow
		}
		if s.L0Num > th.L0OverflowHigh {
			return ThreadL0Overflow
		}
		if s.EstimateCompactionBytes > th.RedundancyOverflow {
			return ThreadRedundancyDataOverflow
		}
	} else if s.CompactionIdleTime > th.IdleHigh {
		return ThreadIdle
	}
	return ThreadGoodCondition
}

func (t *Tuner) locateBatchState(s SystemScores) BatchState {
	th := t.Thresholds
	if s.MemtableSpeedMBs < t.maxScores.MemtableSpeedMBs*th.MemtableSpeedStall &&
		s.FlushSpeedAvg < t.maxScores.FlushSpeedAvg*th.FlushSpeedStall {
		if s.ActiveSizeRatio > th.ActiveSizeHigh && s.ImmutableNumber >= 1 {
			return BatchTinyMemtable
		}
		if t.currentThreads > th.BusyThreadCount || s.L0Num > 0.9 {
			return BatchTinyMemtable
		}
	} else if float64(s.FlushNumbers) < float64(t.maxScores.FlushNumbers)*th.FlushCountDrop {
		return BatchFlushDecrease
	}
	return BatchOverflowFree
}

// voteForOp picks the AIMD step for threads and batch size from the
// classified states. It only maps each state to its step; priority
// among thread bottlenecks is settled earlier by locateThreadState,
// which checks MemtableOverflow, then L0Overflow, then
// RedundancyDataOverflow, returning at the first that holds.
func voteForOp(threadState ThreadState, batchState BatchState) TuningOP {
	var op TuningOP
	switch threadState {
	case ThreadL0Overflow, ThreadRedundancyDataOverflow:
		op.ThreadOp = OpLinearIncrease
	case ThreadGoodCondition:
		op.ThreadOp = OpKeep
	case ThreadIdle, ThreadMemtableOverflow:
		op.ThreadOp = OpHalf
	}

	switch batchState {
	case BatchTinyMemtable:
		op.BatchOp = OpLinearIncrease
	case BatchOverflowFree:
		op.BatchOp = OpKeep
	default:
		op.BatchOp = OpHalf
	}
	return op
}

// clampThreads enforces [MinThreads, CoreCount].
func (t *Tuner) clampThreads(n int) int {
	if n < t.MinThreads {
		return t.MinThreads
	}
	if n > t.CoreCount {
		return t.CoreCount
	}
	return n
}

// clampBatch enforces [MinMemtableSize, MaxMemtableSize].
func (t *Tuner) clampBatch(n int64) int64 {
	if n < t.MinMemtableSize {
		return t.MinMemtableSize
	}
	if n > t.MaxMemtableSize {
		return t.MaxMemtableSize
	}
	return n
}

// fillChangeList turns a vote into concrete ChangePoints, applying
// additive increase / multiplicative decrease and clamping to bounds.
// defaultBatchStep is the increment added on OpLinearIncrease for the
// batch size (the engine's configured WriteBufferSize).
func (t *Tuner) fillChangeList(op TuningOP, defaultBatchStep int64) []ChangePoint {
	var changes []ChangePoint

	switch op.BatchOp {
	case OpLinearIncrease:
		t.currentBatchBytes = t.clampBatch(t.currentBatchBytes + defaultBatchStep)
		changes = append(changes, ChangePoint{Option: "write_buffer_size", Value: t.currentBatchBytes})
	case OpHalf:
		t.currentBatchBytes = t.clampBatch(t.currentBatchBytes / 2)
		changes = append(changes, ChangePoint{Option: "write_buffer_size", Value: t.currentBatchBytes})
	case OpKeep:
	}

	switch op.ThreadOp {
	case OpLinearIncrease:
		t.currentThreads = t.clampThreads(t.currentThreads + 2)
		changes = append(changes, ChangePoint{Option: "max_background_jobs", Value: int64(t.currentThreads)})
	case OpHalf:
		t.currentThreads = t.clampThreads(t.currentThreads / 2)
		changes = append(changes, ChangePoint{Option: "max_background_jobs", Value: int64(t.currentThreads)})
	case OpKeep:
	}

	return changes
}

// Tune scores snap, classifies the bottleneck, and returns the
// ChangePoints the engine should apply. defaultBatchStep is the
// configured WriteBufferSize used as the linear-increase step.
func (t *Tuner) Tune(snap metrics.Snapshot, maxL0Runs int, softLimitBytes, defaultBatchStep int64) []ChangePoint {
	score := Score(snap, maxL0Runs, softLimitBytes)
	t.updateMax(score)

	threadState := t.locateThreadState(score)
	batchState := t.locateBatchState(score)
	op := voteForOp(threadState, batchState)

	t.lastThread = threadState
	t.lastBatch = batchState
	t.round++

	return t.fillChangeList(op, defaultBatchStep)
}

// CurrentThreads reports the tuner's current view of the worker count.
func (t *Tuner) CurrentThreads() int { return t.currentThreads }

// CurrentBatchBytes reports the tuner's current view of the memtable
// size target.
func (t *Tuner) CurrentBatchBytes() int64 { return t.currentBatchBytes }
