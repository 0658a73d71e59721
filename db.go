package lsmforge

import (
	"bytes"
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardonlin/lsmforge/compaction"
	"github.com/ardonlin/lsmforge/internal/epoch"
	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/memtable"
	"github.com/ardonlin/lsmforge/merge"
	"github.com/ardonlin/lsmforge/metrics"
	"github.com/ardonlin/lsmforge/pool"
	"github.com/ardonlin/lsmforge/table"
	"github.com/ardonlin/lsmforge/tuner"
)

// Engine is the LSM storage engine. Put and Delete write into the
// active memtable; a background flusher drains sealed memtables into
// L0 runs; a background compactor keeps the level hierarchy within its
// strategy's shape. Get and Scan never block behind a writer — both
// load one immutable Version and walk it lock-free.
type Engine struct {
	opts   *Options
	logger *slog.Logger

	// mu serializes the writers' backpressure check and memtable
	// rotation, and every Version install; the memtable insert itself
	// runs outside it (see write). Readers never take it; they load the
	// atomic Version pointer instead.
	mu          sync.Mutex
	sealedCond  *sync.Cond
	versions    *VersionSet
	em          *epoch.Manager
	strategy    compaction.Strategy
	metricsColl *metrics.Collector
	tuner       *tuner.Tuner

	flushPool   *pool.Pool
	compactPool *pool.Pool

	genCounter      atomic.Int64
	writeBufferSize atomic.Int64
	flushSignal     chan struct{}

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// Open validates opts, applies defaults, and starts an Engine along
// with its background flush, compaction, idle-sampling, and (if
// enabled) tuning loops.
func Open(opts *Options) (*Engine, error) {
	opts = opts.Clone()
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.CoreCount <= 0 {
		opts.CoreCount = runtime.NumCPU()
	}
	if err := opts.Validate(); err != nil {
		opts.Logger.Error("options did not validate", "error", err)
		return nil, err
	}

	em := epoch.New()
	e := &Engine{
		opts:        opts,
		logger:      opts.Logger,
		versions:    NewVersionSet(em, opts.MaxLevels),
		em:          em,
		strategy:    opts.strategy(),
		metricsColl: metrics.New(opts.Registerer),
		done:        make(chan struct{}),
		flushSignal: make(chan struct{}, 1),
	}
	e.sealedCond = sync.NewCond(&e.mu)
	e.writeBufferSize.Store(int64(opts.WriteBufferSize))

	e.flushPool = pool.New(1)
	e.compactPool = pool.New(max(1, opts.WorkerCount-1))

	if opts.EnableTuner {
		e.tuner = tuner.New(opts.CoreCount, opts.WorkerCount, int64(opts.WriteBufferSize),
			int64(opts.WriteBufferSize), int64(opts.WriteBufferSize)*16)
	}

	e.wg.Add(3)
	go e.flushLoop()
	go e.compactionLoop()
	go e.idleSamplerLoop()
	if e.tuner != nil {
		e.wg.Add(1)
		go e.tuningLoop()
	}

	return e, nil
}

// Close stops every background loop, lets in-flight flush/compaction
// work drain, and releases the worker pools. Safe to call once; later
// calls are no-ops.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	close(e.done)
	e.mu.Lock()
	e.sealedCond.Broadcast()
	e.mu.Unlock()
	e.wg.Wait()
	e.flushPool.Close()
	e.compactPoolSnapshot().Close()
	return nil
}

func (e *Engine) nextRank() int {
	return -int(e.genCounter.Add(1))
}

func (e *Engine) nextSealTag() int64 {
	return e.genCounter.Add(1)
}

// Put stores value for key, replacing any existing record.
func (e *Engine) Put(key, value []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !keys.Valid(key) {
		return ErrInvalidKey
	}
	if !keys.ValidValue(value) {
		return ErrInvalidValue
	}
	return e.write(key, &keys.Record{Kind: keys.KindSet, Value: value})
}

// Delete stores a tombstone for key. A subsequent Get returns
// ErrNotFound; the tombstone itself is only dropped once compaction
// proves no older value for key can still exist beneath it.
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if !keys.Valid(key) {
		return ErrInvalidKey
	}
	return e.write(key, &keys.Record{Kind: keys.KindDelete})
}

// write applies rec to the current active memtable. e.mu is only held
// long enough to wait for backpressure room and load the active
// memtable pointer — the structural insert itself runs under the
// memtable's own lock, so one writer blocked on a skiplist insert never
// blocks unrelated engine bookkeeping (flush/compaction scheduling,
// tuning) that also needs e.mu. If the memtable we loaded gets sealed
// by a concurrent rotation before our insert lands, Put/Delete reports
// false and we retry against whatever is active now.
func (e *Engine) write(key []byte, rec *keys.Record) error {
	for {
		e.mu.Lock()
		e.waitForRoomLocked()
		if e.closed.Load() {
			e.mu.Unlock()
			return ErrClosed
		}
		mt := e.versions.Load().active
		e.mu.Unlock()

		var applied bool
		if rec.Kind == keys.KindDelete {
			applied = mt.Delete(key)
		} else {
			applied = mt.Put(key, rec.Value)
		}
		if !applied {
			continue
		}

		if mt.ByteSize() >= e.writeBufferSize.Load() {
			e.mu.Lock()
			if e.versions.Load().active == mt {
				e.rotateLocked()
			}
			e.mu.Unlock()
		}
		return nil
	}
}

// waitForRoomLocked blocks the caller while too many sealed memtables
// or L0 runs are backed up, the same backpressure a write-heavy burst
// needs so the flusher and compactor can catch up instead of letting
// unbounded memory pile up. Must be called with mu held.
func (e *Engine) waitForRoomLocked() {
	for {
		v := e.versions.Load()
		l0 := len(v.levels.Levels[0].Runs)
		if len(v.sealed) < e.opts.MaxMemtables && l0 < e.opts.L0StopWritesTrigger {
			return
		}
		if e.closed.Load() {
			return
		}
		e.sealedCond.Wait()
	}
}

// rotateLocked seals the active memtable, installs a fresh one, and
// wakes the flusher. Must be called with mu held.
func (e *Engine) rotateLocked() {
	v := e.versions.Load()
	sealed := v.active
	sealed.Seal(e.nextSealTag())

	next := &Version{
		active: memtable.New(),
		sealed: append(append([]*memtable.MemTable(nil), v.sealed...), sealed),
		levels: v.levels,
	}
	e.versions.Swap(next)

	select {
	case e.flushSignal <- struct{}{}:
	default:
	}
}

// Flush forces the active memtable to seal and blocks until every
// sealed memtable (including any already queued before this call) has
// been flushed to L0.
func (e *Engine) Flush() error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.versions.Load().active.Count() > 0 {
		e.rotateLocked()
	}
	for {
		cur := e.versions.Load()
		if len(cur.sealed) == 0 || e.closed.Load() {
			return nil
		}
		select {
		case e.flushSignal <- struct{}{}:
		default:
		}
		e.sealedCond.Wait()
	}
}

func (e *Engine) flushLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.flushSignal:
		case <-time.After(50 * time.Millisecond):
		}
		e.flushPool.Submit(func(ctx context.Context) { e.flushOnce() })
	}
}

// flushOnce drains the oldest sealed memtable into a new L0 run, if
// one is waiting. Multiple calls queue safely on the single-worker
// flush pool: each reloads the current Version so a call that loses
// the race to an earlier one simply picks up the next oldest.
func (e *Engine) flushOnce() {
	e.mu.Lock()
	cur := e.versions.Load()
	if len(cur.sealed) == 0 {
		e.mu.Unlock()
		return
	}
	mt := cur.sealed[0]
	e.mu.Unlock()

	start := time.Now()
	b := table.NewBuilder()
	it := mt.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		b.Add(it.Key(), it.Record())
	}
	run := b.Finish(e.nextRank())
	elapsed := time.Since(start)

	e.mu.Lock()
	cur = e.versions.Load()
	newSealed := make([]*memtable.MemTable, 0, len(cur.sealed))
	for _, m := range cur.sealed {
		if m != mt {
			newSealed = append(newSealed, m)
		}
	}
	newLevels := cur.levels.WithFlushedRun(run)
	next := &Version{active: cur.active, sealed: newSealed, levels: newLevels}
	e.versions.Swap(next)
	e.sealedCond.Broadcast()
	e.mu.Unlock()

	bw := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		bw = float64(run.ByteSize()) / (1 << 20) / secs
	}
	ratio := 0.0
	if wbs := e.writeBufferSize.Load(); wbs > 0 {
		ratio = float64(mt.ByteSize()) / float64(wbs)
	}
	e.metricsColl.RecordFlush(metrics.FlushEvent{
		TotalBytes:       run.ByteSize(),
		MemtableRatio:    ratio,
		WriteBandwidthMB: bw,
		L0RunsAfter:      len(newLevels.Levels[0].Runs),
	})
	e.logger.Debug("flushed memtable", "bytes", run.ByteSize(), "entries", run.NumEntries())
}

func (e *Engine) compactionLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}
		e.compactOnce()
	}
}

func (e *Engine) compactOnce() {
	e.mu.Lock()
	cur := e.versions.Load()
	job := e.strategy.PickJob(cur.levels)
	if job == nil {
		e.mu.Unlock()
		return
	}
	busy := cur.levels.MarkBusy(job.AllInputs())
	next := &Version{active: cur.active, sealed: cur.sealed, levels: busy}
	e.versions.Swap(next)
	e.mu.Unlock()

	e.compactPoolSnapshot().Submit(func(ctx context.Context) { e.runCompaction(job) })
}

func (e *Engine) runCompaction(job *compaction.Job) {
	start := time.Now()
	var inputBytes int64
	for _, t := range job.AllInputs() {
		inputBytes += t.ByteSize()
	}

	outputs := compaction.Execute(job)
	var outputBytes int64
	for _, out := range outputs {
		out.Rank = e.nextRank()
		outputBytes += out.ByteSize()
	}

	e.mu.Lock()
	cur := e.versions.Load()
	newLevels := cur.levels.WithCompactionResult(job, outputs)
	next := &Version{active: cur.active, sealed: cur.sealed, levels: newLevels}
	e.versions.Swap(next)
	// the install may have brought L0 back under L0StopWritesTrigger
	e.sealedCond.Broadcast()
	immutable := len(cur.sealed)
	e.mu.Unlock()

	elapsed := time.Since(start)
	dropRatio := 0.0
	if inputBytes > 0 {
		dropRatio = 1.0 - float64(outputBytes)/float64(inputBytes)
	}
	bw := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		bw = float64(outputBytes) / (1 << 20) / secs
	}
	e.metricsColl.RecordCompaction(metrics.CompactionEvent{
		InputLevel:         job.SourceLevel,
		OutputLevel:        job.OutputLevel,
		DropRatio:          dropRatio,
		WriteBandwidthMB:   bw,
		TotalMicros:        elapsed.Microseconds(),
		TotalInputBytes:    inputBytes,
		TotalOutputBytes:   outputBytes,
		ImmutableMemtables: immutable,
	})
	e.logger.Debug("compacted", "source_level", job.SourceLevel, "output_level", job.OutputLevel,
		"input_bytes", inputBytes, "output_bytes", outputBytes)
}

// compactPoolSnapshot safely reads the current compaction pool, which
// the tuner may swap out for a differently-sized one at runtime.
func (e *Engine) compactPoolSnapshot() *pool.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compactPool
}

func (e *Engine) idleSamplerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	var flushIdle, flushTotal, compactIdle, compactTotal int
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}
		e.em.Reclaim()

		flushTotal++
		if e.flushPool.QueueLen() == 0 {
			flushIdle++
		}
		compactTotal++
		if e.compactPoolSnapshot().QueueLen() == 0 {
			compactIdle++
		}
		if flushTotal >= 4 {
			e.metricsColl.RecordFlushIdle(float64(flushIdle) / float64(flushTotal))
			flushIdle, flushTotal = 0, 0
		}
		if compactTotal >= 4 {
			e.metricsColl.RecordCompactionIdle(float64(compactIdle) / float64(compactTotal))
			compactIdle, compactTotal = 0, 0
		}
	}
}

func (e *Engine) tuningLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-e.done:
			return
		case <-ticker.C:
		}
		e.tuneOnce()
	}
}

func (e *Engine) tuneOnce() {
	snap := e.metricsColl.Snapshot()
	changes := e.tuner.Tune(snap, e.opts.L0StopWritesTrigger, 0, int64(e.opts.WriteBufferSize))
	for _, c := range changes {
		switch c.Option {
		case "write_buffer_size":
			e.writeBufferSize.Store(c.Value)
			e.logger.Info("tuner adjusted write buffer size", "bytes", c.Value)
		case "max_background_jobs":
			e.resizeCompactPool(int(c.Value))
			e.logger.Info("tuner adjusted worker count", "workers", c.Value)
		}
	}
}

func (e *Engine) resizeCompactPool(workers int) {
	if workers < 1 {
		workers = 1
	}
	e.mu.Lock()
	old := e.compactPool
	e.compactPool = pool.New(workers)
	e.mu.Unlock()
	old.Close()
}

// Get returns the live value for key, or ErrNotFound if it has none
// (never written, or shadowed by a tombstone).
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if !keys.Valid(key) {
		return nil, ErrInvalidKey
	}

	tok := e.em.Enter()
	defer e.em.Exit(tok)

	v := e.versions.Load()
	sources := buildSources(v, nil)
	m := merge.New(sources, nil)
	m.Seek(key)
	if !m.Valid() || !bytes.Equal(m.Key(), key) {
		return nil, ErrNotFound
	}
	rec := m.Record()
	if rec.IsTombstone() {
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

// Iterator walks a consistent point-in-time view of the engine in
// ascending key order. It never surfaces tombstones — a Scan only
// returns live data. Close must be called to release the epoch pin
// and the memtable refs Scan took; the Version it walks stays
// reachable through the iterator itself.
type Iterator struct {
	em   *epoch.Manager
	tok  uint64
	m    *merge.Merger
	mems []*memtable.MemTable
}

// Scan returns an Iterator over r (nil for the whole keyspace).
func (e *Engine) Scan(r *keys.Range) (*Iterator, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}
	if r != nil && r.Start != nil && r.Limit != nil && keys.Compare(r.Start, r.Limit) >= 0 {
		return nil, ErrInvalidRange
	}

	tok := e.em.Enter()
	v := e.versions.Load()
	mems := memtable.RefList(v.active, v.sealed)
	sources := buildSources(v, r)
	m := merge.New(sources, r)
	m.DropTombstones = true
	m.SeekToFirst()
	return &Iterator{em: e.em, tok: tok, m: m, mems: mems}, nil
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.m.Valid() }

// Next advances to the next live key.
func (it *Iterator) Next() { it.m.Next() }

// Key returns the current key.
func (it *Iterator) Key() []byte { return it.m.Key() }

// Value returns the current value.
func (it *Iterator) Value() []byte { return it.m.Record().Value }

// Close releases the iterator's epoch pin and memtable refs. Safe to
// call once.
func (it *Iterator) Close() error {
	it.em.Exit(it.tok)
	memtable.UnRefList(it.mems)
	return nil
}

// CompactRange synchronously runs the jobs the strategy picks, one
// after another, for as long as each picked job has an input that
// overlaps r (nil means unrestricted). It returns at the first picked
// job that does not touch r, or when there is no job; jobs the
// strategy would offer after that one are not visited.
func (e *Engine) CompactRange(r *keys.Range) error {
	return e.compactUntilDry(func(job *compaction.Job) bool {
		if r == nil {
			return true
		}
		for _, t := range job.AllInputs() {
			if t.Overlaps(r.Start, r.Limit) {
				return true
			}
		}
		return false
	})
}

// CompactAll synchronously drains every compaction job the strategy
// offers until the level hierarchy reaches its steady state.
func (e *Engine) CompactAll() error {
	return e.compactUntilDry(func(*compaction.Job) bool { return true })
}

func (e *Engine) compactUntilDry(accept func(*compaction.Job) bool) error {
	for {
		if e.closed.Load() {
			return ErrClosed
		}
		e.mu.Lock()
		cur := e.versions.Load()
		job := e.strategy.PickJob(cur.levels)
		if job == nil || !accept(job) {
			e.mu.Unlock()
			return nil
		}
		busy := cur.levels.MarkBusy(job.AllInputs())
		next := &Version{active: cur.active, sealed: cur.sealed, levels: busy}
		e.versions.Swap(next)
		e.mu.Unlock()

		e.runCompaction(job)
	}
}

// Stats is a point-in-time view of engine state for monitoring and
// tests.
type Stats struct {
	ActiveBytes            int64
	SealedCount            int
	LevelRunCounts         []int
	CurrentWorkers         int
	CurrentWriteBufferSize int64
}

// Stats returns the engine's current counters and tuner state.
func (e *Engine) Stats() Stats {
	v := e.versions.Load()
	counts := make([]int, len(v.levels.Levels))
	for i, lvl := range v.levels.Levels {
		counts[i] = len(lvl.Runs)
	}
	workers := e.opts.WorkerCount
	if e.tuner != nil {
		workers = e.tuner.CurrentThreads()
	}
	return Stats{
		ActiveBytes:            v.active.ByteSize(),
		SealedCount:            len(v.sealed),
		LevelRunCounts:         counts,
		CurrentWorkers:         workers,
		CurrentWriteBufferSize: e.writeBufferSize.Load(),
	}
}
