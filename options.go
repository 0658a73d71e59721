package lsmforge

import (
	"log/slog"
	"os"

	"github.com/ardonlin/lsmforge/compaction"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	KiB = 1024
	MiB = KiB * 1024
	GiB = MiB * 1024
)

// CompactionKind selects which strategy drives background compaction.
type CompactionKind int

const (
	// Tiered merges all runs in a level once it reaches TriggerFanIn,
	// minimizing write amplification at the cost of read amplification.
	Tiered CompactionKind = iota
	// Leveled merges L0 into L1 and keeps L1+ within a size ratio of
	// their target, minimizing space and read amplification.
	Leveled
)

// Default values, following the LSM conventions this engine's worker
// pool, compaction strategies, and tuner were modeled on.
var (
	DefaultWriteBufferSize     = 4 * MiB
	DefaultMaxMemtables        = 2
	DefaultMaxLevels           = 7
	DefaultL0CompactionTrigger = 4
	DefaultL0StopWritesTrigger = 12
	DefaultTieredFanIn         = 4
	DefaultLeveledFanout       = 10
	DefaultBaseLevelSize int64 = 10 * MiB
	DefaultWorkerCount         = 4
)

// Options holds every tunable the engine reads at Open time. Fields
// the tuner is allowed to adjust at runtime (WriteBufferSize, worker
// count) are seeds, not permanent values — Engine.Stats reports the
// tuner's current view separately.
type Options struct {
	// WriteBufferSize is the byte size an active memtable reaches
	// before it is sealed and queued for flush.
	WriteBufferSize int

	// MaxMemtables bounds how many sealed memtables may queue for
	// flush before Put blocks the caller (backpressure).
	MaxMemtables int

	// MaxLevels is the number of levels in the hierarchy, counting L0.
	MaxLevels int

	// L0CompactionTrigger is the number of L0 runs that schedules an
	// L0 compaction.
	L0CompactionTrigger int

	// L0StopWritesTrigger is the number of L0 runs that applies
	// backpressure to Put until compaction catches up.
	L0StopWritesTrigger int

	// Compaction selects which strategy drives background compaction.
	Compaction CompactionKind

	// TieredFanIn is the Tiered strategy's trigger fan-in (ignored
	// unless Compaction == Tiered).
	TieredFanIn int

	// LeveledFanout is the Leveled strategy's per-level size ratio
	// (ignored unless Compaction == Leveled).
	LeveledFanout int

	// BaseLevelSize is the Leveled strategy's L1 target size in bytes
	// (ignored unless Compaction == Leveled).
	BaseLevelSize int64

	// WorkerCount seeds the flush/compaction worker pool size. The
	// tuner adjusts the live pool size from here within
	// the tuner's [MinThreads, CoreCount].
	WorkerCount int

	// CoreCount bounds how high the tuner may grow WorkerCount.
	// Defaults to runtime.NumCPU() if zero.
	CoreCount int

	// EnableTuner turns on the adaptive thread/memtable-size
	// controller. Disabled, the engine runs with fixed WorkerCount and
	// WriteBufferSize for the whole session.
	EnableTuner bool

	// Logger receives structured engine events (flush, compaction,
	// tuning decisions). Defaults to a warn-level text logger.
	Logger *slog.Logger

	// Registerer receives the engine's Prometheus instruments. Defaults
	// to a fresh, private registry; set to a shared registry (or leave
	// nil and call Engine.Stats instead) to avoid duplicate metric
	// registration across multiple Engines in one process.
	Registerer prometheus.Registerer
}

// DefaultOptions returns an Options populated with sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		WriteBufferSize:     DefaultWriteBufferSize,
		MaxMemtables:        DefaultMaxMemtables,
		MaxLevels:           DefaultMaxLevels,
		L0CompactionTrigger: DefaultL0CompactionTrigger,
		L0StopWritesTrigger: DefaultL0StopWritesTrigger,
		Compaction:          Leveled,
		TieredFanIn:         DefaultTieredFanIn,
		LeveledFanout:       DefaultLeveledFanout,
		BaseLevelSize:       DefaultBaseLevelSize,
		WorkerCount:         DefaultWorkerCount,
		EnableTuner:         true,
		Logger:              DefaultLogger(),
		Registerer:          prometheus.NewRegistry(),
	}
}

// Validate checks the options for common configuration mistakes that
// would prevent the engine from operating correctly.
func (o *Options) Validate() error {
	if o.WriteBufferSize <= 0 {
		return ErrInvalidWriteBufferSize
	}
	if o.MaxMemtables <= 0 {
		return ErrInvalidMaxMemtables
	}
	if o.MaxLevels <= 0 || o.MaxLevels > 20 {
		return ErrInvalidMaxLevels
	}
	if o.L0CompactionTrigger <= 0 {
		return ErrInvalidL0CompactionTrigger
	}
	if o.L0StopWritesTrigger <= o.L0CompactionTrigger {
		return ErrInvalidL0StopWritesTrigger
	}
	if o.WorkerCount <= 0 {
		return ErrInvalidWorkerCount
	}
	return nil
}

// Clone returns a shallow copy of o, or DefaultOptions() if o is nil.
func (o *Options) Clone() *Options {
	if o == nil {
		return DefaultOptions()
	}
	clone := *o
	return &clone
}

// strategy builds the compaction.Strategy these options describe.
func (o *Options) strategy() compaction.Strategy {
	switch o.Compaction {
	case Tiered:
		return compaction.NewTiered(o.TieredFanIn, o.MaxLevels)
	default:
		return compaction.NewLeveled(o.L0CompactionTrigger, o.LeveledFanout, o.BaseLevelSize, o.MaxLevels)
	}
}

func getLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

// DefaultLogger returns a warn-level text logger to stdout.
func DefaultLogger() *slog.Logger {
	return getLogger(slog.LevelWarn)
}

// DebugLogger returns a debug-level text logger to stdout, useful when
// diagnosing compaction/tuning behavior in tests.
func DebugLogger() *slog.Logger {
	return getLogger(slog.LevelDebug)
}
