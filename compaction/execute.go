package compaction

import (
	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/merge"
	"github.com/ardonlin/lsmforge/table"
)

// tableSource adapts a table.Iterator to merge.Source so Execute can
// reuse the same k-way merger the read path uses.
type tableSource struct {
	it   *table.Iterator
	rank int
}

func (s *tableSource) SeekToFirst()         { s.it.SeekToFirst() }
func (s *tableSource) Seek(target []byte)   { s.it.Seek(target) }
func (s *tableSource) Valid() bool          { return s.it.Valid() }
func (s *tableSource) Next()                { s.it.Next() }
func (s *tableSource) Key() []byte          { return s.it.Key() }
func (s *tableSource) Record() *keys.Record { return s.it.Record() }
func (s *tableSource) Rank() int            { return s.rank }

// MaxOutputRunBytes caps how large a single compaction output run may
// grow before Execute starts a fresh one, bounding how much memory one
// compaction job pins at a time.
const MaxOutputRunBytes = 64 << 20 // 64MiB

// Execute merges every input run named by job and returns the set of
// new output runs (usually one, more if the merged data exceeds
// MaxOutputRunBytes). Tombstones are dropped from the output only when
// job.BottomLevel is true.
func Execute(job *Job) []*table.Table {
	inputs := job.AllInputs()
	sources := make([]merge.Source, len(inputs))
	for i, t := range inputs {
		sources[i] = &tableSource{it: t.NewIterator(), rank: t.Rank}
	}

	m := merge.New(sources, nil)
	m.DropTombstones = job.BottomLevel

	var outputs []*table.Table
	b := table.NewBuilder()
	for m.SeekToFirst(); m.Valid(); m.Next() {
		b.Add(m.Key(), m.Record())
		if b.EstimatedSize() >= MaxOutputRunBytes {
			outputs = append(outputs, b.Finish(0))
			b = table.NewBuilder()
		}
	}
	if b.Len() > 0 {
		outputs = append(outputs, b.Finish(0))
	}
	return outputs
}
