package lsmforge

import (
	"github.com/ardonlin/lsmforge/keys"
	"github.com/ardonlin/lsmforge/memtable"
	"github.com/ardonlin/lsmforge/merge"
	"github.com/ardonlin/lsmforge/table"
)

// memSource adapts a memtable.Iterator to merge.Source.
type memSource struct {
	it   *memtable.Iterator
	rank int
}

func (s *memSource) SeekToFirst()         { s.it.SeekToFirst() }
func (s *memSource) Seek(target []byte)   { s.it.Seek(target) }
func (s *memSource) Valid() bool          { return s.it.Valid() }
func (s *memSource) Next()                { s.it.Next() }
func (s *memSource) Key() []byte          { return s.it.Key() }
func (s *memSource) Record() *keys.Record { return s.it.Record() }
func (s *memSource) Rank() int            { return s.rank }

// tableSource adapts a table.Iterator to merge.Source.
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

// buildSources fans v's active memtable, sealed memtables, and every
// level's runs out into one rank-ordered list of merge.Source: rank 0
// is the active memtable, increasing ranks walk sealed memtables
// newest-first, then L0 runs newest-first, then L1+ runs level by
// level in the order each level holds them. Under the leveled strategy
// L1+ runs never overlap in key range, so their relative rank within a
// level does not matter; under the tiered strategy they may overlap,
// and each level is kept newest first, so position gives the newer run
// the smaller rank.
func buildSources(v *Version, bounds *keys.Range) []merge.Source {
	var sources []merge.Source
	rank := 0

	if bounds != nil {
		sources = append(sources, &memSource{it: v.active.NewIteratorWithBounds(bounds), rank: rank})
	} else {
		sources = append(sources, &memSource{it: v.active.NewIterator(), rank: rank})
	}
	rank++

	for i := len(v.sealed) - 1; i >= 0; i-- {
		mt := v.sealed[i]
		if bounds != nil {
			sources = append(sources, &memSource{it: mt.NewIteratorWithBounds(bounds), rank: rank})
		} else {
			sources = append(sources, &memSource{it: mt.NewIterator(), rank: rank})
		}
		rank++
	}

	for _, lvl := range v.levels.Levels {
		for _, t := range lvl.Runs {
			if bounds != nil {
				sources = append(sources, &tableSource{it: t.NewIteratorWithBounds(bounds), rank: rank})
			} else {
				sources = append(sources, &tableSource{it: t.NewIterator(), rank: rank})
			}
			rank++
		}
	}
	return sources
}
