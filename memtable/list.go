package memtable

// RefList takes the active memtable and the list of sealed-but-not-yet-
// flushed memtables, refs all of them, and returns the combined slice.
// Used by a reader that needs a consistent view across a rotation
// boundary without holding the engine lock for the whole read.
func RefList(active *MemTable, sealed []*MemTable) []*MemTable {
	mems := make([]*MemTable, 0, len(sealed)+1)
	mems = append(mems, active)
	mems = append(mems, sealed...)
	for _, m := range mems {
		m.Ref()
	}
	return mems
}

// UnRefList releases references taken by RefList.
func UnRefList(mems []*MemTable) {
	for _, m := range mems {
		m.UnRef()
	}
}
