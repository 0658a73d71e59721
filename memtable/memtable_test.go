package memtable

import (
	"fmt"
	"testing"

	"github.com/ardonlin/lsmforge/keys"
)

func TestPutGetDelete(t *testing.T) {
	mt := New()
	mt.Put([]byte("a"), []byte("1"))
	rec, ok := mt.Get([]byte("a"))
	if !ok || rec.Kind != keys.KindSet || string(rec.Value) != "1" {
		t.Fatalf("Get(a) = %+v, %v; want KindSet/1", rec, ok)
	}

	mt.Delete([]byte("a"))
	rec, ok = mt.Get([]byte("a"))
	if !ok || !rec.IsTombstone() {
		t.Fatalf("Get(a) after delete = %+v, %v; want tombstone", rec, ok)
	}

	if _, ok := mt.Get([]byte("missing")); ok {
		t.Fatal("Get(missing) should report absent")
	}
}

func TestUpdateInPlaceAdjustsByteSize(t *testing.T) {
	mt := New()
	mt.Put([]byte("k"), []byte("short"))
	after1 := mt.ByteSize()

	mt.Put([]byte("k"), []byte("a much longer value than before"))
	after2 := mt.ByteSize()
	if after2 <= after1 {
		t.Fatalf("byte size should grow on longer update: %d -> %d", after1, after2)
	}
	if mt.Count() != 1 {
		t.Fatalf("Count() = %d, want 1 (update must not create a second entry)", mt.Count())
	}
}

func TestIteratorBounds(t *testing.T) {
	mt := New()
	for i := 0; i < 10; i++ {
		mt.Put([]byte(fmt.Sprintf("k%02d", i)), []byte("v"))
	}
	bounds := &keys.Range{Start: []byte("k03"), Limit: []byte("k07")}
	it := mt.NewIteratorWithBounds(bounds)
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	want := []string{"k03", "k04", "k05", "k06"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSealIsIdempotent(t *testing.T) {
	mt := New()
	if mt.Sealed() {
		t.Fatal("fresh memtable should not be sealed")
	}
	mt.Seal(5)
	mt.Seal(9)
	if !mt.Sealed() {
		t.Fatal("memtable should report sealed after Seal")
	}
}

func TestPutDeleteRejectedAfterSeal(t *testing.T) {
	mt := New()
	mt.Put([]byte("a"), []byte("1"))
	mt.Seal(1)

	if ok := mt.Put([]byte("b"), []byte("2")); ok {
		t.Fatal("Put() on a sealed memtable should report false")
	}
	if ok := mt.Delete([]byte("a")); ok {
		t.Fatal("Delete() on a sealed memtable should report false")
	}
	if _, ok := mt.Get([]byte("b")); ok {
		t.Fatal("rejected Put() must not have written anything")
	}
	if rec, ok := mt.Get([]byte("a")); !ok || rec.IsTombstone() {
		t.Fatal("rejected Delete() must not have overwritten the existing record")
	}
}

func TestRefUnRefList(t *testing.T) {
	active := New()
	sealed := []*MemTable{New(), New()}
	mems := RefList(active, sealed)
	if len(mems) != 3 {
		t.Fatalf("len(mems) = %d, want 3", len(mems))
	}
	UnRefList(mems)
	for _, m := range mems {
		if m.refs.Load() != 1 {
			t.Fatalf("ref count = %d, want 1 after matching UnRef", m.refs.Load())
		}
	}
}
