package table

import (
	"fmt"
	"testing"

	"github.com/ardonlin/lsmforge/keys"
)

func buildTable(t *testing.T, n int) *Table {
	t.Helper()
	b := NewBuilder()
	for i := 0; i < n; i++ {
		b.Add([]byte(fmt.Sprintf("k%04d", i)), &keys.Record{Kind: keys.KindSet, Value: []byte(fmt.Sprintf("v%d", i))})
	}
	return b.Finish(0)
}

func TestBuilderOutOfOrderPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on out-of-order Add")
		}
	}()
	b := NewBuilder()
	b.Add([]byte("b"), &keys.Record{Kind: keys.KindSet, Value: []byte("1")})
	b.Add([]byte("a"), &keys.Record{Kind: keys.KindSet, Value: []byte("2")})
}

func TestGetAndBounds(t *testing.T) {
	tbl := buildTable(t, 20)
	if string(tbl.SmallestKey()) != "k0000" {
		t.Fatalf("SmallestKey = %q, want k0000", tbl.SmallestKey())
	}
	if string(tbl.LargestKey()) != "k0019" {
		t.Fatalf("LargestKey = %q, want k0019", tbl.LargestKey())
	}
	rec, ok := tbl.Get([]byte("k0010"))
	if !ok || string(rec.Value) != "v10" {
		t.Fatalf("Get(k0010) = %+v, %v", rec, ok)
	}
	if _, ok := tbl.Get([]byte("missing")); ok {
		t.Fatal("Get(missing) should report absent")
	}
}

func TestOverlaps(t *testing.T) {
	tbl := buildTable(t, 10) // k0000..k0009
	if !tbl.Overlaps([]byte("k0005"), []byte("k0020")) {
		t.Fatal("expected overlap")
	}
	if tbl.Overlaps([]byte("k0010"), nil) {
		t.Fatal("expected no overlap: range starts past largest key")
	}
	if tbl.Overlaps(nil, []byte("k0000")) {
		t.Fatal("expected no overlap: range limit at or before smallest key")
	}
}

func TestIteratorWithBounds(t *testing.T) {
	tbl := buildTable(t, 10)
	bounds := &keys.Range{Start: []byte("k0003"), Limit: []byte("k0007")}
	it := tbl.NewIteratorWithBounds(bounds)
	var got []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"k0003", "k0004", "k0005", "k0006"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
