package keys

import "testing"

func TestCompareOrdering(t *testing.T) {
	cases := []struct {
		a, b []byte
		want int
	}{
		{[]byte("a"), []byte("b"), -1},
		{[]byte("b"), []byte("a"), 1},
		{[]byte("same"), []byte("same"), 0},
		{[]byte(""), []byte("x"), -1},
	}
	for _, c := range cases {
		got := Compare(c.a, c.b)
		if sign(got) != sign(c.want) {
			t.Errorf("Compare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}

func TestRangeContains(t *testing.T) {
	r := &Range{Start: []byte("b"), Limit: []byte("e")}
	tests := map[string]bool{
		"a": false,
		"b": true,
		"c": true,
		"e": false,
		"f": false,
	}
	for k, want := range tests {
		if got := r.Contains([]byte(k)); got != want {
			t.Errorf("Contains(%q) = %v, want %v", k, got, want)
		}
	}
	if !((*Range)(nil)).Contains([]byte("anything")) {
		t.Error("nil range should contain everything")
	}
}

func TestRangeOverlaps(t *testing.T) {
	r := &Range{Start: []byte("c"), Limit: []byte("f")}
	if !r.Overlaps([]byte("a"), []byte("d")) {
		t.Error("expected overlap")
	}
	if r.Overlaps([]byte("f"), []byte("z")) {
		t.Error("expected no overlap at exclusive limit")
	}
	if r.Overlaps([]byte("x"), []byte("z")) {
		t.Error("expected no overlap past limit")
	}
}

func TestRecordIsTombstone(t *testing.T) {
	if !(*Record)(nil).IsTombstone() {
		t.Error("nil record should be a tombstone")
	}
	set := &Record{Kind: KindSet, Value: []byte("v")}
	if set.IsTombstone() {
		t.Error("set record should not be a tombstone")
	}
	del := &Record{Kind: KindDelete}
	if !del.IsTombstone() {
		t.Error("delete record should be a tombstone")
	}
}
