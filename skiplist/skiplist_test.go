package skiplist

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
)

func TestInsertAndGet(t *testing.T) {
	l := New(nil)
	if !l.Insert([]byte("b"), 2) {
		t.Fatal("expected first insert of b to succeed")
	}
	if !l.Insert([]byte("a"), 1) {
		t.Fatal("expected first insert of a to succeed")
	}
	if l.Insert([]byte("a"), 99) {
		t.Fatal("expected duplicate insert of a to fail")
	}

	v, ok := l.Get([]byte("a"))
	if !ok || v.(int) != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}
	v, ok = l.Get([]byte("b"))
	if !ok || v.(int) != 2 {
		t.Fatalf("Get(b) = %v, %v; want 2, true", v, ok)
	}
	if _, ok := l.Get([]byte("missing")); ok {
		t.Fatal("Get(missing) should report absent")
	}
}

func TestIteratorOrdering(t *testing.T) {
	l := New(nil)
	keys := []string{"m", "a", "z", "c", "b", "y"}
	for i, k := range keys {
		l.Insert([]byte(k), i)
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	it := l.NewIterator()
	it.SeekToFirst()
	var got []string
	for it.Valid() {
		got = append(got, string(it.Key()))
		it.Next()
	}
	if len(got) != len(sorted) {
		t.Fatalf("got %v entries, want %v", got, sorted)
	}
	for i := range sorted {
		if got[i] != sorted[i] {
			t.Fatalf("iterator order = %v, want %v", got, sorted)
		}
	}
}

func TestSeek(t *testing.T) {
	l := New(nil)
	for _, k := range []string{"a", "c", "e", "g"} {
		l.Insert([]byte(k), k)
	}
	it := l.NewIterator()
	it.Seek([]byte("d"))
	if !it.Valid() || string(it.Key()) != "e" {
		t.Fatalf("Seek(d) landed on %q, want e", it.Key())
	}
	it.Seek([]byte("z"))
	if it.Valid() {
		t.Fatal("Seek past end should be invalid")
	}
}

func TestUpsertReplacesValue(t *testing.T) {
	l := New(nil)
	created := l.Upsert([]byte("k"), 1)
	if !created {
		t.Fatal("first Upsert should report creation")
	}
	created = l.Upsert([]byte("k"), 2)
	if created {
		t.Fatal("second Upsert should report replacement, not creation")
	}
	v, ok := l.Get([]byte("k"))
	if !ok || v.(int) != 2 {
		t.Fatalf("Get(k) after Upsert = %v, %v; want 2, true", v, ok)
	}
}

func TestInsertWithHintMatchesPlainInsert(t *testing.T) {
	l := New(nil)
	var splice Splice
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		if !l.InsertWithHint(key, i, &splice) {
			t.Fatalf("hinted insert of %s failed", key)
		}
	}
	for i := 0; i < 1000; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		v, ok := l.Get(key)
		if !ok || v.(int) != i {
			t.Fatalf("Get(%s) = %v, %v; want %d, true", key, v, ok, i)
		}
	}
}

func TestConcurrentInsertGet(t *testing.T) {
	l := New(nil)
	const n = 2000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			key := []byte(fmt.Sprintf("k%06d", i))
			l.Insert(key, i)
		}(i)
	}
	wg.Wait()

	if got := l.Len(); got != n {
		t.Fatalf("Len() = %d, want %d", got, n)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("k%06d", i))
		v, ok := l.Get(key)
		if !ok || v.(int) != i {
			t.Fatalf("Get(%s) = %v, %v; want %d, true", key, v, ok, i)
		}
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	l := New(nil)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		rng := rand.New(rand.NewSource(1))
		for {
			select {
			case <-stop:
				return
			default:
				it := l.NewIterator()
				it.SeekToFirst()
				var prev []byte
				for it.Valid() {
					if prev != nil && BytewiseComparator(prev, it.Key()) > 0 {
						t.Errorf("iterator observed out-of-order keys %q then %q", prev, it.Key())
					}
					prev = it.Key()
					it.Next()
				}
				_ = rng.Int()
			}
		}
	}()

	for i := 0; i < 5000; i++ {
		l.Insert([]byte(fmt.Sprintf("w%06d", i)), i)
	}
	close(stop)
	wg.Wait()
}
