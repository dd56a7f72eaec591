package lsm

import "testing"

func TestMemtableUpsertOverwrites(t *testing.T) {
	mt := newMemtable()
	mt.upsert(NewPresent([]byte("a"), []byte("1"), 1))
	mt.upsert(NewPresent([]byte("a"), []byte("2"), 2))

	r, ok := mt.get([]byte("a"))
	if !ok || string(r.Value) != "2" {
		t.Fatalf("expected overwritten value 2, got %+v ok=%v", r, ok)
	}
}

func TestMemtableSizeBytesTracksOverwrites(t *testing.T) {
	mt := newMemtable()
	mt.upsert(NewPresent([]byte("a"), []byte("12345"), 1))
	first := mt.size()
	mt.upsert(NewPresent([]byte("a"), []byte("1"), 2))
	second := mt.size()
	if second >= first {
		t.Fatalf("expected size to shrink after overwrite with a smaller value, got %d then %d", first, second)
	}
}

func TestMemtableSnapshotOrderedAndBounded(t *testing.T) {
	mt := newMemtable()
	for _, k := range []string{"c", "a", "e", "b", "d"} {
		mt.upsert(NewPresent([]byte(k), []byte("v"), 1))
	}

	all := mt.snapshot(nil, nil)
	if len(all) != 5 {
		t.Fatalf("expected 5 records, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if string(all[i-1].Key) >= string(all[i].Key) {
			t.Fatalf("snapshot not sorted: %s >= %s", all[i-1].Key, all[i].Key)
		}
	}

	sub := mt.snapshot([]byte("b"), []byte("d"))
	if len(sub) != 2 || string(sub[0].Key) != "b" || string(sub[1].Key) != "c" {
		t.Fatalf("unexpected bounded snapshot: %+v", sub)
	}
}

func TestMemtableClear(t *testing.T) {
	mt := newMemtable()
	mt.upsert(NewPresent([]byte("a"), []byte("1"), 1))
	mt.clear()
	if mt.size() != 0 {
		t.Fatalf("expected size 0 after clear, got %d", mt.size())
	}
	if _, ok := mt.get([]byte("a")); ok {
		t.Fatalf("expected no entries after clear")
	}
}
