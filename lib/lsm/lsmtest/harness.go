// Package lsmtest holds a property suite run against a fresh Engine,
// written once and reused to exercise an abstract storage contract
// across implementations.
package lsmtest

import (
	"context"
	"testing"

	"github.com/kvnode/kvnode/lib/lsm"
)

// Factory builds a fresh, empty Engine rooted at dir for one subtest.
type Factory func(t *testing.T, dir string) *lsm.Engine

// RunEngineTests exercises the storage-engine contract:
// read-your-writes, last-write-wins, tombstone dominance, range bounds,
// compaction idempotence, and durability across restart. Every subtest
// closes each engine it obtains from factory, including the one it
// reopens against the same dir.
func RunEngineTests(t *testing.T, name string, factory Factory) {
	t.Run(name+"/ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, factory) })
	t.Run(name+"/LastWriteWins", func(t *testing.T) { testLastWriteWins(t, factory) })
	t.Run(name+"/TombstoneDominance", func(t *testing.T) { testTombstoneDominance(t, factory) })
	t.Run(name+"/RangeBounds", func(t *testing.T) { testRangeBounds(t, factory) })
	t.Run(name+"/CompactionIdempotence", func(t *testing.T) { testCompactionIdempotence(t, factory) })
	t.Run(name+"/DurabilityAcrossRestart", func(t *testing.T) { testDurabilityAcrossRestart(t, factory) })
}

func testReadYourWrites(t *testing.T, factory Factory) {
	e := factory(t, t.TempDir())
	defer e.Close()

	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("v1"), 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	r, ok, err := e.Get([]byte("k"))
	if err != nil || !ok || string(r.Value) != "v1" {
		t.Fatalf("expected to read back v1, got %+v ok=%v err=%v", r, ok, err)
	}
}

func testLastWriteWins(t *testing.T, factory Factory) {
	e := factory(t, t.TempDir())
	defer e.Close()

	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("old"), 1)); err != nil {
		t.Fatalf("upsert old: %v", err)
	}
	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("new"), 2)); err != nil {
		t.Fatalf("upsert new: %v", err)
	}
	// A later Upsert carrying an older timestamp still replaces the value:
	// the last write to arrive wins at the engine level.
	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("stale"), 1)); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}
	r, ok, err := e.Get([]byte("k"))
	if err != nil || !ok || string(r.Value) != "stale" {
		// The engine itself does not enforce LWW by timestamp on Upsert
		// (that is the coordinator's job across replicas); a single Upsert
		// always overwrites.
		t.Fatalf("expected Upsert to overwrite unconditionally with stale, got %+v ok=%v err=%v", r, ok, err)
	}
}

func testTombstoneDominance(t *testing.T, factory Factory) {
	e := factory(t, t.TempDir())
	defer e.Close()

	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("v"), 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := e.Upsert(lsm.NewTombstone([]byte("k"), 2)); err != nil {
		t.Fatalf("tombstone: %v", err)
	}
	r, ok, err := e.Get([]byte("k"))
	if err != nil || !ok || !r.Tombstone {
		t.Fatalf("expected tombstone to dominate, got %+v ok=%v err=%v", r, ok, err)
	}

	results, err := e.Range(nil, nil)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	for _, r := range results {
		if string(r.Key) == "k" {
			t.Fatalf("expected tombstoned key excluded from range, found %+v", r)
		}
	}
}

func testRangeBounds(t *testing.T, factory Factory) {
	e := factory(t, t.TempDir())
	defer e.Close()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		if err := e.Upsert(lsm.NewPresent([]byte(k), []byte("v"), 1)); err != nil {
			t.Fatalf("upsert %s: %v", k, err)
		}
	}

	results, err := e.Range([]byte("b"), []byte("d"))
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(results) != 2 || string(results[0].Key) != "b" || string(results[1].Key) != "c" {
		t.Fatalf("expected [b,c), got %v", keysOf(results))
	}
}

func testCompactionIdempotence(t *testing.T, factory Factory) {
	e := factory(t, t.TempDir())
	defer e.Close()

	for i, k := range []string{"a", "b", "c"} {
		if err := e.Upsert(lsm.NewPresent([]byte(k), []byte("v"), uint64(i+1))); err != nil {
			t.Fatalf("upsert %s: %v", k, err)
		}
	}
	if err := e.Upsert(lsm.NewTombstone([]byte("b"), 99)); err != nil {
		t.Fatalf("tombstone: %v", err)
	}

	before, err := e.Range(nil, nil)
	if err != nil {
		t.Fatalf("range before: %v", err)
	}

	ctx := context.Background()
	if err := e.Compact(ctx); err != nil {
		t.Fatalf("compact 1: %v", err)
	}
	if err := e.Compact(ctx); err != nil {
		t.Fatalf("compact 2: %v", err)
	}

	after, err := e.Range(nil, nil)
	if err != nil {
		t.Fatalf("range after: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("compaction changed visible record count: before=%d after=%d", len(before), len(after))
	}
	for i := range before {
		if string(before[i].Key) != string(after[i].Key) || string(before[i].Value) != string(after[i].Value) {
			t.Fatalf("compaction changed visible content at %d: %+v vs %+v", i, before[i], after[i])
		}
	}
}

func testDurabilityAcrossRestart(t *testing.T, factory Factory) {
	dir := t.TempDir()
	e := factory(t, dir)
	if err := e.Upsert(lsm.NewPresent([]byte("k"), []byte("v"), 1)); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := factory(t, dir)
	defer reopened.Close()
	r, ok, err := reopened.Get([]byte("k"))
	if err != nil || !ok || string(r.Value) != "v" {
		t.Fatalf("expected durable read after restart, got %+v ok=%v err=%v", r, ok, err)
	}
}

func keysOf(records []lsm.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = string(r.Key)
	}
	return out
}
