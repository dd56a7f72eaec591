package lsm

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Engine is a single-node LSM storage engine: a mutable memtable backed by
// an immutable, ordered chain of on-disk SSTables. It owns dir exclusively;
// no other process or Engine instance may touch it concurrently.
type Engine struct {
	cfg Config

	// writeMu serializes Upsert against itself and against the
	// flush-trigger decision. It is never held across file I/O: a flush
	// swaps in a fresh empty memtable and then writes the old one to disk
	// outside the lock, so concurrent readers and writers are never
	// blocked on disk latency. mt itself is published via an atomic
	// pointer so Get and Range never need writeMu at all.
	writeMu sync.Mutex
	mt      atomic.Pointer[memtable]

	// tablesMu guards the copy-on-write sstables slice. Readers take a
	// snapshot reference under RLock and then iterate it lock-free;
	// flush and compact publish a new slice under Lock.
	tablesMu sync.RWMutex
	tables   []*sstable
	nextSeq  int

	closed atomic.Bool
}

// Open opens (or creates) an engine rooted at cfg.Dir, replaying any
// existing SSTables found there. There is no write-ahead log: any data
// that was sitting in the memtable at the moment of a crash is lost, per
// the engine's failure semantics.
func Open(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("lsm: Config.Dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	tables, err := listSSTables(cfg.Dir)
	if err != nil {
		return nil, err
	}
	nextSeq := 0
	for _, t := range tables {
		if t.seq+1 > nextSeq {
			nextSeq = t.seq + 1
		}
	}
	e := &Engine{
		cfg:     cfg,
		tables:  tables,
		nextSeq: nextSeq,
	}
	e.mt.Store(newMemtable())
	return e, nil
}

// Upsert inserts or overwrites r. If the memtable's accumulated size
// crosses the configured threshold as a result, Upsert triggers a
// synchronous flush before returning.
func (e *Engine) Upsert(r Record) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(r.Key) == 0 {
		return ErrEmptyKey
	}
	r = r.clone()

	e.writeMu.Lock()
	mt := e.mt.Load()
	mt.upsert(r)
	needsFlush := mt.size() >= e.cfg.MemtableSizeBytes
	var flushing *memtable
	if needsFlush {
		flushing = mt
		e.mt.Store(newMemtable())
	}
	e.writeMu.Unlock()

	if flushing == nil {
		return nil
	}
	return e.flush(flushing)
}

// flush writes mt's contents out as a new immutable segment and publishes
// it into the sstables chain. mt is discarded on success; on failure its
// records are still safely queryable because they were only removed from
// e.mt, not from mt itself, so callers holding no other reference simply
// lose that data on the next crash exactly as if it had never flushed.
func (e *Engine) flush(mt *memtable) error {
	records := mt.snapshot(nil, nil)
	if len(records) == 0 {
		return nil
	}

	e.tablesMu.Lock()
	seq := e.nextSeq
	e.nextSeq++
	e.tablesMu.Unlock()

	w, err := createSSTable(e.cfg.Dir, seq)
	if err != nil {
		return err
	}
	for _, r := range records {
		if err := w.add(r); err != nil {
			w.abort()
			return err
		}
	}
	table, err := w.finish()
	if err != nil {
		return err
	}

	e.tablesMu.Lock()
	e.tables = append([]*sstable{table}, e.tables...)
	e.tablesMu.Unlock()
	return nil
}

// Get returns the current record for key, if any, following memtable then
// newest-to-oldest segment precedence. A tombstone is returned as-is; it
// is the caller's job (the HTTP layer) to turn that into "not found".
func (e *Engine) Get(key []byte) (Record, bool, error) {
	if e.closed.Load() {
		return Record{}, false, ErrClosed
	}
	if r, ok := e.mt.Load().get(key); ok {
		return r, true, nil
	}

	// Acquire a reference on every table while still holding tablesMu, so a
	// concurrent Compact publishing and retiring its inputs either happens
	// entirely before this RLock or has to wait for it: it can never retire
	// a table between the copy and the acquire below.
	e.tablesMu.RLock()
	tables := make([]*sstable, len(e.tables))
	copy(tables, e.tables)
	for _, t := range tables {
		t.acquire()
	}
	e.tablesMu.RUnlock()
	defer func() {
		for _, t := range tables {
			t.release()
		}
	}()

	for _, t := range tables {
		r, ok, err := t.get(key)
		if err != nil {
			return Record{}, false, err
		}
		if ok {
			return r, true, nil
		}
	}
	return Record{}, false, nil
}

// Range returns every live record with from <= key < to, in ascending
// order, tombstones excluded, each key at most once. Nil endpoints mean
// unbounded on that side.
func (e *Engine) Range(from, to []byte) ([]Record, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	sources, tables := e.mergeSources(from, to)
	defer func() {
		for _, t := range tables {
			t.release()
		}
	}()

	it := newMergeIterator(sources)
	var out []Record
	for it.hasNext() {
		r := it.value()
		if !r.Tombstone {
			out = append(out, r)
		}
	}
	return out, nil
}

// mergeSources snapshots the memtable and every live segment into sources
// ordered newest-first, acquiring a reference on each segment before
// releasing tablesMu so a concurrent Compact can retire its inputs but
// never close or remove one still backing this snapshot. The caller must
// release the returned tables once done iterating.
func (e *Engine) mergeSources(from, to []byte) ([]source, []*sstable) {
	snap := e.mt.Load().snapshot(from, to)
	sources := []source{&sliceSource{records: snap}}

	e.tablesMu.RLock()
	tables := make([]*sstable, len(e.tables))
	copy(tables, e.tables)
	for _, t := range tables {
		t.acquire()
	}
	e.tablesMu.RUnlock()

	for _, t := range tables {
		sources = append(sources, t.iterator(from, to))
	}
	return sources, tables
}

// Compact merges every SSTable present at the time it starts and the
// active memtable into a single new SSTable, drops tombstones that shadow
// nothing older, and atomically swaps the compacted tables out for the
// new one, leaving any table a concurrent Upsert-triggered flush added in
// the meantime untouched. The superseded tables are retired rather than
// closed outright, so a Get or Range already iterating one of them keeps
// reading a valid file until it finishes; only then is it actually closed
// and removed from disk. Compact is idempotent: calling it again
// immediately, or on an engine with nothing to compact, is a harmless
// no-op. It never invalidates the engine; Close remains a separate, later
// call.
func (e *Engine) Compact(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}

	e.writeMu.Lock()
	flushing := e.mt.Load()
	e.mt.Store(newMemtable())
	e.writeMu.Unlock()

	if flushing.size() > 0 {
		if err := e.flush(flushing); err != nil {
			return err
		}
	}

	e.tablesMu.RLock()
	tables := make([]*sstable, len(e.tables))
	copy(tables, e.tables)
	e.tablesMu.RUnlock()

	if len(tables) <= 1 {
		return nil
	}

	sources := make([]source, len(tables))
	for i, t := range tables {
		sources[i] = t.iterator(nil, nil)
	}
	it := newMergeIterator(sources)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	e.tablesMu.Lock()
	seq := e.nextSeq
	e.nextSeq++
	e.tablesMu.Unlock()

	w, err := createSSTable(e.cfg.Dir, seq)
	if err != nil {
		return err
	}
	for it.hasNext() {
		r := it.value()
		// This pass covers every segment there is, so a tombstone
		// surviving the merge (the newest record for its key) shadows
		// nothing older and can be dropped for good.
		if r.Tombstone {
			continue
		}
		if err := w.add(r); err != nil {
			w.abort()
			return err
		}
	}
	newTable, err := w.finish()
	if err != nil {
		return err
	}

	// Publish by removing exactly the tables this pass compacted, keeping
	// any table a concurrent flush may have prepended in the meantime:
	// e.tables may have grown since the snapshot taken above, and
	// overwriting it wholesale would silently drop that new data.
	e.tablesMu.Lock()
	compacted := make(map[*sstable]bool, len(tables))
	for _, t := range tables {
		compacted[t] = true
	}
	survivors := make([]*sstable, 0, len(e.tables)-len(tables)+1)
	for _, t := range e.tables {
		if !compacted[t] {
			survivors = append(survivors, t)
		}
	}
	e.tables = append(survivors, newTable)
	e.tablesMu.Unlock()

	// retire drops the tables slice's own reference on each superseded
	// segment; a Get or Range already mid-read against one of them is
	// holding its own reference via acquire, so the file is only actually
	// closed and unlinked once that reader releases it.
	for _, t := range tables {
		t.retire()
	}
	return nil
}

// Close persists any non-empty memtable as a final SSTable, then releases
// file handles. The engine is unusable afterward.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	e.writeMu.Lock()
	flushing := e.mt.Load()
	e.writeMu.Unlock()

	if flushing.size() > 0 {
		if err := e.flush(flushing); err != nil {
			return err
		}
	}

	e.tablesMu.Lock()
	defer e.tablesMu.Unlock()
	for _, t := range e.tables {
		if err := t.close(); err != nil {
			return err
		}
	}
	return nil
}
