package lsm

import "container/heap"

// source is a forward-only, already-sorted stream of records consumed by
// the merging iterator. Both the memtable snapshot and each sstable
// segment are adapted to this interface.
type source interface {
	peek() (Record, bool)
	next()
}

// sliceSource adapts an in-memory, pre-sorted slice (the memtable
// snapshot) to the source interface.
type sliceSource struct {
	records []Record
	pos     int
}

func (s *sliceSource) peek() (Record, bool) {
	if s.pos >= len(s.records) {
		return Record{}, false
	}
	return s.records[s.pos], true
}

func (s *sliceSource) next() {
	s.pos++
}

// heapEntry tracks one source in the merge heap. age orders sources from
// newest (0) to oldest; when two sources agree on the current key, the
// entry with the smaller age wins. Only source position decides this;
// record timestamps are not compared.
type heapEntry struct {
	src source
	age int
}

// sourceHeap is a min-heap ordered by (key, age): the record that should
// be emitted or considered next always sits at the top.
type sourceHeap []*heapEntry

func (h sourceHeap) Len() int { return len(h) }

func (h sourceHeap) Less(i, j int) bool {
	ri, _ := h[i].src.peek()
	rj, _ := h[j].src.peek()
	c := compareBytes(ri.Key, rj.Key)
	if c != 0 {
		return c < 0
	}
	return h[i].age < h[j].age
}

func (h sourceHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *sourceHeap) Push(x any) { *h = append(*h, x.(*heapEntry)) }

func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

func compareBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// mergeIterator produces the deduplicated, ascending-key view over a set
// of sources ordered from newest to oldest. Tombstones are surfaced to the
// caller rather than silently dropped: Range filters them for external
// reads, and compaction sees the winning tombstone consume the older
// copies of its key before it drops the tombstone itself.
type mergeIterator struct {
	h    sourceHeap
	next *Record
}

// newMergeIterator builds an iterator over sources, which must be ordered
// newest-first (sources[0] is the freshest).
func newMergeIterator(sources []source) *mergeIterator {
	h := make(sourceHeap, 0, len(sources))
	for i, s := range sources {
		if _, ok := s.peek(); ok {
			h = append(h, &heapEntry{src: s, age: i})
		}
	}
	heap.Init(&h)
	m := &mergeIterator{h: h}
	m.advance()
	return m
}

// advance computes the next winning record, consuming every source that
// currently sits on the same key so that older shadowed copies are
// dropped from the stream entirely.
func (m *mergeIterator) advance() {
	if m.h.Len() == 0 {
		m.next = nil
		return
	}
	top := m.h[0]
	winner, _ := top.src.peek()

	for m.h.Len() > 0 {
		e := m.h[0]
		r, ok := e.src.peek()
		if !ok || compareBytes(r.Key, winner.Key) != 0 {
			break
		}
		heap.Pop(&m.h)
		e.src.next()
		if _, ok := e.src.peek(); ok {
			heap.Push(&m.h, e)
		}
	}
	m.next = &winner
}

// hasNext reports whether another record is available.
func (m *mergeIterator) hasNext() bool {
	return m.next != nil
}

// value returns the current winning record and advances the iterator.
func (m *mergeIterator) value() Record {
	r := *m.next
	m.advance()
	return r
}
