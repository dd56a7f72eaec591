package lsm

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// On-disk SSTable format:
//
//	data section:  repeated records, in ascending key order
//	  u32 keyLen | key | u8 tombstone | u64 timestamp | i32 valueLen | value?
//	  (valueLen is -1 and value is omitted when tombstone == 1)
//	index section: repeated
//	  u32 keyLen | key | u64 offset   (offset points into the data section)
//	footer (fixed 16 bytes):
//	  u64 indexOffset | u32 indexCount | u32 magic
const sstableMagic = 0x4b56534d // "KVSM"

const sstablePrefix = "sst_"
const tmpPrefix = "tmp_"

// sstIndexEntry is one entry of an in-memory index loaded from a segment's
// index section.
type sstIndexEntry struct {
	key    []byte
	offset int64
}

// sstable is a read-only handle to one immutable on-disk segment. seq
// orders segments newest-first among siblings: higher seq is newer.
//
// refs starts at 1, representing the engine's tables slice holding the
// segment live. Get and Range acquire an extra ref before reading from
// the file and release it when done; Compact's retire drops the owning
// ref. The file is only closed and unlinked once refs reaches zero after
// retire, so a reader with an in-flight snapshot never sees a closed or
// deleted file out from under it.
type sstable struct {
	path  string
	seq   int
	file  *os.File
	index []sstIndexEntry

	refs     atomic.Int32
	obsolete atomic.Bool
}

// sstablePath builds the canonical path for segment seq within dir.
func sstablePath(dir string, seq int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d", sstablePrefix, seq))
}

// parseSSTableSeq extracts the sequence number from a segment filename,
// returning ok=false for anything not matching the sst_<n> pattern.
func parseSSTableSeq(name string) (int, bool) {
	rest := strings.TrimPrefix(name, sstablePrefix)
	if rest == name {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// cleanTempFiles removes any tmp_* leftovers from a segment write that
// crashed before its rename, so open() never sees a half-written segment.
func cleanTempFiles(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), tmpPrefix) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// listSSTables scans dir and opens every segment found, returning them
// ordered newest-first (highest seq first).
func listSSTables(dir string) ([]*sstable, error) {
	if err := cleanTempFiles(dir); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var tables []*sstable
	for _, e := range entries {
		seq, ok := parseSSTableSeq(e.Name())
		if !ok {
			continue
		}
		t, err := openSSTable(filepath.Join(dir, e.Name()), seq)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].seq > tables[j].seq })
	return tables, nil
}

func openSSTable(path string, seq int) (*sstable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < 16 {
		f.Close()
		return nil, fmt.Errorf("%w: %s too small", ErrCorruptSSTable, path)
	}

	var footer [16]byte
	if _, err := f.ReadAt(footer[:], info.Size()-16); err != nil {
		f.Close()
		return nil, err
	}
	indexOffset := int64(binary.BigEndian.Uint64(footer[0:8]))
	indexCount := binary.BigEndian.Uint32(footer[8:12])
	magic := binary.BigEndian.Uint32(footer[12:16])
	if magic != sstableMagic {
		f.Close()
		return nil, fmt.Errorf("%w: %s bad magic", ErrCorruptSSTable, path)
	}

	if _, err := f.Seek(indexOffset, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	r := bufio.NewReader(f)
	index := make([]sstIndexEntry, 0, indexCount)
	for i := uint32(0); i < indexCount; i++ {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorruptSSTable, err)
		}
		keyLen := binary.BigEndian.Uint32(lenBuf[:])
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorruptSSTable, err)
		}
		var offBuf [8]byte
		if _, err := io.ReadFull(r, offBuf[:]); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", ErrCorruptSSTable, err)
		}
		index = append(index, sstIndexEntry{key: key, offset: int64(binary.BigEndian.Uint64(offBuf[:]))})
	}

	t := &sstable{path: path, seq: seq, file: f, index: index}
	t.refs.Store(1)
	return t, nil
}

func (s *sstable) close() error {
	return s.file.Close()
}

// acquire adds a reader reference, keeping the segment's file open and its
// path on disk even if Compact retires it before the reader releases.
func (s *sstable) acquire() {
	s.refs.Add(1)
}

// release drops a reference taken by acquire. If the segment has been
// retired and this was the last outstanding reference, its file is closed
// and its path removed.
func (s *sstable) release() {
	if s.refs.Add(-1) == 0 && s.obsolete.Load() {
		s.file.Close()
		os.Remove(s.path)
	}
}

// retire drops the owning reference the tables slice held, marking the
// segment obsolete. Once every reader that had already acquired a
// reference releases it, the file is closed and removed; if there are no
// such readers, that happens immediately.
func (s *sstable) retire() {
	s.obsolete.Store(true)
	s.release()
}

// readRecordAt reads exactly one record starting at byte offset off.
func (s *sstable) readRecordAt(off int64) (Record, error) {
	r := io.NewSectionReader(s.file, off, 1<<62)
	return readRecord(r)
}

func readRecord(r io.Reader) (Record, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Record{}, err
	}
	keyLen := binary.BigEndian.Uint32(lenBuf[:])
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Record{}, err
	}
	var meta [9]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return Record{}, err
	}
	tombstone := meta[0] != 0
	timestamp := binary.BigEndian.Uint64(meta[1:9])
	if tombstone {
		return NewTombstone(key, timestamp), nil
	}
	var vlenBuf [4]byte
	if _, err := io.ReadFull(r, vlenBuf[:]); err != nil {
		return Record{}, err
	}
	valueLen := binary.BigEndian.Uint32(vlenBuf[:])
	value := make([]byte, valueLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return Record{}, err
	}
	return NewPresent(key, value, timestamp), nil
}

func writeRecord(w io.Writer, r Record) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(r.Key)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(r.Key); err != nil {
		return err
	}
	var meta [9]byte
	if r.Tombstone {
		meta[0] = 1
	}
	binary.BigEndian.PutUint64(meta[1:9], r.Timestamp)
	if _, err := w.Write(meta[:]); err != nil {
		return err
	}
	var vlenBuf [4]byte
	if r.Tombstone {
		binary.BigEndian.PutUint32(vlenBuf[:], uint32(0xFFFFFFFF)) // i32 -1
		_, err := w.Write(vlenBuf[:])
		return err
	}
	binary.BigEndian.PutUint32(vlenBuf[:], uint32(len(r.Value)))
	if _, err := w.Write(vlenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(r.Value)
	return err
}

// get performs a binary search over the in-memory index followed by a
// single seek-and-read against the underlying file.
func (s *sstable) get(key []byte) (Record, bool, error) {
	i := sort.Search(len(s.index), func(i int) bool {
		return string(s.index[i].key) >= string(key)
	})
	if i >= len(s.index) || string(s.index[i].key) != string(key) {
		return Record{}, false, nil
	}
	r, err := s.readRecordAt(s.index[i].offset)
	if err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// iterator returns a sstableSource yielding every record in [from, to) in
// ascending key order.
func (s *sstable) iterator(from, to []byte) *sstableSource {
	start := 0
	if from != nil {
		start = sort.Search(len(s.index), func(i int) bool {
			return string(s.index[i].key) >= string(from)
		})
	}
	return &sstableSource{table: s, pos: start, to: to}
}

// sstableSource is a forward-only cursor over one segment's index range,
// implementing the source interface consumed by the merging iterator.
type sstableSource struct {
	table *sstable
	pos   int
	to    []byte
	cur   Record
	err   error
	ready bool
}

func (s *sstableSource) advance() bool {
	if s.pos >= len(s.table.index) {
		return false
	}
	entry := s.table.index[s.pos]
	if s.to != nil && string(entry.key) >= string(s.to) {
		return false
	}
	r, err := s.table.readRecordAt(entry.offset)
	if err != nil {
		s.err = err
		return false
	}
	s.cur = r
	s.pos++
	s.ready = true
	return true
}

func (s *sstableSource) peek() (Record, bool) {
	if !s.ready {
		if !s.advance() {
			return Record{}, false
		}
	}
	return s.cur, true
}

func (s *sstableSource) next() {
	s.ready = false
}

// sstableWriter builds one new immutable segment, writing to a tmp_ path
// and renaming into place only once the footer is durably flushed.
type sstableWriter struct {
	dir     string
	seq     int
	tmpPath string
	final   string
	file    *os.File
	w       *bufio.Writer
	offset  int64
	index   []sstIndexEntry
}

func createSSTable(dir string, seq int) (*sstableWriter, error) {
	tmpPath := filepath.Join(dir, fmt.Sprintf("%s%d", tmpPrefix, seq))
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &sstableWriter{
		dir:     dir,
		seq:     seq,
		tmpPath: tmpPath,
		final:   sstablePath(dir, seq),
		file:    f,
		w:       bufio.NewWriter(f),
	}, nil
}

// add appends r to the segment. Callers must supply records in ascending
// key order; add does not sort.
func (w *sstableWriter) add(r Record) error {
	w.index = append(w.index, sstIndexEntry{key: cloneBytes(r.Key), offset: w.offset})
	return writeRecord(w, r)
}

// Write implements io.Writer, tracking the running byte offset so add can
// record each record's starting position without a second pass.
func (w *sstableWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.offset += int64(n)
	return n, err
}

// finish writes the index and footer, fsyncs, and atomically renames the
// segment into place. On success it returns an opened reader for it.
func (w *sstableWriter) finish() (*sstable, error) {
	indexOffset := w.offset
	for _, e := range w.index {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.key)))
		if _, err := w.w.Write(lenBuf[:]); err != nil {
			return nil, err
		}
		if _, err := w.w.Write(e.key); err != nil {
			return nil, err
		}
		var offBuf [8]byte
		binary.BigEndian.PutUint64(offBuf[:], uint64(e.offset))
		if _, err := w.w.Write(offBuf[:]); err != nil {
			return nil, err
		}
	}
	var footer [16]byte
	binary.BigEndian.PutUint64(footer[0:8], uint64(indexOffset))
	binary.BigEndian.PutUint32(footer[8:12], uint32(len(w.index)))
	binary.BigEndian.PutUint32(footer[12:16], sstableMagic)
	if _, err := w.w.Write(footer[:]); err != nil {
		return nil, err
	}
	if err := w.w.Flush(); err != nil {
		return nil, err
	}
	if err := w.file.Sync(); err != nil {
		return nil, err
	}
	if err := w.file.Close(); err != nil {
		return nil, err
	}
	if err := os.Rename(w.tmpPath, w.final); err != nil {
		return nil, err
	}
	return openSSTable(w.final, w.seq)
}

// abort discards a partially written segment, used when flush fails
// midway so no tmp_ file lingers.
func (w *sstableWriter) abort() {
	w.file.Close()
	os.Remove(w.tmpPath)
}
