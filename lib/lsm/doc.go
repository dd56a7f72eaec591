// Package lsm implements a log-structured merge-tree storage engine for a
// single node: a mutable in-memory memtable, immutable on-disk SSTables,
// crash-safe flush, compaction, and a merged, deduplicated, tombstone-aware
// range iterator.
//
// Architecture:
//
//	Write path:  Upsert -> memtable (size-bounded) -> flush -> SSTable
//	Read path:   Range  -> merge(memtable, SSTable_n, ..., SSTable_0)
//	Compaction:  merge(memtable, all SSTables) -> one new SSTable
//
// There is no write-ahead log: data not yet flushed at crash is lost by
// design, matching a plain DAO contract rather than a raft-backed
// durability model.
package lsm
