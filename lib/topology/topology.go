// Package topology maps keys to an ordered list of replica node URLs over a
// fixed cluster.
//
// The scoring function extends an FNV-1a seeded hash into a rendezvous
// (highest-random-weight) hash: for a key, every node URL is scored by
// hashing the key together with the node's own identity and passing the
// result through a 64-bit finalizer, and nodes are
// ordered by descending score. This gives a deterministic total order per
// key without needing to build and rebalance a hash ring, and adding or
// removing a node only reshuffles the keys that hashed to it (not
// evaluated further, since cluster membership is fixed at process start).
package topology

import (
	"fmt"
	"sort"
)

// Topology holds the fixed, ordered set of node URLs known at construction.
type Topology struct {
	self  string
	nodes []string
}

// New builds a Topology from the full set of cluster node URLs and the URL
// identifying the local node (which must be a member of nodes).
func New(nodes []string, self string) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("topology: at least one node is required")
	}
	found := false
	deduped := make([]string, 0, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			continue
		}
		seen[n] = true
		deduped = append(deduped, n)
		if n == self {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("topology: self URL %q is not a member of the node list", self)
	}
	// Sort once for a canonical base order; ReplicaSet re-sorts by score
	// per key, so this only affects ties, which cannot occur with a good
	// hash, but keeps output deterministic across process restarts.
	sorted := append([]string(nil), deduped...)
	sort.Strings(sorted)
	return &Topology{self: self, nodes: sorted}, nil
}

// Self returns the URL of the local node.
func (t *Topology) Self() string {
	return t.self
}

// Size returns the number of nodes in the cluster.
func (t *Topology) Size() int {
	return len(t.nodes)
}

// Nodes returns the full node list in canonical order.
func (t *Topology) Nodes() []string {
	out := make([]string, len(t.nodes))
	copy(out, t.nodes)
	return out
}

type scoredNode struct {
	url   string
	score uint64
}

// ReplicaSet returns the first `from` nodes of the deterministic
// rendezvous ordering for the given key. A `from` larger than the cluster
// size is clamped to it (rpc/coordinator already rejects such values before
// calling this).
func (t *Topology) ReplicaSet(key []byte, from int) []string {
	if from > len(t.nodes) {
		from = len(t.nodes)
	}
	scored := make([]scoredNode, len(t.nodes))
	for i, node := range t.nodes {
		scored[i] = scoredNode{url: node, score: rendezvousScore(node, key)}
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		// stable tiebreak on URL keeps the order deterministic even in the
		// astronomically unlikely case of a score collision
		return scored[i].url < scored[j].url
	})
	out := make([]string, from)
	for i := 0; i < from; i++ {
		out[i] = scored[i].url
	}
	return out
}

// IsLocal reports whether the given node URL is this process's own node.
func (t *Topology) IsLocal(node string) bool {
	return node == t.self
}

// rendezvousScore combines the node identity into the hash seed so each
// node produces an independent score distribution for the same key.
func rendezvousScore(node string, key []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	hash := uint64(offset64)
	for i := 0; i < len(node); i++ {
		hash ^= uint64(node[i])
		hash *= prime64
	}
	// mix in a separator so "ab"+"c" and "a"+"bc" don't collide
	hash ^= 0xA5
	hash *= prime64
	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= prime64
	}
	// final avalanche so the scores of different nodes for the same key are
	// not correlated through the shared key suffix
	hash ^= hash >> 33
	hash *= 0xff51afd7ed558ccd
	hash ^= hash >> 33
	hash *= 0xc4ceb9fe1a85ec53
	hash ^= hash >> 33
	return hash
}
