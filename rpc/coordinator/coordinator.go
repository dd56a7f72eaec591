// Package coordinator implements the replication coordinator:
// per-request fan-out to a key's replica set, quorum collection, and
// last-write-wins resolution of GET responses.
//
// Fan-out is modeled around a lock-free MPSC queue (internal/queue.MPSC):
// every replica attempt is an independent producer
// goroutine, and the request handler is the single consumer draining
// results until it has accumulated ack successes or can no longer reach
// ack (from-ack+1 failures), at which point it stops waiting and any
// still-outstanding attempts are abandoned.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvnode/kvnode/internal/logging"
	"github.com/kvnode/kvnode/internal/queue"
	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
)

var log = logging.Get("coordinator")

// Coordinator is the per-node replication coordinator. One Coordinator is
// shared across all HTTP handlers on a node.
type Coordinator struct {
	topo  *topology.Topology
	local *lsm.Engine
	peers PeerClient

	// lastTimestamp is a per-process monotonic guard: wall-clock
	// millisecond timestamps from a single coordinator are not
	// guaranteed strictly increasing across back-to-back writes. Every
	// assigned timestamp is bumped past both the wall clock and the
	// previous one, so two writes from this coordinator are never
	// assigned the same timestamp out of order.
	lastTimestamp atomic.Uint64
}

// New builds a Coordinator from cfg. cfg.Peers defaults to an
// HTTP-backed PeerClient if nil.
func New(cfg Config) *Coordinator {
	peers := cfg.Peers
	if peers == nil {
		peers = NewHTTPPeerClient()
	}
	return &Coordinator{topo: cfg.Topology, local: cfg.Local, peers: peers}
}

// Topology exposes the coordinator's cluster view, e.g. so the HTTP layer
// can compute cluster size for quorum validation.
func (c *Coordinator) Topology() *topology.Topology {
	return c.topo
}

// LocalEngine exposes the node's own storage engine so the HTTP layer can
// bypass coordination entirely for internal replica hops.
func (c *Coordinator) LocalEngine() *lsm.Engine {
	return c.local
}

// nextTimestamp assigns a fresh write timestamp, monotonically past any
// previously assigned one.
func (c *Coordinator) nextTimestamp() uint64 {
	now := uint64(time.Now().UnixMilli())
	for {
		prev := c.lastTimestamp.Load()
		next := now
		if next <= prev {
			next = prev + 1
		}
		if c.lastTimestamp.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// deadline clamps the caller-supplied deadline to (0, MaxDeadline],
// falling back to DefaultDeadline when d is zero or negative.
func deadline(d time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultDeadline
	}
	if d > MaxDeadline {
		d = MaxDeadline
	}
	return d
}

// Put assigns a fresh timestamp, writes it to at least q.Ack of the
// key's q.From replicas, and returns the timestamp that was written.
func (c *Coordinator) Put(ctx context.Context, key, value []byte, q Quorum, d time.Duration) (uint64, error) {
	ts := c.nextTimestamp()
	replicas := c.topo.ReplicaSet(key, q.From)
	results := c.fanOut(ctx, deadline(d), q, replicas, func(ctx context.Context, peer string) replicaResult {
		var err error
		if c.topo.IsLocal(peer) {
			err = c.local.Upsert(lsm.NewPresent(key, value, ts))
		} else {
			err = c.peers.Put(ctx, peer, key, value, ts)
		}
		return replicaResult{peer: peer, err: err}
	})
	recordOutcome("put", results, results.acked >= q.Ack)
	if results.acked < q.Ack {
		return 0, &QuorumUnmetError{Ack: q.Ack, From: q.From, Acquired: results.acked}
	}
	return ts, nil
}

// Delete assigns a fresh timestamp, writes a tombstone at that timestamp
// to at least q.Ack of the key's q.From replicas.
func (c *Coordinator) Delete(ctx context.Context, key []byte, q Quorum, d time.Duration) (uint64, error) {
	ts := c.nextTimestamp()
	replicas := c.topo.ReplicaSet(key, q.From)
	results := c.fanOut(ctx, deadline(d), q, replicas, func(ctx context.Context, peer string) replicaResult {
		var err error
		if c.topo.IsLocal(peer) {
			err = c.local.Upsert(lsm.NewTombstone(key, ts))
		} else {
			err = c.peers.Delete(ctx, peer, key, ts)
		}
		return replicaResult{peer: peer, err: err}
	})
	recordOutcome("delete", results, results.acked >= q.Ack)
	if results.acked < q.Ack {
		return 0, &QuorumUnmetError{Ack: q.Ack, From: q.From, Acquired: results.acked}
	}
	return ts, nil
}

// GetResult is the coordinator's resolved view of a key after merging
// quorum responses by last-write-wins.
type GetResult struct {
	Found     bool
	Tombstone bool
	Value     []byte
	Timestamp uint64
}

// Get fans a read out to the key's replica set and resolves the ack
// collected responses by last-write-wins: the response with the greatest
// timestamp wins, a tombstone breaking ties.
func (c *Coordinator) Get(ctx context.Context, key []byte, q Quorum, d time.Duration) (GetResult, error) {
	replicas := c.topo.ReplicaSet(key, q.From)
	results := c.fanOut(ctx, deadline(d), q, replicas, func(ctx context.Context, peer string) replicaResult {
		if c.topo.IsLocal(peer) {
			r, found, err := c.local.Get(key)
			if err != nil {
				return replicaResult{peer: peer, err: err}
			}
			return replicaResult{peer: peer, found: found, value: r.Value, timestamp: r.Timestamp, tombstone: r.Tombstone}
		}
		value, ts, tombstone, found, err := c.peers.Get(ctx, peer, key)
		return replicaResult{peer: peer, found: found, value: value, timestamp: ts, tombstone: tombstone, err: err}
	})
	recordOutcome("get", results, results.acked >= q.Ack)
	if results.acked < q.Ack {
		return GetResult{}, &QuorumUnmetError{Ack: q.Ack, From: q.From, Acquired: results.acked}
	}

	var best *replicaResult
	for i := range results.responses {
		r := &results.responses[i]
		if !r.found {
			continue
		}
		if best == nil || recordWins(*r, *best) {
			best = r
		}
	}
	if best == nil {
		return GetResult{}, nil
	}
	return GetResult{Found: true, Tombstone: best.tombstone, Value: best.value, Timestamp: best.timestamp}, nil
}

// recordWins reports whether a should be preferred over b under
// last-write-wins with tombstone-beats-present tie-breaking, mirroring
// lsm.Record.Newer for wire-level replica responses.
func recordWins(a, b replicaResult) bool {
	if a.timestamp != b.timestamp {
		return a.timestamp > b.timestamp
	}
	return a.tombstone && !b.tombstone
}

// fanOutResult aggregates the outcome of one fan-out round.
type fanOutResult struct {
	acked     int
	responses []replicaResult
}

// fanOut issues op against every replica concurrently and collects
// results from an MPSC queue until q.Ack successes are in (quorum met),
// or q.From-q.Ack+1 failures are in (quorum no longer reachable), or the
// deadline expires — whichever comes first. Once the decision is made,
// fanOut returns and cancels the shared context, so still-outstanding
// peer requests are cancelled and any results they still produce are
// ignored.
func (c *Coordinator) fanOut(ctx context.Context, d time.Duration, q Quorum, replicas []string, op func(ctx context.Context, peer string) replicaResult) fanOutResult {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	q2 := queue.New[replicaResult]()
	var wg sync.WaitGroup
	for _, peer := range replicas {
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			r := op(ctx, peer)
			q2.Push(&r)
		}(peer)
	}
	go func() {
		wg.Wait()
		q2.Close()
	}()

	maxFailures := q.From - q.Ack + 1
	var acked, failed int
	var responses []replicaResult
	recv := q2.Recv()
	for {
		select {
		case r, ok := <-recv:
			if !ok {
				return fanOutResult{acked: acked, responses: responses}
			}
			responses = append(responses, *r)
			if r.err != nil {
				failed++
				log.Warnf("replica %s failed: %v", r.peer, r.err)
			} else {
				acked++
			}
			if acked >= q.Ack || failed >= maxFailures {
				return fanOutResult{acked: acked, responses: responses}
			}
		case <-ctx.Done():
			return fanOutResult{acked: acked, responses: responses}
		}
	}
}
