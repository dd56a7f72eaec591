package coordinator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
)

// fakePeer is an in-memory stand-in for a remote node, letting coordinator
// tests exercise fan-out and quorum logic without real HTTP sockets.
type fakePeer struct {
	mu      sync.Mutex
	records map[string]lsm.Record
	down    bool
	delay   time.Duration
}

func newFakePeer() *fakePeer {
	return &fakePeer{records: make(map[string]lsm.Record)}
}

func (p *fakePeer) put(key, value []byte, ts uint64) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return fmt.Errorf("peer down")
	}
	p.records[string(key)] = lsm.NewPresent(key, value, ts)
	return nil
}

func (p *fakePeer) delete(key []byte, ts uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return fmt.Errorf("peer down")
	}
	p.records[string(key)] = lsm.NewTombstone(key, ts)
	return nil
}

func (p *fakePeer) get(key []byte) (lsm.Record, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.down {
		return lsm.Record{}, false, fmt.Errorf("peer down")
	}
	r, ok := p.records[string(key)]
	return r, ok, nil
}

// fakePeerClient dispatches to a map of peer URL -> *fakePeer instead of
// issuing real HTTP requests.
type fakePeerClient struct {
	peers map[string]*fakePeer
}

func (c *fakePeerClient) Put(ctx context.Context, peerURL string, key, value []byte, timestamp uint64) error {
	return c.peers[peerURL].put(key, value, timestamp)
}

func (c *fakePeerClient) Delete(ctx context.Context, peerURL string, key []byte, timestamp uint64) error {
	return c.peers[peerURL].delete(key, timestamp)
}

func (c *fakePeerClient) Get(ctx context.Context, peerURL string, key []byte) ([]byte, uint64, bool, bool, error) {
	r, ok, err := c.peers[peerURL].get(key)
	if err != nil {
		return nil, 0, false, false, err
	}
	if !ok {
		return nil, 0, false, false, nil
	}
	return r.Value, r.Timestamp, r.Tombstone, true, nil
}

// newTestCoordinator builds a 3-node cluster where node 0 is local
// (backed by a real Engine in a temp directory) and nodes 1, 2 are
// fakePeers.
func newTestCoordinator(t *testing.T) (*Coordinator, *fakePeer, *fakePeer) {
	t.Helper()
	urls := []string{"node-0", "node-1", "node-2"}
	topo, err := topology.New(urls, "node-0")
	require.NoError(t, err)
	local, err := lsm.Open(lsm.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	p1, p2 := newFakePeer(), newFakePeer()
	client := &fakePeerClient{peers: map[string]*fakePeer{"node-1": p1, "node-2": p2}}

	return New(Config{Topology: topo, Local: local, Peers: client}), p1, p2
}

func TestCoordinatorPutThenGetReadsYourWrite(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	q := Quorum{Ack: 3, From: 3}

	_, err := c.Put(context.Background(), []byte("k"), []byte("v1"), q, time.Second)
	require.NoError(t, err)

	result, err := c.Get(context.Background(), []byte("k"), q, time.Second)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.False(t, result.Tombstone)
	require.Equal(t, "v1", string(result.Value))
}

func TestCoordinatorQuorumUnmetWhenPeersDown(t *testing.T) {
	c, p1, p2 := newTestCoordinator(t)
	p1.mu.Lock()
	p1.down = true
	p1.mu.Unlock()
	p2.mu.Lock()
	p2.down = true
	p2.mu.Unlock()

	q := Quorum{Ack: 3, From: 3}
	_, err := c.Put(context.Background(), []byte("k"), []byte("v1"), q, 200*time.Millisecond)
	require.Error(t, err)
	require.IsType(t, &QuorumUnmetError{}, err)
}

func TestCoordinatorLastWriteWinsAcrossReplicas(t *testing.T) {
	c, p1, _ := newTestCoordinator(t)
	// Simulate p1 already holding a newer write than the one stored
	// locally (p2 holds nothing for the key), so Get must prefer p1's
	// record.
	require.NoError(t, p1.put([]byte("k"), []byte("newer"), 100))
	require.NoError(t, c.LocalEngine().Upsert(lsm.NewPresent([]byte("k"), []byte("older"), 1)))

	// ack=from=3 forces the fan-out to wait for every replica, so the
	// resolution step is guaranteed to see p1's fresher record rather
	// than racing ahead on whichever two replicas answer first.
	q := Quorum{Ack: 3, From: 3}
	result, err := c.Get(context.Background(), []byte("k"), q, time.Second)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "newer", string(result.Value))
	require.Equal(t, uint64(100), result.Timestamp)
}

func TestCoordinatorTombstoneDominatesOnTie(t *testing.T) {
	a := replicaResultFixture(false, 5)
	b := replicaResultFixture(true, 5)
	if !recordWins(b, a) {
		t.Fatalf("expected tombstone to win tie at equal timestamp")
	}
	if recordWins(a, b) {
		t.Fatalf("present value must not win over tombstone at equal timestamp")
	}
}

func replicaResultFixture(tombstone bool, ts uint64) replicaResult {
	return replicaResult{found: true, tombstone: tombstone, timestamp: ts}
}

func TestParseQuorumRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		ack, from, clusterSize int
	}{
		{0, 3, 3},
		{4, 3, 3},
		{2, 5, 3},
	}
	for _, c := range cases {
		if _, err := ParseQuorum(c.ack, c.from, c.clusterSize); err == nil {
			t.Fatalf("expected error for ack=%d from=%d clusterSize=%d", c.ack, c.from, c.clusterSize)
		}
	}
}
