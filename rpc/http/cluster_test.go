package http

import (
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"testing"

	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
	"github.com/kvnode/kvnode/rpc/coordinator"
)

// testNode is one in-process cluster member: its own storage engine, its
// own coordinator, and an httptest server exposing the HTTP surface — the
// same "many nodes, one process" shape an in-process multi-node test
// harness uses, adapted to Go's httptest instead of spawning real
// processes.
type testNode struct {
	url    string
	addr   string
	engine *lsm.Engine
	server *httptest.Server

	urls  []string
	index int
}

// newTestCluster boots n in-process nodes sharing one fixed topology.
func newTestCluster(t *testing.T, n int) []*testNode {
	t.Helper()

	urls := make([]string, n)
	nodes := make([]*testNode, n)
	for i := 0; i < n; i++ {
		e, err := lsm.Open(lsm.Config{Dir: t.TempDir()})
		if err != nil {
			t.Fatalf("open engine %d: %v", i, err)
		}
		nodes[i] = &testNode{engine: e, index: i}
	}

	// Placeholder URLs first so every node's topology can be built with
	// the full, final node list before any server starts listening.
	for i := range nodes {
		urls[i] = fmt.Sprintf("placeholder-%d", i)
	}

	for i, n := range nodes {
		topo, err := topology.New(urls, urls[i])
		if err != nil {
			t.Fatalf("topology %d: %v", i, err)
		}
		coord := coordinator.New(coordinator.Config{
			Topology: topo,
			Local:    n.engine,
			Peers:    coordinator.NewHTTPPeerClient(),
		})
		srv := NewServer(Config{Coordinator: coord})
		n.server = httptest.NewServer(srv.Handler())
		n.url = n.server.URL
		n.addr = n.server.Listener.Addr().String()
		urls[i] = n.server.URL
	}

	// Second pass: now that every node has a real listening URL, rebuild
	// each node's topology and coordinator against the final URL set.
	for _, n := range nodes {
		n.urls = urls
		n.rebuildHandler(t)
	}

	t.Cleanup(func() {
		for _, n := range nodes {
			n.server.Close()
			n.engine.Close()
		}
	})
	return nodes
}

// rebuildHandler swaps in a fresh coordinator/topology pair built from
// n.urls, leaving the listening server (and its address) untouched.
func (n *testNode) rebuildHandler(t *testing.T) {
	t.Helper()
	topo, err := topology.New(n.urls, n.url)
	if err != nil {
		t.Fatalf("topology rebuild %d: %v", n.index, err)
	}
	coord := coordinator.New(coordinator.Config{
		Topology: topo,
		Local:    n.engine,
		Peers:    coordinator.NewHTTPPeerClient(),
	})
	n.server.Config.Handler = NewServer(Config{Coordinator: coord}).Handler()
}

// stop takes a node's server offline without destroying its storage or its
// address, so tests can restart it later at the same URL.
func (n *testNode) stop() {
	n.server.Close()
}

// restart rebinds the node's listener at its original address and serves
// again against the same (never-closed) storage engine, simulating a node
// that went down and came back without losing its data.
func (n *testNode) restart(t *testing.T) {
	t.Helper()
	l, err := net.Listen("tcp", n.addr)
	if err != nil {
		t.Fatalf("restart node %d: listen %s: %v", n.index, n.addr, err)
	}
	ts := httptest.NewUnstartedServer(nil)
	ts.Listener.Close()
	ts.Listener = l
	ts.Start()
	n.server = ts
	n.rebuildHandler(t)
}

func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	b, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return b
}
