package http

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func doEntity(t *testing.T, node *testNode, method, key, replicas, body string) *http.Response {
	t.Helper()
	url := node.url + "/v0/entity?id=" + key
	if replicas != "" {
		url += "&replicas=" + replicas
	}
	var bodyReader *fixedBody
	if body != "" {
		bodyReader = &fixedBody{data: []byte(body)}
	}
	var req *http.Request
	var err error
	if bodyReader != nil {
		req, err = http.NewRequest(method, url, bodyReader)
	} else {
		req, err = http.NewRequest(method, url, nil)
	}
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// fixedBody is a trivial io.Reader over a byte slice; http.NewRequest
// needs a fresh reader per call and strings.NewReader works just as
// well, but this keeps call sites symmetric with doEntity's signature.
type fixedBody struct {
	data []byte
	pos  int
}

func (b *fixedBody) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

func TestS1SingleNodeLifecycle(t *testing.T) {
	nodes := newTestCluster(t, 1)
	node := nodes[0]

	resp := doEntity(t, node, http.MethodPut, "k", "", "v1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doEntity(t, node, http.MethodGet, "k", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "v1", string(readAll(t, resp.Body)))

	resp = doEntity(t, node, http.MethodPut, "k", "", "v2")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doEntity(t, node, http.MethodGet, "k", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "v2", string(readAll(t, resp.Body)))

	resp = doEntity(t, node, http.MethodDelete, "k", "", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doEntity(t, node, http.MethodGet, "k", "", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestS2ShardingAtReplicationFactorOne(t *testing.T) {
	nodes := newTestCluster(t, 2)

	resp := doEntity(t, nodes[0], http.MethodPut, "k", "1/1", "v1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// With from=1, both nodes compute the same single rendezvous owner
	// for "k" and proxy to it if they aren't it themselves, so either
	// one answers 200 while both are up. Sharding only becomes visible
	// once the owner is unreachable: stop each node in turn and query
	// the other alone. The iteration that isolates the owner gets a
	// 504 (its sole replica is down); the iteration that isolates the
	// non-owner still gets a 200 (it IS the replica, locally).
	var hits, misses int
	for i, n := range nodes {
		other := nodes[1-i]
		other.stop()

		resp := doEntity(t, n, http.MethodGet, "k", "1/1", "")
		switch resp.StatusCode {
		case http.StatusOK:
			hits++
			require.Equal(t, "v1", string(readAll(t, resp.Body)))
		case http.StatusGatewayTimeout:
			misses++
		default:
			t.Fatalf("GET from %s: unexpected status %d", n.url, resp.StatusCode)
		}

		other.restart(t)
	}
	require.Equal(t, 1, hits)
	require.Equal(t, 1, misses)
}

func TestS3OverlapQuorumConvergesImmediately(t *testing.T) {
	nodes := newTestCluster(t, 3)

	resp := doEntity(t, nodes[0], http.MethodPut, "k", "2/3", "v1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	for _, n := range []*testNode{nodes[1], nodes[2]} {
		resp := doEntity(t, n, http.MethodGet, "k", "2/3", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "v1", string(readAll(t, resp.Body)))
	}
}

func TestS4MissedWriteHealsOnNextQuorumRead(t *testing.T) {
	nodes := newTestCluster(t, 3)
	nodes[2].stop()

	resp := doEntity(t, nodes[0], http.MethodPut, "k", "2/3", "v1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	nodes[2].restart(t)

	resp = doEntity(t, nodes[2], http.MethodGet, "k", "2/3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "v1", string(readAll(t, resp.Body)))
}

func TestS5QuorumUnreachableReturns504(t *testing.T) {
	nodes := newTestCluster(t, 3)
	nodes[1].stop()
	nodes[2].stop()

	resp := doEntity(t, nodes[0], http.MethodGet, "k", "3/3", "")
	require.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestS6RecreateAfterDelete(t *testing.T) {
	nodes := newTestCluster(t, 3)

	resp := doEntity(t, nodes[0], http.MethodPut, "k", "3/3", "v1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doEntity(t, nodes[0], http.MethodDelete, "k", "3/3", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	nodes[1].stop()
	resp = doEntity(t, nodes[0], http.MethodPut, "k", "2/3", "v2")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	nodes[1].restart(t)

	resp = doEntity(t, nodes[0], http.MethodGet, "k", "3/3", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "v2", string(readAll(t, resp.Body)))
}

func TestQuorumGateRejectsOutOfRangeParameters(t *testing.T) {
	nodes := newTestCluster(t, 3)
	node := nodes[0]

	cases := []string{"0/3", "4/3", "2/5"}
	for _, clause := range cases {
		resp := doEntity(t, node, http.MethodGet, "k", clause, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, "replicas=%s", clause)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	nodes := newTestCluster(t, 1)
	resp := doEntity(t, nodes[0], http.MethodGet, "", "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusEndpointAlwaysOK(t *testing.T) {
	nodes := newTestCluster(t, 1)
	resp, err := http.Get(nodes[0].url + "/v0/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}
