package coordinator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// replicaResult is what either a local engine call or a peer RPC produces
// for one replica attempt, normalized to the same shape regardless of
// origin so the coordinator's fan-in logic does not care which it was.
type replicaResult struct {
	peer      string
	found     bool
	value     []byte
	timestamp uint64
	tombstone bool
	err       error
}

// PeerClient issues the internal replica hop: a request carrying
// X-Internal so the receiving node bypasses its own coordinator and
// touches only its local engine.
type PeerClient interface {
	Put(ctx context.Context, peerURL string, key, value []byte, timestamp uint64) error
	Delete(ctx context.Context, peerURL string, key []byte, timestamp uint64) error
	Get(ctx context.Context, peerURL string, key []byte) (value []byte, timestamp uint64, tombstone bool, found bool, err error)
}

// httpPeerClient is the default PeerClient: one pooled *http.Client per
// peer URL, reused across requests rather than built fresh each time.
type httpPeerClient struct {
	clients *xsync.MapOf[string, *http.Client]
}

// NewHTTPPeerClient builds a PeerClient backed by a concurrent map of
// pooled HTTP clients, one per peer, created lazily on first use.
func NewHTTPPeerClient() PeerClient {
	return &httpPeerClient{clients: xsync.NewMapOf[string, *http.Client]()}
}

func (c *httpPeerClient) clientFor(peerURL string) *http.Client {
	client, _ := c.clients.LoadOrCompute(peerURL, func() *http.Client {
		return &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	})
	return client
}

func (c *httpPeerClient) Put(ctx context.Context, peerURL string, key, value []byte, timestamp uint64) error {
	req, err := c.newRequest(ctx, http.MethodPut, peerURL, key, timestamp, bytes.NewReader(value))
	if err != nil {
		return err
	}
	resp, err := c.clientFor(peerURL).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("peer put: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *httpPeerClient) Delete(ctx context.Context, peerURL string, key []byte, timestamp uint64) error {
	req, err := c.newRequest(ctx, http.MethodDelete, peerURL, key, timestamp, nil)
	if err != nil {
		return err
	}
	resp, err := c.clientFor(peerURL).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("peer delete: unexpected status %s", resp.Status)
	}
	return nil
}

func (c *httpPeerClient) Get(ctx context.Context, peerURL string, key []byte) ([]byte, uint64, bool, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, peerURL, key, 0, nil)
	if err != nil {
		return nil, 0, false, false, err
	}
	resp, err := c.clientFor(peerURL).Do(req)
	if err != nil {
		return nil, 0, false, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
	default:
		return nil, 0, false, false, fmt.Errorf("peer get: unexpected status %s", resp.Status)
	}

	var timestamp uint64
	if raw := resp.Header.Get(HeaderTimestamp); raw != "" {
		timestamp, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, 0, false, false, fmt.Errorf("peer get: malformed %s header: %v", HeaderTimestamp, err)
		}
	}
	tombstone := resp.Header.Get(HeaderTombstone) == "true"
	if resp.StatusCode == http.StatusNotFound && !tombstone {
		return nil, 0, false, false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, false, false, err
	}
	return body, timestamp, tombstone, true, nil
}

func (c *httpPeerClient) newRequest(ctx context.Context, method, peerURL string, key []byte, timestamp uint64, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("%s/v0/entity?id=%s", peerURL, neturl.QueryEscape(string(key)))
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderInternal, "true")
	if method == http.MethodPut || method == http.MethodDelete {
		req.Header.Set(HeaderTimestamp, strconv.FormatUint(timestamp, 10))
	}
	return req, nil
}
