package coordinator

import (
	"time"

	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/lib/topology"
)

// MaxDeadline is the absolute upper bound on how long a coordinator waits
// for replica acks, regardless of what the client requested.
const MaxDeadline = time.Minute

// DefaultDeadline is used when the caller does not supply a per-request
// deadline. The HTTP layer passes it for every request; it does not derive
// a deadline from the client's own timeout.
const DefaultDeadline = 5 * time.Second

// Config wires a Coordinator to its local storage, its view of the
// cluster, and its peer transport.
type Config struct {
	Topology *topology.Topology
	Local    *lsm.Engine
	Peers    PeerClient
}

// Quorum holds the validated ack/from pair for one request.
type Quorum struct {
	Ack  int
	From int
}

// ParseQuorum validates the ack/from pair a client supplied (or the
// defaults the HTTP layer filled in) against the cluster size, returning
// a *ClientInputError for any violation of the quorum gate.
func ParseQuorum(ack, from, clusterSize int) (Quorum, error) {
	switch {
	case from > clusterSize:
		return Quorum{}, &ClientInputError{Reason: "from exceeds cluster size"}
	case ack <= 0:
		return Quorum{}, &ClientInputError{Reason: "ack must be at least 1"}
	case ack > from:
		return Quorum{}, &ClientInputError{Reason: "ack exceeds from"}
	}
	return Quorum{Ack: ack, From: from}, nil
}

// DefaultQuorum returns the default ack/from for a cluster of the given
// size: from = clusterSize, ack = clusterSize/2 + 1.
func DefaultQuorum(clusterSize int) Quorum {
	return Quorum{Ack: clusterSize/2 + 1, From: clusterSize}
}
