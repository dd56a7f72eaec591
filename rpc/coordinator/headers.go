package coordinator

// Wire headers for internal replica hops. Names are implementation-defined
// but must stay bit-stable across the cluster.
const (
	// HeaderInternal marks a request as a replica hop: the receiver acts
	// directly on its local engine instead of coordinating.
	HeaderInternal = "X-Internal"
	// HeaderTimestamp carries the coordinator-assigned write timestamp on
	// internal PUT/DELETE hops, and the chosen record's timestamp on GET
	// responses.
	HeaderTimestamp = "X-Timestamp"
	// HeaderTombstone marks a GET response whose chosen record is a
	// tombstone.
	HeaderTombstone = "X-Tombstone"
)
