package coordinator

import "fmt"

// ClientInputError marks a malformed request: empty/missing id, a
// malformed replicas clause, or an out-of-range ack/from. The HTTP layer
// maps it to 400 and never retries.
type ClientInputError struct {
	Reason string
}

func (e *ClientInputError) Error() string {
	return fmt.Sprintf("coordinator: bad request: %s", e.Reason)
}

// QuorumUnmetError means fewer than ack replicas answered before the
// deadline. The HTTP layer maps it to 504. The coordinator never retries
// internally; a fresh client request is required.
type QuorumUnmetError struct {
	Ack      int
	From     int
	Acquired int
}

func (e *QuorumUnmetError) Error() string {
	return fmt.Sprintf("coordinator: quorum unmet: got %d/%d acks, needed %d", e.Acquired, e.From, e.Ack)
}
