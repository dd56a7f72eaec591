package coordinator

import "github.com/VictoriaMetrics/metrics"

// Per-operation quorum outcome counters. Labels are fixed strings so the
// counter set is bounded regardless of request volume.
func quorumAcked(op string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`kvnode_quorum_acked_total{op="` + op + `"}`)
}

func quorumUnmet(op string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`kvnode_quorum_unmet_total{op="` + op + `"}`)
}

func replicaFailures(op string) *metrics.Counter {
	return metrics.GetOrCreateCounter(`kvnode_replica_failures_total{op="` + op + `"}`)
}

// recordOutcome updates the op's quorum counters from one fan-out round.
func recordOutcome(op string, res fanOutResult, acked bool) {
	if acked {
		quorumAcked(op).Inc()
	} else {
		quorumUnmet(op).Inc()
	}
	for _, r := range res.responses {
		if r.err != nil {
			replicaFailures(op).Inc()
		}
	}
}
