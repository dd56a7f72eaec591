package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	rcrowleymetrics "github.com/rcrowley/go-metrics"

	"github.com/kvnode/kvnode/internal/logging"
	"github.com/kvnode/kvnode/lib/lsm"
	"github.com/kvnode/kvnode/rpc/coordinator"
)

var log = logging.Get("http")

// requestTimers tracks per-endpoint latency the way the rest of the
// domain's go-metrics-based services do: one rcrowley/go-metrics Timer
// per route, registered lazily and readable by any process-embedded
// metrics reporter.
var requestTimers = rcrowleymetrics.NewRegistry()

func timerFor(route string) rcrowleymetrics.Timer {
	return rcrowleymetrics.GetOrRegisterTimer(route, requestTimers)
}

// Config configures a Server.
type Config struct {
	Coordinator *coordinator.Coordinator
	// Debug enables the request-logging middleware.
	Debug bool
}

// Server is the node's HTTP surface.
type Server struct {
	coord *coordinator.Coordinator
	debug bool
}

// NewServer builds a Server from cfg.
func NewServer(cfg Config) *Server {
	return &Server{coord: cfg.Coordinator, debug: cfg.Debug}
}

// Handler builds the routed http.Handler for this server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0/status", s.handleStatus)
	mux.HandleFunc("GET /v0/entity", s.wrap("GET /v0/entity", s.handleGet))
	mux.HandleFunc("PUT /v0/entity", s.wrap("PUT /v0/entity", s.handlePut))
	mux.HandleFunc("DELETE /v0/entity", s.wrap("DELETE /v0/entity", s.handleDelete))
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("/", s.handleUnknown)
	return mux
}

func (s *Server) wrap(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		timerFor(route).UpdateSince(start)
		if s.debug {
			log.Debugf("%s %s took %s", r.Method, r.URL.String(), time.Since(start))
		}
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleMetrics exposes both metrics surfaces this node keeps: the
// coordinator's quorum-outcome counters, registered in the default
// VictoriaMetrics/metrics process registry and written in Prometheus
// exposition format, followed by the per-route latency timers this
// package keeps in its own go-metrics registry.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.WritePrometheus(w, false)
	requestTimers.Each(func(name string, i interface{}) {
		timer, ok := i.(rcrowleymetrics.Timer)
		if !ok {
			return
		}
		fmt.Fprintf(w, "kvnode_http_route_requests_total{route=%q} %d\n", name, timer.Count())
		fmt.Fprintf(w, "kvnode_http_route_latency_seconds{route=%q} %f\n", name, timer.Mean()/float64(time.Second))
	})
}

func (s *Server) handleUnknown(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "unknown path", http.StatusBadRequest)
}

// parsedRequest holds everything extracted from the query string and
// headers common to all three /v0/entity verbs.
type parsedRequest struct {
	key      []byte
	quorum   coordinator.Quorum
	internal bool
}

func (s *Server) parseRequest(r *http.Request) (parsedRequest, error) {
	id := r.URL.Query().Get("id")
	if id == "" {
		return parsedRequest{}, &coordinator.ClientInputError{Reason: "missing or empty id"}
	}

	clusterSize := s.coord.Topology().Size()
	quorum := coordinator.DefaultQuorum(clusterSize)
	if raw := r.URL.Query().Get("replicas"); raw != "" {
		ack, from, err := parseReplicas(raw)
		if err != nil {
			return parsedRequest{}, &coordinator.ClientInputError{Reason: err.Error()}
		}
		quorum = coordinator.Quorum{Ack: ack, From: from}
	}
	quorum, err := coordinator.ParseQuorum(quorum.Ack, quorum.From, clusterSize)
	if err != nil {
		return parsedRequest{}, err
	}

	return parsedRequest{
		key:      []byte(id),
		quorum:   quorum,
		internal: r.Header.Get(coordinator.HeaderInternal) == "true",
	}, nil
}

// parseReplicas parses an "ack/from" clause.
func parseReplicas(raw string) (ack, from int, err error) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed replicas clause %q", raw)
	}
	ack, err1 := strconv.Atoi(parts[0])
	from, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("malformed replicas clause %q", raw)
	}
	return ack, from, nil
}

// coordinatorDeadline returns the per-request replica deadline, which is
// always coordinator.DefaultDeadline. An inbound *http.Request carries no
// client timeout, so the deadline does not depend on the client's own
// timeout.
func coordinatorDeadline() time.Duration {
	return coordinator.DefaultDeadline
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.internal {
		rec, found, err := s.coord.LocalEngine().Get(req.key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeLocalGetResult(w, rec, found)
		return
	}

	result, err := s.coord.Get(r.Context(), req.key, req.quorum, coordinatorDeadline())
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Found || result.Tombstone {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set(coordinator.HeaderTimestamp, strconv.FormatUint(result.Timestamp, 10))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Value)
}

func writeLocalGetResult(w http.ResponseWriter, rec lsm.Record, found bool) {
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set(coordinator.HeaderTimestamp, strconv.FormatUint(rec.Timestamp, 10))
	if rec.Tombstone {
		w.Header().Set(coordinator.HeaderTombstone, "true")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rec.Value)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}
	defer r.Body.Close()

	if req.internal {
		ts, err := parseTimestampHeader(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.coord.LocalEngine().Upsert(lsm.NewPresent(req.key, body, ts)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusCreated)
		return
	}

	if _, err := s.coord.Put(r.Context(), req.key, body, req.quorum, coordinatorDeadline()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.internal {
		ts, err := parseTimestampHeader(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if err := s.coord.LocalEngine().Upsert(lsm.NewTombstone(req.key, ts)); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if _, err := s.coord.Delete(r.Context(), req.key, req.quorum, coordinatorDeadline()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func parseTimestampHeader(r *http.Request) (uint64, error) {
	raw := r.Header.Get(coordinator.HeaderTimestamp)
	ts, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &coordinator.ClientInputError{Reason: "missing or malformed " + coordinator.HeaderTimestamp + " header on internal hop"}
	}
	return ts, nil
}

func writeError(w http.ResponseWriter, err error) {
	var clientErr *coordinator.ClientInputError
	var quorumErr *coordinator.QuorumUnmetError
	switch {
	case errors.As(err, &clientErr):
		http.Error(w, clientErr.Error(), http.StatusBadRequest)
	case errors.As(err, &quorumErr):
		log.Warnf("quorum unmet: %v", quorumErr)
		http.Error(w, quorumErr.Error(), http.StatusGatewayTimeout)
	default:
		log.Errorf("local storage error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
