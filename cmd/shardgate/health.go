package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/shardgate/internal/connection"
	"github.com/rickgao/shardgate/internal/metrics"
)

// shardSource is the part of the manager the health endpoint reads.
type shardSource interface {
	Registry() *connection.Registry
	Failures() []connection.ShardFailure
}

type shardHealth struct {
	Index    int       `json:"index"`
	State    string    `json:"state"`
	Sequence uint64    `json:"sequence"`
	LastAck  time.Time `json:"last_ack,omitzero"`
}

type health struct {
	Status   string        `json:"status"`
	Active   int           `json:"active"`
	Failures int           `json:"failures"`
	Shards   []shardHealth `json:"shards"`
}

// newHTTPHandler serves Prometheus metrics and the shard health summary.
func newHTTPHandler(metricsPath string, src shardSource) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(metricsPath, metrics.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := health{Status: "healthy", Shards: []shardHealth{}}

		for _, s := range src.Registry().All() {
			id := s.Identity()
			state := s.State()
			if state == connection.StateActive {
				h.Active++
			}
			h.Shards = append(h.Shards, shardHealth{
				Index:    id.ShardIndex,
				State:    string(state),
				Sequence: id.Sequence(),
				LastAck:  s.LastHeartbeatAck(),
			})
		}
		h.Failures = len(src.Failures())

		switch {
		case h.Active == 0:
			h.Status = "unhealthy"
		case h.Active < len(h.Shards) || h.Failures > 0:
			h.Status = "degraded"
		}

		// Set response
		w.Header().Set("Content-Type", "application/json")
		if h.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(h)
	})

	return mux
}
