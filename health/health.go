// Package health exposes the bundler's liveness, readiness, and health
// snapshot endpoints, plus Prometheus metrics exposition.
package health

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /live, /ready, /health, and /metrics.
type Server struct {
	rel         Pinger
	kv          Pinger
	entryPoint  Pinger
	mempool     MempoolSizer
	signer      SignerInfo
	minBalance  *big.Int
	startedAt   func() bool
}

// New constructs a health Server. isRunning reports whether the bundler
// loop is currently ticking (set false during shutdown).
func New(rel, kv, entryPoint Pinger, mempool MempoolSizer, signer SignerInfo, minBalance *big.Int, isRunning func() bool) *Server {
	return &Server{
		rel:        rel,
		kv:         kv,
		entryPoint: entryPoint,
		mempool:    mempool,
		signer:     signer,
		minBalance: minBalance,
		startedAt:  isRunning,
	}
}

// Handler returns the mux to mount at the process's admin HTTP port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/live", s.serveLive)
	mux.HandleFunc("/ready", s.serveReady)
	mux.HandleFunc("/health", s.serveHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) serveLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) checks(r *http.Request) map[string]string {
	ctx := r.Context()
	checks := map[string]string{}

	if err := s.rel.Ping(ctx); err != nil {
		checks["relationalStore"] = "error: " + err.Error()
	} else {
		checks["relationalStore"] = "ok"
	}

	if err := s.kv.Ping(ctx); err != nil {
		checks["kvStore"] = "error: " + err.Error()
	} else {
		checks["kvStore"] = "ok"
	}

	if err := s.entryPoint.Ping(ctx); err != nil {
		checks["entryPoint"] = "error: " + err.Error()
	} else {
		checks["entryPoint"] = "ok"
	}

	return checks
}

func allOK(checks map[string]string) bool {
	for _, v := range checks {
		if v != "ok" {
			return false
		}
	}
	return true
}

func (s *Server) serveReady(w http.ResponseWriter, r *http.Request) {
	checks := s.checks(r)
	status := http.StatusOK
	state := "ready"
	if !allOK(checks) {
		status = http.StatusServiceUnavailable
		state = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{"status": state, "checks": checks})
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := s.checks(r)

	size, err := s.mempool.Size(ctx)
	if err != nil {
		log.Warn("health: failed to read mempool size", "err", err)
	}

	balance, err := s.signer.SignerEthBalance(ctx)
	if err != nil {
		log.Warn("health: failed to read signer balance", "err", err)
		balance = big.NewInt(0)
	}
	lowBalance := s.minBalance != nil && balance.Cmp(s.minBalance) < 0
	if lowBalance {
		checks["bundlerBalance"] = "error: signer balance below minimum"
	} else {
		checks["bundlerBalance"] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !allOK(checks) {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
		"bundler": map[string]interface{}{
			"isRunning":     s.startedAt(),
			"mempoolSize":   size,
		},
		"signer": map[string]interface{}{
			"address":   s.signer.SignerAddress().Hex(),
			"balance":   balance.String(),
			"minBalance": s.minBalance.String(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("health: failed to encode response", "err", err)
	}
}
