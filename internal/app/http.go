package app

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i-melnichenko/raftlog/internal/raftlog"
	"github.com/i-melnichenko/raftlog/internal/workload"
)

type statusResponse struct {
	Log      raftlog.Status  `json:"log"`
	Workload *workload.Stats `json:"workload,omitempty"`
}

func (a *App) httpServer() (*http.Server, net.Listener, error) {
	if a.config.HTTPAddr == "" {
		return nil, nil, nil
	}
	if err := registerRuntimeCollectors(); err != nil {
		return nil, nil, err
	}

	lis, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen http %s: %w", a.config.HTTPAddr, err)
	}

	srv := &http.Server{
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, lis, nil
}

func (a *App) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/status", a.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	if a.config.PprofEnabled {
		mountPprof(r)
	}
	return r
}

// handleStatus reports the log state; anything but healthy is a 503.
func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Log: a.log.Status()}
	if d := a.workloadDriver(); d != nil {
		st := d.Stats()
		resp.Workload = &st
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Log.Status != raftlog.LogStatusHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		a.logger.Warn("write status response failed", "error", err)
	}
}
