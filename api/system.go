package api

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/justapithecus/stakeout/proxy"
)

func (s *Server) handleListProxies(w http.ResponseWriter, r *http.Request) {
	proxies, err := s.store.Proxies(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, viewProxies(proxies))
}

// handleUpdateProxies reloads the pool from the external source,
// drops entries the source reports dead and reconciles the database
// against the rest.
func (s *Server) handleUpdateProxies(w http.ResponseWriter, r *http.Request) {
	if s.proxies == nil {
		s.internalError(w, r, errors.New("proxy source not configured"))
		return
	}
	entries, err := s.proxies.Fetch(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	changes, err := s.store.SyncProxies(r.Context(), proxy.Specs(proxy.Alive(entries)))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.log.Info("proxy pool synchronised", map[string]any{
		"added":   len(changes.Added),
		"deleted": len(changes.Deleted),
	})
	s.writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	counters, err := s.store.BotCounters(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"counters": counters})
}

var (
	botsGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stakeout_bots",
		Help: "Bots by family and status",
	}, []string{"family", "status"})
	tasksGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stakeout_tasks",
		Help: "Tasks by status",
	}, []string{"status"})
	trackersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stakeout_trackers",
		Help: "Tracked configs",
	})
)

func init() {
	prometheus.MustRegister(botsGauge, tasksGauge, trackersGauge)
}

// handleVarz refreshes the database gauges and serves the exposition.
func (s *Server) handleVarz(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Metrics(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	botsGauge.Reset()
	tasksGauge.Reset()
	for _, cell := range m.Bots {
		botsGauge.WithLabelValues(cell.Family, cell.Status.String()).Set(float64(cell.Count))
	}
	for _, cell := range m.Tasks {
		tasksGauge.WithLabelValues(cell.Status.String()).Set(float64(cell.Count))
	}
	trackersGauge.Set(float64(m.Trackers))

	promhttp.Handler().ServeHTTP(w, r)
}
