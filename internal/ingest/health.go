package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Monitor tracks the last successfully processed closed candle. Written
// by the message path, read by the health endpoint.
type Monitor struct {
	mu   sync.RWMutex
	last time.Time
}

// NewMonitor starts the heartbeat at construction time so a freshly
// booted ingestor reports healthy while waiting for its first candle.
func NewMonitor() *Monitor {
	return &Monitor{last: time.Now()}
}

// Beat records a successfully processed candle.
func (m *Monitor) Beat() {
	m.mu.Lock()
	m.last = time.Now()
	m.mu.Unlock()
}

// LastBeat returns the heartbeat timestamp.
func (m *Monitor) LastBeat() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Healthy reports whether a candle was processed within the threshold.
func (m *Monitor) Healthy(threshold time.Duration) bool {
	return time.Since(m.LastBeat()) < threshold
}

// HealthServer exposes /health (liveness) and /metrics for the ingestor.
type HealthServer struct {
	monitor   *Monitor
	threshold time.Duration
	srv       *http.Server
}

// NewHealthServer builds the liveness endpoint on the configured port.
func NewHealthServer(monitor *Monitor, port int, threshold time.Duration) *HealthServer {
	h := &HealthServer{monitor: monitor, threshold: threshold}

	r := mux.NewRouter()
	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())

	h.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (h *HealthServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(shutdownCtx)
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	last := h.monitor.LastBeat()
	if h.monitor.Healthy(h.threshold) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":         "ok",
			"last_heartbeat": last.UTC().Format(time.RFC3339),
		})
		return
	}

	log.Warn().Time("last_heartbeat", last).Msg("Health check failed: no data received recently")
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":         "stale",
		"last_heartbeat": last.UTC().Format(time.RFC3339),
	})
}
