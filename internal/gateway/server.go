// Package gateway serves the read API: the latest regime per symbol,
// straight out of the Redis key-value store.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/metrics"
)

const defaultTimeframe = "1h"

// regimeSource reads the serialized regime result for a symbol.
type regimeSource interface {
	Get(ctx context.Context, symbol, timeframe string) (string, bool, error)
}

// pinger is the slice of the Redis client the health check needs.
type pinger interface {
	Ping(ctx context.Context) *goredis.StatusCmd
}

// Server is the HTTP read surface.
type Server struct {
	cfg     config.Gateway
	store   regimeSource
	redis   pinger
	limiter *ipLimiter
	breaker *gobreaker.CircuitBreaker
	router  *mux.Router
}

// NewServer wires routes, the per-client limiter, and the store breaker.
func NewServer(cfg config.Gateway, store regimeSource, redis pinger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		redis:   redis,
		limiter: newIPLimiter(cfg.RateLimitPerMinute),
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "regime-store",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit state changed")
		},
	})

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/v1/regime", s.rateLimited(s.handleRegime)).Methods(http.MethodGet)
	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errC := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.cfg.Port).Msg("Gateway listening")
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, map[string]string{
		"service": "regimecast-gateway",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		s.writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "redis": err.Error()})
		return
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		s.writeError(w, r, http.StatusBadRequest, "symbol query parameter is required")
		return
	}
	timeframe := r.URL.Query().Get("timeframe")
	if timeframe == "" {
		timeframe = defaultTimeframe
	}

	payload, err := s.breaker.Execute(func() (interface{}, error) {
		raw, ok, err := s.store.Get(r.Context(), symbol, timeframe)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errNotFound
		}
		return raw, nil
	})

	switch {
	case errors.Is(err, errNotFound):
		s.writeError(w, r, http.StatusNotFound, fmt.Sprintf("no regime data for %s %s", symbol, timeframe))
		return
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		s.writeError(w, r, http.StatusServiceUnavailable, "regime store unavailable")
		return
	case err != nil:
		log.Error().Err(err).Str("symbol", symbol).Msg("Regime lookup failed")
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}

	// The stored value is the worker's own JSON; pass it through untouched.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(payload.(string)))
	s.count(r, http.StatusOK)
}

// errNotFound distinguishes a cache miss from a store failure inside the
// breaker, so misses never trip it.
var errNotFound = errors.New("regime not found")

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
	s.count(r, code)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	s.writeJSON(w, r, code, map[string]string{"error": msg})
}

func (s *Server) count(r *http.Request, code int) {
	metrics.GatewayRequests.WithLabelValues(r.URL.Path, strconv.Itoa(code)).Inc()
}
