package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regimelab/regimecast/internal/config"
)

type stubStore struct {
	payload string
	found   bool
	err     error
	gotSym  string
	gotTF   string
}

func (s *stubStore) Get(ctx context.Context, symbol, timeframe string) (string, bool, error) {
	s.gotSym, s.gotTF = symbol, timeframe
	return s.payload, s.found, s.err
}

func gatewayConfig() config.Gateway {
	return config.Gateway{Port: 8080, RateLimitPerMinute: 60}
}

func newTestServer(t *testing.T, store *stubStore) *Server {
	t.Helper()
	client, _ := redismock.NewClientMock()
	return NewServer(gatewayConfig(), store, client)
}

func get(t *testing.T, s *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "10.0.0.1:50000"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRegimeEndpointReturnsStoredPayload(t *testing.T) {
	stored := `{"symbol":"BTC-USD","regime_label":"BULL_HIGH_VOL","confidence":0.87}`
	store := &stubStore{payload: stored, found: true}
	s := newTestServer(t, store)

	rec := get(t, s, "/v1/regime?symbol=BTC-USD&timeframe=1h")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, stored, rec.Body.String(), "stored JSON passes through untouched")
	assert.Equal(t, "BTC-USD", store.gotSym)
	assert.Equal(t, "1h", store.gotTF)
}

func TestRegimeEndpointDefaultsTimeframe(t *testing.T) {
	store := &stubStore{payload: "{}", found: true}
	s := newTestServer(t, store)

	rec := get(t, s, "/v1/regime?symbol=ETH-USD")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1h", store.gotTF)
}

func TestRegimeEndpointRequiresSymbol(t *testing.T) {
	s := newTestServer(t, &stubStore{})

	rec := get(t, s, "/v1/regime")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "symbol")
}

func TestRegimeEndpointMissIs404(t *testing.T) {
	s := newTestServer(t, &stubStore{found: false})

	rec := get(t, s, "/v1/regime?symbol=DOGE-USD")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegimeEndpointStoreErrorIs500(t *testing.T) {
	s := newTestServer(t, &stubStore{err: errors.New("redis down")})

	rec := get(t, s, "/v1/regime?symbol=BTC-USD")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegimeEndpointBreakerOpensAfterStoreFailures(t *testing.T) {
	store := &stubStore{err: errors.New("redis down")}
	s := newTestServer(t, store)

	for i := 0; i < 5; i++ {
		rec := get(t, s, "/v1/regime?symbol=BTC-USD")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	}

	rec := get(t, s, "/v1/regime?symbol=BTC-USD")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "open breaker sheds load")
}

func TestRegimeEndpointMissesDoNotTripBreaker(t *testing.T) {
	s := newTestServer(t, &stubStore{found: false})

	for i := 0; i < 20; i++ {
		rec := get(t, s, "/v1/regime?symbol=DOGE-USD")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestRateLimitPerClient(t *testing.T) {
	store := &stubStore{payload: "{}", found: true}
	s := NewServer(config.Gateway{Port: 8080, RateLimitPerMinute: 3}, store, pingOK(t))

	for i := 0; i < 3; i++ {
		rec := get(t, s, "/v1/regime?symbol=BTC-USD")
		require.Equal(t, http.StatusOK, rec.Code, "request %d within budget", i)
	}

	rec := get(t, s, "/v1/regime?symbol=BTC-USD")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/v1/regime?symbol=BTC-USD", nil)
	req.RemoteAddr = "10.0.0.2:50000"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func pingOK(t *testing.T) pinger {
	t.Helper()
	client, mock := redismock.NewClientMock()
	for i := 0; i < 10; i++ {
		mock.ExpectPing().SetVal("PONG")
	}
	return client
}

func TestHealthReportsRedisState(t *testing.T) {
	client, mock := redismock.NewClientMock()
	s := NewServer(gatewayConfig(), &stubStore{}, client)

	mock.ExpectPing().SetVal("PONG")
	rec := get(t, s, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectPing().SetErr(fmt.Errorf("connection refused"))
	rec = get(t, s, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t, &stubStore{})

	rec := get(t, s, "/")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
}

func TestClientIPParsing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.168.1.7:12345"
	assert.Equal(t, "192.168.1.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 70.41.3.18")
	assert.Equal(t, "203.0.113.9", clientIP(req))
}
