// Package metrics registers the Prometheus instruments shared by the
// pipeline services. Collectors are package-level and registered once on
// the default registry; each service exposes them via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestor.

	FramesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regimecast_ingest_frames_received_total",
		Help: "WebSocket frames received from the exchange",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regimecast_ingest_frames_dropped_total",
		Help: "Frames dropped before persistence, by reason",
	}, []string{"reason"}) // reason: open_candle, parse_error, no_kline

	CandlesPersisted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regimecast_candles_persisted_total",
		Help: "Closed candles inserted into raw_candles, by symbol",
	}, []string{"symbol"})

	PublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regimecast_stream_publish_failures_total",
		Help: "Failed XADD publishes; the database stays authoritative",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regimecast_ws_reconnects_total",
		Help: "Exchange WebSocket reconnect attempts",
	})

	// Classifier worker.

	Classifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regimecast_classifications_total",
		Help: "Regime results written, by mode and label",
	}, []string{"mode", "label"})

	ClassifierFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regimecast_classifier_fallbacks_total",
		Help: "ML classifications that fell back to the rule path",
	})

	ClassifierSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regimecast_classifier_skips_total",
		Help: "Candles acked without a result due to insufficient history",
	})

	StreamPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "regimecast_stream_pending_entries",
		Help: "Consumer-group pending entries on the market data stream",
	})

	// Trainer.

	TrainerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regimecast_trainer_runs_total",
		Help: "Trainer executions, by outcome",
	}, []string{"outcome"}) // outcome: promoted, empty, failed

	// Gateway.

	GatewayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regimecast_gateway_requests_total",
		Help: "Gateway requests, by route and status code",
	}, []string{"route", "code"})
)
