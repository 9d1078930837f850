// Package ingest maintains the exchange WebSocket subscription, extracts
// closed candles, persists them idempotently, and republishes them onto
// the market data stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/metrics"
	"github.com/regimelab/regimecast/internal/model"
)

const exchangeName = "BINANCE"

// candleWriter is the slice of the candle repository the handler needs.
type candleWriter interface {
	Insert(ctx context.Context, c model.Candle) (bool, error)
}

// candlePublisher republishes persisted candles downstream.
type candlePublisher interface {
	Publish(ctx context.Context, c model.Candle) error
}

// frame is the combined-stream envelope; single-stream payloads arrive
// with the kline inline instead of under data.
type frame struct {
	Stream string       `json:"stream"`
	Data   klinePayload `json:"data"`
	klinePayload
}

// EventTime and CloseTime must be declared explicitly: encoding/json
// matches field tags case-insensitively, so without them "E" would land
// on the "e" string field and "T" would overwrite the "t" open time.
type klinePayload struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     *kline `json:"k"`
}

type kline struct {
	OpenTime  int64  `json:"t"`
	CloseTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Volume    string `json:"v"`
	Closed    bool   `json:"x"`
}

// Handler turns raw exchange frames into persisted, published candles.
type Handler struct {
	store   candleWriter
	pub     candlePublisher
	monitor *Monitor
}

// NewHandler wires the message path: persist, publish, heartbeat.
func NewHandler(store candleWriter, pub candlePublisher, monitor *Monitor) *Handler {
	return &Handler{store: store, pub: pub, monitor: monitor}
}

// HandleMessage processes one WebSocket frame. Open candles and malformed
// frames are dropped; a DB failure skips publication so the database
// stays authoritative; a publish failure is logged and tolerated. The
// heartbeat advances only for successfully processed closed candles.
func (h *Handler) HandleMessage(ctx context.Context, raw []byte) {
	metrics.FramesReceived.Inc()

	candle, ok := h.extractClosedCandle(raw)
	if !ok {
		return
	}

	if err := candle.Validate(); err != nil {
		metrics.FramesDropped.WithLabelValues("parse_error").Inc()
		log.Error().Err(err).Msg("Dropping invalid candle")
		return
	}

	if _, err := h.store.Insert(ctx, candle); err != nil {
		log.Error().Err(err).Str("candle", candle.Key()).Msg("Candle insert failed, skipping publish")
		return
	}
	metrics.CandlesPersisted.WithLabelValues(candle.Symbol).Inc()

	if err := h.pub.Publish(ctx, candle); err != nil {
		metrics.PublishFailures.Inc()
		log.Error().Err(err).Str("candle", candle.Key()).Msg("Stream publish failed")
	}

	h.monitor.Beat()
	log.Info().
		Str("symbol", candle.Symbol).
		Str("timeframe", candle.Timeframe).
		Time("timestamp", candle.Timestamp).
		Msg("Processed closed candle")
}

// extractClosedCandle parses the frame and returns the canonical candle,
// or ok=false when the frame carries no closed kline.
func (h *Handler) extractClosedCandle(raw []byte) (model.Candle, bool) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		metrics.FramesDropped.WithLabelValues("parse_error").Inc()
		log.Error().Err(err).Msg("Dropping malformed frame")
		return model.Candle{}, false
	}

	k := f.Data.Kline
	if k == nil {
		k = f.Kline // inline single-stream form
	}
	if k == nil {
		metrics.FramesDropped.WithLabelValues("no_kline").Inc()
		return model.Candle{}, false
	}
	if !k.Closed {
		metrics.FramesDropped.WithLabelValues("open_candle").Inc()
		return model.Candle{}, false
	}

	candle, err := k.toCandle()
	if err != nil {
		metrics.FramesDropped.WithLabelValues("parse_error").Inc()
		log.Error().Err(err).Msg("Dropping unparseable kline")
		return model.Candle{}, false
	}
	return candle, true
}

func (k *kline) toCandle() (model.Candle, error) {
	c := model.Candle{
		EventType: model.EventCandleClose,
		Symbol:    NormalizeSymbol(k.Symbol),
		Exchange:  exchangeName,
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Timeframe: k.Interval,
	}

	var err error
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", k.Open, &c.Open}, {"high", k.High, &c.High},
		{"low", k.Low, &c.Low}, {"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	} {
		*f.dst, err = strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("kline %s: bad %s %q: %w", k.Symbol, f.name, f.raw, err)
		}
	}
	return c, nil
}
