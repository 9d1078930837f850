// Package model defines the shared data types flowing between the
// ingestor, classifier worker, trainer, and gateway.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// EventCandleClose is the event type carried by every closed-candle
// message on the market data stream.
const EventCandleClose = "candle_close"

// Candle is one closed OHLCV bar. Identity is
// (exchange, symbol, timeframe, timestamp); the timestamp is the open of
// the interval, in UTC.
type Candle struct {
	EventType string    `json:"event_type"`
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timeframe string    `json:"timeframe"`
}

// Key returns the candle's identity tuple in a stable string form.
func (c Candle) Key() string {
	return fmt.Sprintf("%s:%s:%s:%d", c.Exchange, c.Symbol, c.Timeframe, c.Timestamp.Unix())
}

// Validate checks the OHLCV body invariants: low ≤ open,close ≤ high and
// a non-negative volume.
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if c.Timestamp.IsZero() {
		return fmt.Errorf("candle %s missing timestamp", c.Symbol)
	}
	if c.Low > c.Open || c.Low > c.Close || c.High < c.Open || c.High < c.Close {
		return fmt.Errorf("candle %s: OHLC out of range (o=%g h=%g l=%g c=%g)",
			c.Key(), c.Open, c.High, c.Low, c.Close)
	}
	if c.Volume < 0 {
		return fmt.Errorf("candle %s: negative volume %g", c.Key(), c.Volume)
	}
	if d, ok := timeframeDuration(c.Timeframe); ok {
		if c.Timestamp.UnixMilli()%d.Milliseconds() != 0 {
			return fmt.Errorf("candle %s: timestamp not aligned to %s interval", c.Key(), c.Timeframe)
		}
	}
	return nil
}

// timeframeDuration parses interval codes like 15m, 1h, 4h, 1d. Unknown
// codes report ok=false and skip the alignment check.
func timeframeDuration(tf string) (time.Duration, bool) {
	if len(tf) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	}
	return 0, false
}
