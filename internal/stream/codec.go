// Package stream provides the market_data_feed Redis Stream: bounded
// publication by the ingestor and consumer-group reads by the classifier
// worker.
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/regimelab/regimecast/internal/model"
)

// payloadField is the alternate single-field serialization some producers
// use: one "payload" entry holding the candle JSON. Consumers accept both
// it and the flat field map; this is a compatibility constraint of the
// stream, not a feature.
const payloadField = "payload"

// EncodeCandle flattens a candle into the stream's field-value map. All
// values are strings; the timestamp is ISO-8601 UTC.
func EncodeCandle(c model.Candle) map[string]interface{} {
	return map[string]interface{}{
		"event_type": c.EventType,
		"symbol":     c.Symbol,
		"exchange":   c.Exchange,
		"timestamp":  c.Timestamp.UTC().Format(time.RFC3339),
		"open":       formatFloat(c.Open),
		"high":       formatFloat(c.High),
		"low":        formatFloat(c.Low),
		"close":      formatFloat(c.Close),
		"volume":     formatFloat(c.Volume),
		"timeframe":  c.Timeframe,
	}
}

// DecodeCandle parses a stream entry's values back into a candle,
// accepting either the flat field map or the payload-JSON form.
func DecodeCandle(values map[string]interface{}) (model.Candle, error) {
	if raw, ok := values[payloadField]; ok {
		s, ok := raw.(string)
		if !ok {
			return model.Candle{}, fmt.Errorf("decode candle: payload field is %T, want string", raw)
		}
		var c model.Candle
		if err := json.Unmarshal([]byte(s), &c); err != nil {
			return model.Candle{}, fmt.Errorf("decode candle payload: %w", err)
		}
		c.Timestamp = c.Timestamp.UTC()
		return c, nil
	}

	var (
		c   model.Candle
		err error
	)
	c.EventType = stringField(values, "event_type")
	c.Symbol = stringField(values, "symbol")
	c.Exchange = stringField(values, "exchange")
	c.Timeframe = stringField(values, "timeframe")
	if c.Symbol == "" {
		return model.Candle{}, fmt.Errorf("decode candle: missing symbol field")
	}

	ts := stringField(values, "timestamp")
	c.Timestamp, err = time.Parse(time.RFC3339, ts)
	if err != nil {
		return model.Candle{}, fmt.Errorf("decode candle: bad timestamp %q: %w", ts, err)
	}
	c.Timestamp = c.Timestamp.UTC()

	for _, f := range []struct {
		name string
		dst  *float64
	}{
		{"open", &c.Open}, {"high", &c.High}, {"low", &c.Low},
		{"close", &c.Close}, {"volume", &c.Volume},
	} {
		*f.dst, err = strconv.ParseFloat(stringField(values, f.name), 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("decode candle: bad %s: %w", f.name, err)
		}
	}
	return c, nil
}

func stringField(values map[string]interface{}, key string) string {
	if v, ok := values[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
