package classifier

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/metrics"
	"github.com/regimelab/regimecast/internal/model"
	"github.com/regimelab/regimecast/internal/stream"
)

// entrySource is the consumer-group slice of the stream the worker needs.
type entrySource interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context) ([]goredis.XMessage, error)
	Ack(ctx context.Context, id string) error
	PendingCount(ctx context.Context) (int64, error)
	Name() string
}

// historySource provides the trailing candle window for the merge.
type historySource interface {
	Recent(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)
}

// resultSink persists the regime result for the gateway to read.
type resultSink interface {
	Save(ctx context.Context, result model.RegimeResult, timeframe string) error
}

// Worker consumes the market data stream and writes exactly one regime
// result per candle. Failed entries are left pending for redelivery.
type Worker struct {
	consumer   entrySource
	history    historySource
	classifier *Classifier
	results    resultSink
	window     int
}

// NewWorker wires the consumer loop.
func NewWorker(consumer entrySource, history historySource, cls *Classifier, results resultSink, window int) *Worker {
	return &Worker{
		consumer:   consumer,
		history:    history,
		classifier: cls,
		results:    results,
		window:     window,
	}
}

// Run consumes until ctx is cancelled. The group is created on entry;
// a failure there is fatal for the process.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.consumer.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("worker startup: %w", err)
	}
	log.Info().Str("consumer", w.consumer.Name()).Msg("Classifier worker listening")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := w.consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("Stream read failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			if err := w.process(ctx, msg); err != nil {
				// No ack: the entry stays pending and is redelivered.
				log.Error().Err(err).Str("id", msg.ID).Msg("Message processing failed")
				continue
			}
			if err := w.consumer.Ack(ctx, msg.ID); err != nil {
				log.Error().Err(err).Str("id", msg.ID).Msg("Ack failed")
			}
		}

		if pending, err := w.consumer.PendingCount(ctx); err == nil {
			metrics.StreamPending.Set(float64(pending))
		}
	}
}

// process handles one stream entry end to end: decode, merge history,
// classify, store.
func (w *Worker) process(ctx context.Context, msg goredis.XMessage) error {
	candle, err := stream.DecodeCandle(msg.Values)
	if err != nil {
		return err
	}

	window, err := w.mergeHistory(ctx, candle)
	if err != nil {
		return err
	}

	result, err := w.classifier.Classify(ctx, window)
	if err != nil {
		return err
	}
	if result == nil {
		// The candle is already persisted; a later candle will succeed
		// once the window has warmed up. Ack so it is not redelivered.
		metrics.ClassifierSkips.Inc()
		log.Warn().
			Str("symbol", candle.Symbol).
			Str("timeframe", candle.Timeframe).
			Int("window", len(window)).
			Msg("Insufficient history, no regime written")
		return nil
	}

	if err := w.results.Save(ctx, *result, candle.Timeframe); err != nil {
		return err
	}

	metrics.Classifications.WithLabelValues(w.classifier.Mode(), result.RegimeLabel).Inc()
	log.Info().
		Str("symbol", result.Symbol).
		Str("label", result.RegimeLabel).
		Float64("confidence", result.Confidence).
		Msg("Regime classified")
	return nil
}

// mergeHistory loads the trailing DB window and appends the incoming
// candle unless the DB already holds a row for its timestamp, in which
// case the DB row is authoritative.
func (w *Worker) mergeHistory(ctx context.Context, candle model.Candle) ([]model.Candle, error) {
	history, err := w.history.Recent(ctx, candle.Symbol, candle.Timeframe, w.window)
	if err != nil {
		return nil, fmt.Errorf("fetch history %s %s: %w", candle.Symbol, candle.Timeframe, err)
	}

	if n := len(history); n > 0 && history[n-1].Timestamp.Equal(candle.Timestamp) {
		return history, nil
	}
	return append(history, candle), nil
}
