package stream

import (
	"context"
	"fmt"

	goredis "github.com/go-redis/redis/v8"

	"github.com/regimelab/regimecast/internal/model"
)

// Publisher appends closed candles to the bounded market data stream.
// The stream is approx-trimmed on publish; if consumers lag past MaxLen,
// the oldest entries are dropped by the producer.
type Publisher struct {
	client goredis.Cmdable
	stream string
	maxLen int64
}

// NewPublisher creates a publisher for the named stream.
func NewPublisher(client goredis.Cmdable, stream string, maxLen int64) *Publisher {
	return &Publisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish appends one candle as a flat field-value entry. Publication is
// at-most-once per call; downstream duplicates are harmless because the
// worker's history merge deduplicates by timestamp.
func (p *Publisher) Publish(ctx context.Context, c model.Candle) error {
	err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: EncodeCandle(c),
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}
