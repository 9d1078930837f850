package stream

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// blockTimeout caps each XREADGROUP call so the worker's loop can observe
// shutdown between reads.
const blockTimeout = time.Second

// Consumer owns a named consumer inside a consumer group on the market
// data stream. Entries are delivered in append order to this consumer;
// unacked entries stay pending and are redelivered on recovery.
type Consumer struct {
	client goredis.Cmdable
	stream string
	group  string
	name   string
}

// NewConsumer creates a consumer-group member.
func NewConsumer(client goredis.Cmdable, stream, group, name string) *Consumer {
	return &Consumer{client: client, stream: stream, group: group, name: name}
}

// Name returns the consumer's name within the group.
func (c *Consumer) Name() string { return c.name }

// EnsureGroup creates the consumer group with start-id "0", creating the
// stream if absent. An already-existing group is not an error.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Read blocks up to one second for the next undelivered entry. A timeout
// returns an empty slice and nil error.
func (c *Consumer) Read(ctx context.Context) ([]goredis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.name,
		Streams:  []string{c.stream, ">"},
		Count:    1,
		Block:    blockTimeout,
	}).Result()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup %s: %w", c.stream, err)
	}

	var msgs []goredis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// Ack acknowledges a processed entry.
func (c *Consumer) Ack(ctx context.Context, id string) error {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", c.stream, id, err)
	}
	return nil
}

// PendingCount reports the group's pending-entries count, the lag signal
// surfaced through metrics.
func (c *Consumer) PendingCount(ctx context.Context) (int64, error) {
	p, err := c.client.XPending(ctx, c.stream, c.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", c.stream, err)
	}
	return p.Count, nil
}
