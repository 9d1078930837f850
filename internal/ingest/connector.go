package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/metrics"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = 60 * time.Second
	handshakeTimeout = 30 * time.Second

	// readDeadline bounds each websocket read so a dead TCP connection
	// surfaces as an error instead of hanging forever. Binance sends a
	// ping every few minutes even on quiet streams.
	readDeadline = 5 * time.Minute
)

// Connector owns the persistent exchange WebSocket subscription. Any read
// error tears down the connection and triggers exponential backoff; a
// successful message resets the backoff to one second.
type Connector struct {
	cfg     config.Exchange
	handler *Handler
}

// NewConnector creates a connector for the configured symbol set.
func NewConnector(cfg config.Exchange, handler *Handler) *Connector {
	return &Connector{cfg: cfg, handler: handler}
}

// StreamURL composes the combined-stream subscription URL.
func (c *Connector) StreamURL() string {
	streams := make([]string, len(c.cfg.WatchSymbols))
	for i, sym := range c.cfg.WatchSymbols {
		streams[i] = fmt.Sprintf("%s@kline_%s", strings.ToLower(sym), c.cfg.KlineInterval)
	}
	return c.cfg.WSBaseURL + strings.Join(streams, "/")
}

// Run consumes the subscription until ctx is cancelled. It only returns
// early on context cancellation; connection errors reconnect forever.
func (c *Connector) Run(ctx context.Context) error {
	url := c.StreamURL()
	backoff := initialBackoff

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.consume(ctx, url, &backoff)
		if ctx.Err() != nil {
			return nil
		}

		log.Error().Err(err).Dur("backoff", backoff).Msg("WebSocket connection lost, reconnecting")
		metrics.Reconnects.Inc()

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// consume dials and reads frames until the connection or context fails.
func (c *Connector) consume(ctx context.Context, url string, backoff *time.Duration) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()

	log.Info().Str("url", url).Msg("Connected to exchange WebSocket")

	// Unblock the read loop on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read message: %w", err)
		}
		*backoff = initialBackoff
		c.handler.HandleMessage(ctx, raw)
	}
}
