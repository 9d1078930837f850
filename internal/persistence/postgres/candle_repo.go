package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/regimelab/regimecast/internal/model"
)

// CandleRepo persists closed candles into the raw_candles hypertable.
type CandleRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCandleRepo creates a candle repository with a per-query timeout.
func NewCandleRepo(db *sqlx.DB, timeout time.Duration) *CandleRepo {
	return &CandleRepo{db: db, timeout: timeout}
}

// Migrate ensures the raw_candles table and its unique key exist. The
// hypertable conversion is best-effort: plain Postgres without the
// Timescale extension degrades to an ordinary table.
func (r *CandleRepo) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS raw_candles (
			time      TIMESTAMPTZ      NOT NULL,
			symbol    TEXT             NOT NULL,
			exchange  TEXT             NOT NULL,
			timeframe TEXT             NOT NULL,
			open      DOUBLE PRECISION NOT NULL,
			high      DOUBLE PRECISION NOT NULL,
			low       DOUBLE PRECISION NOT NULL,
			close     DOUBLE PRECISION NOT NULL,
			volume    DOUBLE PRECISION NOT NULL,
			UNIQUE (time, symbol, exchange, timeframe)
		)`)
	if err != nil {
		return fmt.Errorf("create raw_candles: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`SELECT create_hypertable('raw_candles', 'time', if_not_exists => TRUE)`)
	if err != nil {
		log.Warn().Err(err).Msg("Could not create hypertable (TimescaleDB extension missing?)")
	}
	return nil
}

// Insert writes one candle; a conflict on the identity key is a no-op so
// replayed frames and retries stay idempotent.
func (r *CandleRepo) Insert(ctx context.Context, c model.Candle) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO raw_candles (time, symbol, exchange, timeframe, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (time, symbol, exchange, timeframe) DO NOTHING`,
		c.Timestamp, c.Symbol, c.Exchange, c.Timeframe, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return false, fmt.Errorf("insert candle %s: %w", c.Key(), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert candle %s: rows affected: %w", c.Key(), err)
	}
	return n > 0, nil
}

// Recent fetches the trailing history window for one (symbol, timeframe),
// returned oldest first.
func (r *CandleRepo) Recent(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT time, symbol, exchange, timeframe, open, high, low, close, volume
		FROM raw_candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY time DESC
		LIMIT $3`,
		symbol, timeframe, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent candles %s %s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}

	// Newest-first from the query; flip to chronological order.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Since streams the trainer's lookback window, oldest first.
func (r *CandleRepo) Since(ctx context.Context, from time.Time) ([]model.Candle, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT time, symbol, exchange, timeframe, open, high, low, close, volume
		FROM raw_candles
		WHERE time >= $1
		ORDER BY symbol, time ASC`,
		from)
	if err != nil {
		return nil, fmt.Errorf("query candles since %s: %w", from.Format(time.RFC3339), err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

func scanCandles(rows *sqlx.Rows) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Timestamp, &c.Symbol, &c.Exchange, &c.Timeframe,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.EventType = model.EventCandleClose
		c.Timestamp = c.Timestamp.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return out, nil
}
