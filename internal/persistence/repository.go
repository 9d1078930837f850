// Package persistence defines the storage contracts shared by the
// ingestor, classifier worker, and trainer.
package persistence

import (
	"context"
	"time"

	"github.com/regimelab/regimecast/internal/model"
)

// CandleRepo is the raw_candles hypertable contract. Rows are append-only:
// the ingestor creates them, nothing mutates them, retention evicts them.
type CandleRepo interface {
	// Insert persists a closed candle. Duplicate identities are a no-op;
	// the returned bool reports whether a row was actually written.
	Insert(ctx context.Context, c model.Candle) (bool, error)

	// Recent returns the last `limit` candles for (symbol, timeframe),
	// sorted oldest first.
	Recent(ctx context.Context, symbol, timeframe string, limit int) ([]model.Candle, error)

	// Since returns all candles with time >= from, oldest first, across
	// all symbols. Used by the trainer's historical fetch.
	Since(ctx context.Context, from time.Time) ([]model.Candle, error)
}

// ModelRepo is the model_registry contract. Only the trainer writes;
// promotion is atomic so readers observe exactly one active model.
type ModelRepo interface {
	// Active returns the single active model, or nil when none exists.
	Active(ctx context.Context) (*model.ModelRecord, error)

	// Promote deactivates the current active model and inserts the new
	// record as active, in one transaction.
	Promote(ctx context.Context, algorithm string, params model.ModelParameters) error
}

// Migrator prepares schema objects idempotently before first use.
type Migrator interface {
	Migrate(ctx context.Context) error
}
