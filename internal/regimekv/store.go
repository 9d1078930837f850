// Package regimekv is the shared key contract coupling classifier output
// to the gateway's read surface: regime:{symbol}:{timeframe} → JSON.
package regimekv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/regimelab/regimecast/internal/model"
)

// TTL bounds how long a regime result stays readable without a fresh
// classification. A missing key means "no regime available".
const TTL = time.Hour

// Key builds the KV key for one (symbol, timeframe).
func Key(symbol, timeframe string) string {
	return fmt.Sprintf("regime:%s:%s", symbol, timeframe)
}

// Store reads and writes regime results. The classifier worker is the
// only writer; the gateway only reads.
type Store struct {
	client goredis.Cmdable
}

// NewStore wraps a Redis client with the regime key contract.
func NewStore(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Save overwrites the regime result for (result.Symbol, timeframe) with a
// fresh TTL. Last writer wins.
func (s *Store) Save(ctx context.Context, result model.RegimeResult, timeframe string) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal regime result %s: %w", result.Symbol, err)
	}

	key := Key(result.Symbol, timeframe)
	if err := s.client.Set(ctx, key, body, TTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Get returns the stored JSON for one key. ok is false when no regime is
// available for the pair.
func (s *Store) Get(ctx context.Context, symbol, timeframe string) (string, bool, error) {
	val, err := s.client.Get(ctx, Key(symbol, timeframe)).Result()
	if err != nil {
		if err == goredis.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", Key(symbol, timeframe), err)
	}
	return val, true, nil
}
