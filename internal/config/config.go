// Package config builds the immutable process configuration: defaults,
// then an optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Classifier modes.
const (
	ModeRuleBased    = "RULE_BASED"
	ModeMLClustering = "ML_CLUSTERING"
)

// Database holds Postgres/TimescaleDB connection settings. URL wins when
// set; otherwise it is composed from the individual parts.
type Database struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DSN returns the lib/pq connection string. An explicit URL is passed
// through untouched, including any sslmode query parameter.
func (d Database) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.Name)
	if d.SSLMode != "" {
		dsn += "?sslmode=" + url.QueryEscape(d.SSLMode)
	}
	return dsn
}

// Redis holds stream and KV store settings.
type Redis struct {
	URL          string `yaml:"url"`
	StreamKey    string `yaml:"stream_key"`
	StreamMaxLen int64  `yaml:"stream_max_len"`
}

// Exchange holds the ingestor's websocket subscription settings.
type Exchange struct {
	WSBaseURL     string   `yaml:"ws_base_url"`
	WatchSymbols  []string `yaml:"watch_symbols"`
	KlineInterval string   `yaml:"kline_interval"`
}

// Health holds the ingestor liveness endpoint settings.
type Health struct {
	Port              int           `yaml:"port"`
	LivenessThreshold time.Duration `yaml:"liveness_threshold"`
}

// Classifier holds worker mode and rule thresholds.
type Classifier struct {
	Mode                string  `yaml:"mode"`
	VolatilityThreshold float64 `yaml:"volatility_threshold"`
	TrendThreshold      float64 `yaml:"trend_threshold"`
	ConsumerGroup       string  `yaml:"consumer_group"`
	ConsumerName        string  `yaml:"consumer_name"`
	HistoryWindow       int     `yaml:"history_window"`
}

// Trainer holds the batch fit settings.
type Trainer struct {
	LookbackDays int   `yaml:"lookback_days"`
	K            int   `yaml:"k"`
	Seed         int64 `yaml:"seed"`
}

// Gateway holds the read-API settings.
type Gateway struct {
	Port               int `yaml:"port"`
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

// Config is the full process configuration. It is constructed once at
// startup and passed down; services never mutate it.
type Config struct {
	Database   Database   `yaml:"database"`
	Redis      Redis      `yaml:"redis"`
	Exchange   Exchange   `yaml:"exchange"`
	Health     Health     `yaml:"health"`
	Classifier Classifier `yaml:"classifier"`
	Trainer    Trainer    `yaml:"trainer"`
	Gateway    Gateway    `yaml:"gateway"`
}

// Default returns the configuration defaults documented in the README.
func Default() Config {
	return Config{
		Database: Database{
			User:            "postgres",
			Password:        "password",
			Host:            "localhost",
			Port:            5432,
			Name:            "quant",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			QueryTimeout:    30 * time.Second,
		},
		Redis: Redis{
			URL:          "redis://localhost:6379/0",
			StreamKey:    "market_data_feed",
			StreamMaxLen: 10000,
		},
		Exchange: Exchange{
			WSBaseURL:     "wss://stream.binance.com:9443/stream?streams=",
			WatchSymbols:  []string{"btcusdt", "ethusdt"},
			KlineInterval: "1h",
		},
		Health: Health{
			Port:              8000,
			LivenessThreshold: 60 * time.Second,
		},
		Classifier: Classifier{
			Mode:                ModeRuleBased,
			VolatilityThreshold: 0.02,
			TrendThreshold:      0.0,
			ConsumerGroup:       "quant_group",
			HistoryWindow:       100,
		},
		Trainer: Trainer{
			LookbackDays: 730,
			K:            4,
			Seed:         42,
		},
		Gateway: Gateway{
			Port:               8080,
			RateLimitPerMinute: 60,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// any), then environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no service can run with.
func (c Config) Validate() error {
	if c.Classifier.Mode != ModeRuleBased && c.Classifier.Mode != ModeMLClustering {
		return fmt.Errorf("invalid classifier mode %q (want %s or %s)",
			c.Classifier.Mode, ModeRuleBased, ModeMLClustering)
	}
	if len(c.Exchange.WatchSymbols) == 0 {
		return fmt.Errorf("no watch symbols configured")
	}
	if c.Trainer.K < 2 {
		return fmt.Errorf("trainer k must be at least 2, got %d", c.Trainer.K)
	}
	if c.Classifier.HistoryWindow < 2 {
		return fmt.Errorf("history window must be at least 2, got %d", c.Classifier.HistoryWindow)
	}
	return nil
}

func (c *Config) applyEnv() {
	envStr("DATABASE_URL", &c.Database.URL)
	envStr("DATABASE_USER", &c.Database.User)
	envStr("DATABASE_PASSWORD", &c.Database.Password)
	envStr("DATABASE_HOST", &c.Database.Host)
	envInt("DATABASE_PORT", &c.Database.Port)
	envStr("DATABASE_NAME", &c.Database.Name)
	envStr("DATABASE_SSLMODE", &c.Database.SSLMode)
	envInt("PG_MAX_OPEN_CONNS", &c.Database.MaxOpenConns)
	envInt("PG_MAX_IDLE_CONNS", &c.Database.MaxIdleConns)

	envStr("REDIS_URL", &c.Redis.URL)
	envStr("REDIS_STREAM_KEY", &c.Redis.StreamKey)
	envInt64("REDIS_STREAM_MAX_LEN", &c.Redis.StreamMaxLen)

	envStr("BINANCE_WS_BASE_URL", &c.Exchange.WSBaseURL)
	envList("WATCH_SYMBOLS", &c.Exchange.WatchSymbols)
	envStr("KLINE_INTERVAL", &c.Exchange.KlineInterval)

	envInt("HEALTH_CHECK_PORT", &c.Health.Port)
	envSeconds("LIVENESS_THRESHOLD_SECONDS", &c.Health.LivenessThreshold)

	envStr("MODE", &c.Classifier.Mode)
	envFloat("VOLATILITY_THRESHOLD", &c.Classifier.VolatilityThreshold)
	envFloat("TREND_THRESHOLD", &c.Classifier.TrendThreshold)
	envStr("CONSUMER_GROUP", &c.Classifier.ConsumerGroup)
	envStr("CONSUMER_NAME", &c.Classifier.ConsumerName)
	envInt("HISTORY_WINDOW", &c.Classifier.HistoryWindow)

	envInt("LOOKBACK_DAYS", &c.Trainer.LookbackDays)
	envInt("K", &c.Trainer.K)
	envInt64("SEED", &c.Trainer.Seed)

	envInt("GATEWAY_PORT", &c.Gateway.Port)
	envInt("RATE_LIMIT_PER_MINUTE", &c.Gateway.RateLimitPerMinute)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envSeconds(key string, dst *time.Duration) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

// envList parses comma-separated values, tolerating the bracketed
// [a,b] form the original deployment used.
func envList(key string, dst *[]string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	v = strings.Trim(v, "[]")
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
