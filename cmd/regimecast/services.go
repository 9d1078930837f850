package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/regimelab/regimecast/internal/classifier"
	"github.com/regimelab/regimecast/internal/config"
	"github.com/regimelab/regimecast/internal/gateway"
	"github.com/regimelab/regimecast/internal/ingest"
	"github.com/regimelab/regimecast/internal/persistence/postgres"
	"github.com/regimelab/regimecast/internal/regimekv"
	"github.com/regimelab/regimecast/internal/stream"
	"github.com/regimelab/regimecast/internal/trainer"
)

const dbTimeout = 10 * time.Second

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func redisClient(cfg config.Redis) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return goredis.NewClient(opts), nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	candles := postgres.NewCandleRepo(db, dbTimeout)
	if err := candles.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate candle store: %w", err)
	}

	redis, err := redisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	publisher := stream.NewPublisher(redis, cfg.Redis.StreamKey, cfg.Redis.StreamMaxLen)
	monitor := ingest.NewMonitor()
	handler := ingest.NewHandler(candles, publisher, monitor)
	connector := ingest.NewConnector(cfg.Exchange, handler)
	health := ingest.NewHealthServer(monitor, cfg.Health.Port, cfg.Health.LivenessThreshold)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return connector.Run(gctx) })
	g.Go(func() error { return health.Run(gctx) })

	log.Info().Strs("symbols", cfg.Exchange.WatchSymbols).Msg("Ingestor started")
	return g.Wait()
}

func runClassify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	models := postgres.NewModelRepo(db, dbTimeout)
	if err := models.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate model registry: %w", err)
	}

	redis, err := redisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	name := cfg.Classifier.ConsumerName
	if name == "" {
		name = "quant_processor_" + uuid.NewString()[:8]
	}

	consumer := stream.NewConsumer(redis, cfg.Redis.StreamKey, cfg.Classifier.ConsumerGroup, name)
	worker := classifier.NewWorker(
		consumer,
		postgres.NewCandleRepo(db, dbTimeout),
		classifier.New(cfg.Classifier, models),
		regimekv.NewStore(redis),
		cfg.Classifier.HistoryWindow,
	)

	log.Info().Str("mode", cfg.Classifier.Mode).Str("consumer", name).Msg("Classifier started")
	return worker.Run(ctx)
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	schedule, _ := cmd.Flags().GetBool("schedule")

	ctx, stop := signalContext()
	defer stop()

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	models := postgres.NewModelRepo(db, dbTimeout)
	if err := models.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate model registry: %w", err)
	}

	tr := trainer.New(cfg.Trainer, postgres.NewCandleRepo(db, dbTimeout), models)
	if schedule {
		return tr.RunSchedule(ctx)
	}
	return tr.Run(ctx)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	redis, err := redisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()

	server := gateway.NewServer(cfg.Gateway, regimekv.NewStore(redis), redis)
	return server.Run(ctx)
}
