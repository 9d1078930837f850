package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "regimecast"
	version = "v1.2.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Market regime classification pipeline",
		Version: version,
		Long: `regimecast ingests exchange candles, classifies the market regime per
symbol with rules or a k-means model, and serves the result over HTTP.

Each subcommand runs one service of the pipeline; they share the same
configuration file and environment overrides.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (optional)")

	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the exchange ingestor",
		Long:  "Consume kline websocket streams, persist closed candles, and publish them to the Redis stream",
		RunE:  runIngest,
	}

	classifyCmd := &cobra.Command{
		Use:   "classify",
		Short: "Run the classifier worker",
		Long:  "Consume the candle stream and write one regime result per candle to the regime store",
		RunE:  runClassify,
	}

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Fit and promote a regime model",
		Long:  "Fit k-means clusters over the candle history and promote the result in the model registry",
		RunE:  runTrain,
	}
	trainCmd.Flags().Bool("schedule", false, "Keep running and retrain every Sunday at 00:00 UTC")

	gatewayCmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the read API",
		Long:  "Serve the latest regime per symbol from the Redis store",
		RunE:  runGateway,
	}

	rootCmd.AddCommand(ingestCmd, classifyCmd, trainCmd, gatewayCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
