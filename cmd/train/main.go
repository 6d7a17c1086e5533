// Command train fits the scaler and both classifiers on the synthetic table
// and stores the artifacts in the configured backend.
//
// Usage:
//
//	go run ./cmd/train -data data/synthetic/records.csv
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/grid-outage-risk/internal/app"
	"github.com/couchcryptid/grid-outage-risk/internal/config"
	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	tc := model.DefaultTrainConfig()

	data := flag.String("data", cfg.DatasetPath, "input CSV path")
	seed := flag.Uint64("seed", tc.Seed, "split and initialisation seed")
	testFraction := flag.Float64("test-fraction", tc.TestFraction, "held-out share")
	rounds := flag.Int("rounds", tc.GBDT.Rounds, "maximum boosting rounds")
	epochs := flag.Int("epochs", tc.LSTM.Epochs, "maximum LSTM epochs")
	skipLSTM := flag.Bool("skip-lstm", false, "train only the tree ensemble")
	report := flag.String("report", "", "optional path for a JSON training report")
	flag.Parse()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	tc.Seed = *seed
	tc.TestFraction = *testFraction
	tc.GBDT.Rounds = *rounds
	tc.LSTM.Epochs = *epochs
	tc.LSTM.Seed = *seed
	tc.GBDT.Seed = *seed
	tc.SkipLSTM = *skipLSTM

	records, err := dataset.ReadFile(*data)
	if errors.Is(err, dataset.ErrNotFound) {
		return fmt.Errorf("%w: run the generate command first", err)
	}
	if err != nil {
		return err
	}
	logger.Info("dataset loaded", "path", *data, "rows", len(records))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := app.ArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}

	arts, rep, err := model.Train(ctx, records, tc, logger)
	if err != nil {
		return err
	}
	if err := model.SaveArtifacts(ctx, store, arts, time.Now().UTC()); err != nil {
		return err
	}
	logger.Info("artifacts saved", "backend", cfg.ArtifactBackend, "duration", rep.Duration.Round(time.Millisecond))

	if *report != "" {
		b, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(*report, b, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	return nil
}
