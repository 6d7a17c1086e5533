// Command load uploads the synthetic table to the configured backend in
// paced batches. Failed batches are reported and skipped.
//
// Usage:
//
//	SINK=rest REST_URL=https://<project>.supabase.co REST_KEY=... go run ./cmd/load
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grid-outage-risk/internal/app"
	"github.com/couchcryptid/grid-outage-risk/internal/config"
	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/observability"
	"github.com/couchcryptid/grid-outage-risk/internal/pipeline"
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
	data := flag.String("data", cfg.DatasetPath, "input CSV path")
	flag.Parse()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	records, err := dataset.ReadFile(*data)
	if errors.Is(err, dataset.ErrNotFound) {
		return fmt.Errorf("%w: run the generate command first", err)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("close backend", "error", err)
		}
	}()

	if backend.Ping != nil {
		if err := backend.Ping(ctx); err != nil {
			return fmt.Errorf("backend unreachable: %w", err)
		}
	}

	for _, d := range dataset.Stats(records, "") {
		logger.Info("district rows", "district", d.District, "rows", d.Records)
	}

	u := pipeline.New(backend.Sink, logger, observability.NewMetrics(), clockwork.NewRealClock(), cfg.UploadBatchSize, cfg.UploadPause)
	rep, err := u.Run(ctx, records)
	if err != nil {
		return err
	}
	logger.Info("upload summary",
		"succeeded_rows", rep.SucceededRows,
		"failed_rows", rep.FailedRows,
		"failed_batches", rep.FailedBatches,
		"success_rate_pct", fmt.Sprintf("%.1f", rep.SuccessRate()),
	)

	if backend.Count != nil {
		if n, err := backend.Count(ctx); err != nil {
			logger.Warn("count stored records", "error", err)
		} else {
			logger.Info("stored records", "count", n)
		}
	}

	if rep.SucceededRows == 0 && len(records) > 0 {
		return errors.New("upload failed: no rows were stored")
	}
	return nil
}
