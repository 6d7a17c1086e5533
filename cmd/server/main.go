package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	httpadapter "github.com/couchcryptid/grid-outage-risk/internal/adapter/http"
	"github.com/couchcryptid/grid-outage-risk/internal/app"
	"github.com/couchcryptid/grid-outage-risk/internal/config"
	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
	"github.com/couchcryptid/grid-outage-risk/internal/observability"
	"github.com/couchcryptid/grid-outage-risk/internal/serving"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	setupCtx := context.Background()

	districts, err := domain.LoadDistricts(cfg.DistrictsFile)
	if err != nil {
		logger.Error("failed to load districts", "error", err)
		os.Exit(1)
	}

	store, err := app.ArtifactStore(setupCtx, cfg)
	if err != nil {
		logger.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	// Missing artifacts degrade the predictor instead of stopping the server.
	arts, err := model.LoadArtifacts(setupCtx, store)
	if err != nil {
		logger.Warn("some artifacts unavailable", "error", err)
	}
	predictor := serving.NewPredictor(arts, districts)
	caps := predictor.Capabilities()
	logger.Info("models loaded", "scaler", caps.Scaler, "gbdt", caps.Tree, "lstm", caps.Recurrent)

	cache, cacheCloser, err := app.ResultCache(cfg, logger)
	if err != nil {
		logger.Error("failed to create result cache", "error", err)
		os.Exit(1)
	}

	opts := serving.Options{
		Cache:   cache,
		Log:     serving.NewPredictionLog(cfg.PredictionLogSize),
		Metrics: metrics,
		Logger:  logger,
	}

	var backend *app.Backend
	switch {
	case cfg.StoresPredictions():
		backend, err = app.OpenBackend(setupCtx, cfg, logger)
		if err != nil {
			logger.Error("failed to open backend", "sink", cfg.Sink, "error", err)
			os.Exit(1)
		}
		opts.Recorder = backend.Recorder
		opts.History = backend.History
		logger.Info("recording predictions", "sink", cfg.Sink)
	case cfg.Sink != config.SinkNone:
		logger.Info("sink does not store predictions, not connecting", "sink", cfg.Sink)
	}

	svc := serving.NewService(predictor, districts, opts)
	api := httpadapter.NewAPI(svc, dataset.NewFileSource(cfg.DatasetPath), logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, api, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := cacheCloser.Close(); err != nil {
		logger.Error("result cache close error", "error", err)
	}
	if backend != nil {
		if err := backend.Close(); err != nil {
			logger.Error("backend close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
