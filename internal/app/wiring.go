// Package app builds the adapters selected by the configuration. It is
// shared by the commands so each backend is constructed in one place.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	kafkaadapter "github.com/couchcryptid/grid-outage-risk/internal/adapter/kafka"
	minioadapter "github.com/couchcryptid/grid-outage-risk/internal/adapter/minio"
	"github.com/couchcryptid/grid-outage-risk/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/grid-outage-risk/internal/adapter/redis"
	"github.com/couchcryptid/grid-outage-risk/internal/adapter/rest"
	"github.com/couchcryptid/grid-outage-risk/internal/config"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
	"github.com/couchcryptid/grid-outage-risk/internal/pipeline"
	"github.com/couchcryptid/grid-outage-risk/internal/serving"
)

// ErrNoSink is returned when SINK is none.
var ErrNoSink = errors.New("no sink configured: set SINK to rest, postgres or kafka")

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ArtifactStore opens the configured model store, creating the bucket when
// the backend is minio.
func ArtifactStore(ctx context.Context, cfg *config.Config) (model.ArtifactStore, error) {
	switch cfg.ArtifactBackend {
	case config.ArtifactsMinio:
		s, err := minioadapter.New(minioadapter.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Prefix:    cfg.MinioPrefix,
			Region:    cfg.MinioRegion,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return model.DirStore{Dir: cfg.ModelsDir}, nil
	}
}

// ResultCache builds the configured prediction cache.
func ResultCache(cfg *config.Config, logger *slog.Logger) (serving.ResultCache, io.Closer, error) {
	if cfg.CacheBackend != config.CacheRedis {
		return serving.NewMemoryCache(cfg.CacheSize), nopCloser{}, nil
	}
	client, err := redisadapter.Connect(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	c := redisadapter.NewCache(client, cfg.CacheTTL, logger)
	return c, c, nil
}

// Backend bundles the upload sink and the prediction recorder for the
// configured SINK. Recorder and History are nil for sinks that do not store
// predictions.
type Backend struct {
	Sink     pipeline.Sink
	Recorder serving.PredictionRecorder
	History  serving.PredictionHistory
	// Ping checks connectivity before an upload. It may be nil.
	Ping func(ctx context.Context) error
	// Count returns the stored record count after an upload. It may be nil.
	Count  func(ctx context.Context) (int, error)
	closer io.Closer
}

// Close releases the backend connections.
func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// OpenBackend connects the configured sink. SINK=none yields ErrNoSink.
func OpenBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.Sink {
	case config.SinkREST:
		c := rest.NewClient(cfg.RESTURL, cfg.RESTKey, cfg.RESTTimeout, logger)
		preds := rest.NewPredictionRecorder(c, cfg.PredictionsTable)
		return &Backend{
			Sink:     rest.NewRecordSink(c, cfg.RecordsTable),
			Recorder: preds,
			History:  preds,
			Ping:     c.Ping,
			Count: func(ctx context.Context) (int, error) {
				return c.Count(ctx, cfg.RecordsTable)
			},
		}, nil

	case config.SinkPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresURL, cfg.RecordsTable, cfg.PredictionsTable)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return &Backend{Sink: s, Recorder: s, History: s, Ping: s.CheckReadiness, Count: s.Count, closer: s}, nil

	case config.SinkKafka:
		w := kafkaadapter.NewWriter(cfg, logger)
		return &Backend{Sink: w, closer: w}, nil

	case config.SinkNone:
		return nil, ErrNoSink

	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}
