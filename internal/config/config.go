package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Artifact store backends.
const (
	ArtifactsDir   = "dir"
	ArtifactsMinio = "minio"
)

// Result cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Upload sinks. SinkNone disables upload and prediction recording.
const (
	SinkNone     = "none"
	SinkREST     = "rest"
	SinkPostgres = "postgres"
	SinkKafka    = "kafka"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	DatasetPath   string
	DistrictsFile string

	// Model artifact storage.
	ArtifactBackend string
	ModelsDir       string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioPrefix     string
	MinioRegion     string
	MinioSecure     bool

	// Prediction result cache.
	CacheBackend string
	CacheSize    int
	CacheTTL     time.Duration
	RedisURL     string

	PredictionLogSize int

	// Upload sink and prediction recorder.
	Sink             string
	RESTURL          string
	RESTKey          string
	RESTTimeout      time.Duration
	RecordsTable     string
	PredictionsTable string
	PostgresURL      string
	KafkaBrokers     []string
	KafkaTopic       string

	UploadBatchSize int
	UploadPause     time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	// The pause between upload batches shares the flush interval setting.
	uploadPause, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	restTimeout, err := parseDuration("REST_TIMEOUT", "30s", false)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("CACHE_TTL", "10m", true)
	if err != nil {
		return nil, err
	}

	uploadBatchSize, err := parsePositiveInt("UPLOAD_BATCH_SIZE", 1000, 10000)
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("CACHE_SIZE", 1000, 1_000_000)
	if err != nil {
		return nil, err
	}
	logSize, err := parsePositiveInt("PREDICTION_LOG_SIZE", 1000, 1_000_000)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		DatasetPath:   sharedcfg.EnvOrDefault("DATASET_PATH", "data/synthetic/records.csv"),
		DistrictsFile: os.Getenv("DISTRICTS_FILE"),

		ArtifactBackend: sharedcfg.EnvOrDefault("ARTIFACT_BACKEND", ArtifactsDir),
		ModelsDir:       sharedcfg.EnvOrDefault("MODELS_DIR", "models"),
		MinioEndpoint:   os.Getenv("MINIO_ENDPOINT"),
		MinioAccessKey:  os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:  os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:     sharedcfg.EnvOrDefault("MINIO_BUCKET", "outage-models"),
		MinioPrefix:     os.Getenv("MINIO_PREFIX"),
		MinioRegion:     os.Getenv("MINIO_REGION"),
		MinioSecure:     os.Getenv("MINIO_SECURE") == "true",

		CacheBackend: sharedcfg.EnvOrDefault("CACHE_BACKEND", CacheMemory),
		CacheSize:    cacheSize,
		CacheTTL:     cacheTTL,
		RedisURL:     sharedcfg.EnvOrDefault("REDIS_URL", "localhost:6379"),

		PredictionLogSize: logSize,

		Sink:             sharedcfg.EnvOrDefault("SINK", SinkNone),
		RESTURL:          os.Getenv("REST_URL"),
		RESTKey:          os.Getenv("REST_KEY"),
		RESTTimeout:      restTimeout,
		RecordsTable:     sharedcfg.EnvOrDefault("RECORDS_TABLE", "records"),
		PredictionsTable: sharedcfg.EnvOrDefault("PREDICTIONS_TABLE", "predictions"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		KafkaBrokers:     sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:       sharedcfg.EnvOrDefault("KAFKA_TOPIC", "grid-outage-records"),

		UploadBatchSize: uploadBatchSize,
		UploadPause:     uploadPause,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.ArtifactBackend {
	case ArtifactsDir:
		if c.ModelsDir == "" {
			return errors.New("MODELS_DIR is required")
		}
	case ArtifactsMinio:
		if c.MinioEndpoint == "" {
			return errors.New("ARTIFACT_BACKEND is minio but MINIO_ENDPOINT is not set")
		}
	default:
		return fmt.Errorf("invalid ARTIFACT_BACKEND %q: must be dir or minio", c.ArtifactBackend)
	}

	switch c.CacheBackend {
	case CacheMemory, CacheRedis:
	default:
		return fmt.Errorf("invalid CACHE_BACKEND %q: must be memory or redis", c.CacheBackend)
	}

	switch c.Sink {
	case SinkNone:
	case SinkREST:
		if c.RESTURL == "" || c.RESTKey == "" {
			return errors.New("SINK is rest but REST_URL or REST_KEY is not set")
		}
	case SinkPostgres:
		if c.PostgresURL == "" {
			return errors.New("SINK is postgres but POSTGRES_URL is not set")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaTopic == "" {
			return errors.New("KAFKA_TOPIC is required")
		}
	default:
		return fmt.Errorf("invalid SINK %q: must be none, rest, postgres or kafka", c.Sink)
	}
	return nil
}

func parsePositiveInt(key string, fallback, limit int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > limit {
		return 0, fmt.Errorf("invalid %s: must be 1-%d", key, limit)
	}
	return n, nil
}

// parseDuration reads a duration; allowZero accepts "0" as "no limit".
func parseDuration(key, fallback string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, fallback))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// StoresPredictions reports whether the configured sink can record served
// predictions and read them back.
func (c *Config) StoresPredictions() bool {
	return c.Sink == SinkREST || c.Sink == SinkPostgres
}
