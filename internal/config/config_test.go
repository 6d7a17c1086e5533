package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultBroker = "localhost:9092"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "data/synthetic/records.csv", cfg.DatasetPath)
	assert.Empty(t, cfg.DistrictsFile)
	assert.Equal(t, ArtifactsDir, cfg.ArtifactBackend)
	assert.Equal(t, "models", cfg.ModelsDir)
	assert.Equal(t, "outage-models", cfg.MinioBucket)
	assert.False(t, cfg.MinioSecure)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 1000, cfg.CacheSize)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 1000, cfg.PredictionLogSize)
	assert.Equal(t, SinkNone, cfg.Sink)
	assert.Equal(t, 30*time.Second, cfg.RESTTimeout)
	assert.Equal(t, "records", cfg.RecordsTable)
	assert.Equal(t, "predictions", cfg.PredictionsTable)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "grid-outage-records", cfg.KafkaTopic)
	assert.Equal(t, 1000, cfg.UploadBatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.UploadPause)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("DATASET_PATH", "/data/records.csv")
	t.Setenv("DISTRICTS_FILE", "/etc/districts.yaml")
	t.Setenv("ARTIFACT_BACKEND", "minio")
	t.Setenv("MINIO_ENDPOINT", "minio:9000")
	t.Setenv("MINIO_BUCKET", "models")
	t.Setenv("MINIO_PREFIX", "v2")
	t.Setenv("MINIO_SECURE", "true")
	t.Setenv("CACHE_BACKEND", "redis")
	t.Setenv("CACHE_TTL", "0")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SINK", "rest")
	t.Setenv("REST_URL", "https://example.supabase.co")
	t.Setenv("REST_KEY", "anon-key")
	t.Setenv("REST_TIMEOUT", "5s")
	t.Setenv("RECORDS_TABLE", "enregistrements")
	t.Setenv("UPLOAD_BATCH_SIZE", "250")
	t.Setenv("BATCH_FLUSH_INTERVAL", "1s")
	t.Setenv("PREDICTION_LOG_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/data/records.csv", cfg.DatasetPath)
	assert.Equal(t, "/etc/districts.yaml", cfg.DistrictsFile)
	assert.Equal(t, ArtifactsMinio, cfg.ArtifactBackend)
	assert.Equal(t, "minio:9000", cfg.MinioEndpoint)
	assert.Equal(t, "models", cfg.MinioBucket)
	assert.Equal(t, "v2", cfg.MinioPrefix)
	assert.True(t, cfg.MinioSecure)
	assert.Equal(t, CacheRedis, cfg.CacheBackend)
	assert.Zero(t, cfg.CacheTTL)
	assert.Equal(t, "redis://cache:6379/1", cfg.RedisURL)
	assert.Equal(t, SinkREST, cfg.Sink)
	assert.Equal(t, "https://example.supabase.co", cfg.RESTURL)
	assert.Equal(t, "anon-key", cfg.RESTKey)
	assert.Equal(t, 5*time.Second, cfg.RESTTimeout)
	assert.Equal(t, "enregistrements", cfg.RecordsTable)
	assert.Equal(t, 250, cfg.UploadBatchSize)
	assert.Equal(t, time.Second, cfg.UploadPause)
	assert.Equal(t, 50, cfg.PredictionLogSize)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "not-a-duration"}, "SHUTDOWN_TIMEOUT"},
		{"negative shutdown timeout", map[string]string{"SHUTDOWN_TIMEOUT": "-1s"}, "SHUTDOWN_TIMEOUT"},
		{"flush interval", map[string]string{"BATCH_FLUSH_INTERVAL": "soon"}, "BATCH_FLUSH_INTERVAL"},
		{"zero rest timeout", map[string]string{"REST_TIMEOUT": "0s"}, "REST_TIMEOUT"},
		{"negative cache ttl", map[string]string{"CACHE_TTL": "-1m"}, "CACHE_TTL"},
		{"zero batch size", map[string]string{"UPLOAD_BATCH_SIZE": "0"}, "UPLOAD_BATCH_SIZE"},
		{"batch size too large", map[string]string{"UPLOAD_BATCH_SIZE": "20000"}, "UPLOAD_BATCH_SIZE"},
		{"cache size", map[string]string{"CACHE_SIZE": "many"}, "CACHE_SIZE"},
		{"log size", map[string]string{"PREDICTION_LOG_SIZE": "-3"}, "PREDICTION_LOG_SIZE"},
		{"artifact backend", map[string]string{"ARTIFACT_BACKEND": "s3"}, "ARTIFACT_BACKEND"},
		{"minio without endpoint", map[string]string{"ARTIFACT_BACKEND": "minio"}, "MINIO_ENDPOINT"},
		{"cache backend", map[string]string{"CACHE_BACKEND": "memcached"}, "CACHE_BACKEND"},
		{"sink", map[string]string{"SINK": "ftp"}, "SINK"},
		{"rest without key", map[string]string{"SINK": "rest", "REST_URL": "https://x"}, "REST_KEY"},
		{"postgres without url", map[string]string{"SINK": "postgres"}, "POSTGRES_URL"},
		{"kafka without brokers", map[string]string{"SINK": "kafka", "KAFKA_BROKERS": " , "}, "KAFKA_BROKERS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_KafkaSink(t *testing.T) {
	t.Setenv("SINK", "kafka")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("KAFKA_TOPIC", "records.v1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "records.v1", cfg.KafkaTopic)
	assert.False(t, cfg.StoresPredictions())
}

func TestConfig_StoresPredictions(t *testing.T) {
	tests := []struct {
		sink string
		want bool
	}{
		{SinkNone, false},
		{SinkREST, true},
		{SinkPostgres, true},
		{SinkKafka, false},
	}
	for _, tc := range tests {
		t.Run(tc.sink, func(t *testing.T) {
			assert.Equal(t, tc.want, (&Config{Sink: tc.sink}).StoresPredictions())
		})
	}
}
