package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

func TestSchema_QuotesTableNames(t *testing.T) {
	s := New(nil, "records", "Predictions")
	ddl := s.Schema()

	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "records"`)
	assert.Contains(t, ddl, `CREATE TABLE IF NOT EXISTS "Predictions"`)
	assert.Contains(t, ddl, `"Predictions_timestamp_idx" ON "Predictions"`)
	assert.NotContains(t, ddl, "{{")
}

func TestSchema_EscapesHostileNames(t *testing.T) {
	s := New(nil, `x"; DROP TABLE y; --`, "p")
	assert.Contains(t, s.Schema(), `"x""; DROP TABLE y; --"`)
}

func TestInsertRecordsQuery(t *testing.T) {
	q := New(nil, "records", "predictions").insertRecordsQuery()

	assert.True(t, strings.HasPrefix(q, `INSERT INTO "records" (timestamp, district, temperature,`))
	assert.Contains(t, q, "VALUES (:timestamp, :district, :temperature, :humidity, :wind_speed, :load,")
	assert.Contains(t, q, "ON CONFLICT (district, timestamp) DO UPDATE SET temperature = EXCLUDED.temperature")
	assert.Contains(t, q, "outage = EXCLUDED.outage")
	assert.NotContains(t, q, "district = EXCLUDED")
}

func TestName(t *testing.T) {
	assert.Equal(t, "postgres", New(nil, "r", "p").Name())
}

func TestChunkRecords(t *testing.T) {
	records := make([]domain.Record, 10000)
	for i := range records {
		records[i].Hour = i % 24
	}

	chunks := chunkRecords(records, maxRowsPerStatement)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], maxRowsPerStatement)
	assert.Len(t, chunks[1], 10000-maxRowsPerStatement)
	assert.Equal(t, records[maxRowsPerStatement].Hour, chunks[1][0].Hour)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c)*len(recordColumns), 65535, "bind parameters per statement")
	}

	assert.Len(t, chunkRecords(records[:3], maxRowsPerStatement), 1)
	assert.Empty(t, chunkRecords(nil, maxRowsPerStatement))
	assert.Len(t, chunkRecords(records[:4], 2), 2)
}
