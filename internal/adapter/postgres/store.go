// Package postgres stores records and predictions in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS {{records}} (
	timestamp    TIMESTAMPTZ      NOT NULL,
	district     TEXT             NOT NULL,
	temperature  DOUBLE PRECISION NOT NULL,
	humidity     INTEGER          NOT NULL,
	wind_speed   DOUBLE PRECISION NOT NULL,
	load         INTEGER          NOT NULL,
	hour         SMALLINT         NOT NULL,
	day_of_week  SMALLINT         NOT NULL,
	month        SMALLINT         NOT NULL,
	season       SMALLINT         NOT NULL,
	is_peak_hour SMALLINT         NOT NULL,
	outage       SMALLINT         NOT NULL,
	PRIMARY KEY (district, timestamp)
);

CREATE TABLE IF NOT EXISTS {{predictions}} (
	id                    UUID             PRIMARY KEY,
	timestamp             TIMESTAMPTZ      NOT NULL,
	district              TEXT             NOT NULL,
	temperature           DOUBLE PRECISION NOT NULL,
	humidity              DOUBLE PRECISION NOT NULL,
	wind_speed            DOUBLE PRECISION NOT NULL,
	load                  DOUBLE PRECISION NOT NULL,
	tree_probability      DOUBLE PRECISION NOT NULL,
	recurrent_probability DOUBLE PRECISION NOT NULL,
	risk                  DOUBLE PRECISION NOT NULL,
	level                 TEXT             NOT NULL,
	decision              SMALLINT         NOT NULL,
	threshold             DOUBLE PRECISION NOT NULL,
	models_used           TEXT[]           NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS {{predictions_ts_idx}} ON {{predictions}} (timestamp DESC);
`

var recordColumns = []string{
	"timestamp", "district", "temperature", "humidity", "wind_speed", "load",
	"hour", "day_of_week", "month", "season", "is_peak_hour", "outage",
}

// Store implements the record sink and the prediction recorder on one
// connection pool.
type Store struct {
	db               *sqlx.DB
	recordsTable     string
	predictionsTable string
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn, recordsTable, predictionsTable string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return New(db, recordsTable, predictionsTable), nil
}

// New wraps an existing pool.
func New(db *sqlx.DB, recordsTable, predictionsTable string) *Store {
	return &Store{db: db, recordsTable: recordsTable, predictionsTable: predictionsTable}
}

// Schema returns the DDL for the configured table names.
func (s *Store) Schema() string {
	return strings.NewReplacer(
		"{{records}}", pq.QuoteIdentifier(s.recordsTable),
		"{{predictions}}", pq.QuoteIdentifier(s.predictionsTable),
		"{{predictions_ts_idx}}", pq.QuoteIdentifier(s.predictionsTable+"_timestamp_idx"),
	).Replace(schemaTemplate)
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.Schema()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// maxRowsPerStatement keeps a multi-row insert under the 65535 bind
// parameter limit of the PostgreSQL protocol.
var maxRowsPerStatement = 65535 / len(recordColumns)

// LoadBatch upserts records keyed by district and timestamp. Batches larger
// than one statement allows are split and written in a single transaction.
func (s *Store) LoadBatch(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	query := s.insertRecordsQuery()
	for _, chunk := range chunkRecords(records, maxRowsPerStatement) {
		if _, err := tx.NamedExecContext(ctx, query, chunk); err != nil {
			return fmt.Errorf("insert %d records: %w", len(chunk), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %d records: %w", len(records), err)
	}
	return nil
}

func chunkRecords(records []domain.Record, size int) [][]domain.Record {
	var out [][]domain.Record
	for len(records) > size {
		out = append(out, records[:size:size])
		records = records[size:]
	}
	if len(records) > 0 {
		out = append(out, records)
	}
	return out
}

func (s *Store) insertRecordsQuery() string {
	named := make([]string, len(recordColumns))
	var updates []string
	for i, c := range recordColumns {
		named[i] = ":" + c
		if c != "timestamp" && c != "district" {
			updates = append(updates, c+" = EXCLUDED."+c)
		}
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (district, timestamp) DO UPDATE SET %s",
		pq.QuoteIdentifier(s.recordsTable),
		strings.Join(recordColumns, ", "),
		strings.Join(named, ", "),
		strings.Join(updates, ", "),
	)
}

// RecordPrediction inserts one served prediction.
func (s *Store) RecordPrediction(ctx context.Context, p domain.Prediction) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, timestamp, district,
			temperature, humidity, wind_speed, load,
			tree_probability, recurrent_probability, risk, level,
			decision, threshold, models_used
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)`, pq.QuoteIdentifier(s.predictionsTable))

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Timestamp, p.District,
		p.Temperature, p.Humidity, p.WindSpeed, p.Load,
		p.TreeProbability, p.RecurrentProbability, p.Risk, string(p.Level),
		p.Decision, p.Threshold, pq.Array(p.ModelsUsed),
	)
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, err)
	}
	return nil
}

type predictionRow struct {
	domain.Prediction
	Models pq.StringArray `db:"models_used"`
}

// RecentPredictions returns up to limit stored predictions, newest first.
func (s *Store) RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error) {
	query := fmt.Sprintf(`
		SELECT id, timestamp, district,
			temperature, humidity, wind_speed, load,
			tree_probability, recurrent_probability, risk, level,
			decision, threshold, models_used
		FROM %s
		ORDER BY timestamp DESC
		LIMIT $1`, pq.QuoteIdentifier(s.predictionsTable))

	var rows []predictionRow
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	out := make([]domain.Prediction, len(rows))
	for i, r := range rows {
		out[i] = r.Prediction
		out[i].ModelsUsed = []string(r.Models)
		out[i].Timestamp = r.Timestamp.UTC()
	}
	return out, nil
}

// Count returns the number of rows in the records table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	query := "SELECT count(*) FROM " + pq.QuoteIdentifier(s.recordsTable)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
