package rest

import (
	"context"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// RecordSink uploads synthetic records to a table.
type RecordSink struct {
	client *Client
	table  string
}

// NewRecordSink creates a sink writing to table.
func NewRecordSink(c *Client, table string) *RecordSink {
	return &RecordSink{client: c, table: table}
}

func (s *RecordSink) Name() string { return "rest" }

func (s *RecordSink) LoadBatch(ctx context.Context, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	return s.client.Insert(ctx, s.table, records)
}

// PredictionRecorder stores each served prediction as one row and reads
// them back.
type PredictionRecorder struct {
	client *Client
	table  string
}

// NewPredictionRecorder creates a recorder writing to table.
func NewPredictionRecorder(c *Client, table string) *PredictionRecorder {
	return &PredictionRecorder{client: c, table: table}
}

func (r *PredictionRecorder) RecordPrediction(ctx context.Context, p domain.Prediction) error {
	return r.client.Insert(ctx, r.table, p)
}

// RecentPredictions reads up to limit stored predictions, newest first.
func (r *PredictionRecorder) RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error) {
	return r.client.RecentPredictions(ctx, r.table, limit)
}
