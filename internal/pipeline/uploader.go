// Package pipeline uploads generated records to a sink in paced batches.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/observability"
)

// Defaults used when an Uploader is built with zero values.
const (
	DefaultBatchSize = 1000
	DefaultPause     = 500 * time.Millisecond
)

// Sink writes a batch of records to a destination.
type Sink interface {
	Name() string
	LoadBatch(ctx context.Context, records []domain.Record) error
}

// Report summarises one upload run.
type Report struct {
	Sink          string        `json:"sink"`
	Batches       int           `json:"batches"`
	FailedBatches int           `json:"failed_batches"`
	SucceededRows int           `json:"succeeded_rows"`
	FailedRows    int           `json:"failed_rows"`
	Duration      time.Duration `json:"duration"`
}

// SuccessRate is the share of rows that were written, in percent.
func (r Report) SuccessRate() float64 {
	total := r.SucceededRows + r.FailedRows
	if total == 0 {
		return 0
	}
	return float64(r.SucceededRows) / float64(total) * 100
}

// Uploader sends records to a sink one batch at a time. A failed batch is
// counted and skipped; it is never retried and never stops the run.
type Uploader struct {
	sink      Sink
	logger    *slog.Logger
	metrics   *observability.Metrics
	clock     clockwork.Clock
	running   atomic.Bool
	batchSize int
	pause     time.Duration
}

// New creates an Uploader. A non-positive batchSize falls back to
// DefaultBatchSize and a negative pause to DefaultPause. A nil clock uses
// the real clock.
func New(sink Sink, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock, batchSize int, pause time.Duration) *Uploader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if pause < 0 {
		pause = DefaultPause
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Uploader{
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		batchSize: batchSize,
		pause:     pause,
	}
}

// CheckReadiness fails while an upload is in progress.
func (u *Uploader) CheckReadiness(_ context.Context) error {
	if u.running.Load() {
		return errors.New("upload in progress")
	}
	return nil
}

// Run uploads records in order. It returns early only when ctx is cancelled,
// in which case the partial report is returned with ctx's error.
func (u *Uploader) Run(ctx context.Context, records []domain.Record) (Report, error) {
	rep := Report{Sink: u.sink.Name()}
	start := u.clock.Now()
	total := (len(records) + u.batchSize - 1) / u.batchSize

	u.running.Store(true)
	u.metrics.UploadRunning.Set(1)
	defer func() {
		u.running.Store(false)
		u.metrics.UploadRunning.Set(0)
	}()

	u.logger.Info("upload started", "sink", rep.Sink, "rows", len(records), "batches", total, "batch_size", u.batchSize)

	for i := 0; i < len(records); i += u.batchSize {
		if i > 0 && !u.wait(ctx) {
			rep.Duration = u.clock.Since(start)
			return rep, ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			rep.Duration = u.clock.Since(start)
			return rep, err
		}

		batch := records[i:min(i+u.batchSize, len(records))]
		rep.Batches++
		u.loadBatch(ctx, rep.Batches, total, batch, &rep)
	}

	rep.Duration = u.clock.Since(start)
	u.logger.Info("upload finished",
		"sink", rep.Sink,
		"succeeded_rows", rep.SucceededRows,
		"failed_rows", rep.FailedRows,
		"failed_batches", rep.FailedBatches,
		"duration", rep.Duration,
	)
	return rep, nil
}

func (u *Uploader) loadBatch(ctx context.Context, n, total int, batch []domain.Record, rep *Report) {
	start := u.clock.Now()
	err := u.sink.LoadBatch(ctx, batch)
	u.metrics.UploadBatchDuration.WithLabelValues(rep.Sink).Observe(u.clock.Since(start).Seconds())

	if err != nil {
		rep.FailedBatches++
		rep.FailedRows += len(batch)
		u.metrics.UploadBatches.WithLabelValues(rep.Sink, "error").Inc()
		u.metrics.UploadRows.WithLabelValues(rep.Sink, "error").Add(float64(len(batch)))
		u.logger.Error("load batch failed", "batch", n, "of", total, "rows", len(batch), "error", err)
		return
	}

	rep.SucceededRows += len(batch)
	u.metrics.UploadBatches.WithLabelValues(rep.Sink, "success").Inc()
	u.metrics.UploadRows.WithLabelValues(rep.Sink, "success").Add(float64(len(batch)))
	u.logger.Debug("batch loaded", "batch", n, "of", total, "rows", len(batch))
}

// wait pauses between batches. Returns false if ctx is cancelled first.
func (u *Uploader) wait(ctx context.Context) bool {
	if u.pause <= 0 {
		return true
	}

	timer := u.clock.NewTimer(u.pause)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}
