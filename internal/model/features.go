// Package model trains, evaluates and persists the two outage classifiers
// and the feature scaler they share.
package model

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// FeatureColumns is the model input order.
var FeatureColumns = []string{
	"temperature", "humidity", "wind_speed", "load",
	"hour", "day_of_week", "month", "season", "is_peak_hour",
}

// TargetColumn is the label the classifiers predict.
const TargetColumn = "outage"

// NumFeatures is len(FeatureColumns).
const NumFeatures = 9

// ErrFeatureCount is returned when a vector has the wrong width.
var ErrFeatureCount = errors.New("feature count mismatch")

// Classifier scores one scaled feature vector with an outage probability in
// [0, 1].
type Classifier interface {
	PredictProba(x []float64) (float64, error)
}

// RecordVector builds the unscaled feature vector of a record.
func RecordVector(r domain.Record) []float64 {
	return []float64{
		r.Temperature,
		float64(r.Humidity),
		r.WindSpeed,
		float64(r.Load),
		float64(r.Hour),
		float64(r.DayOfWeek),
		float64(r.Month),
		float64(r.Season),
		float64(r.IsPeakHour),
	}
}

// ServingVector builds the unscaled feature vector of a serving request from
// its weather inputs and time bundle.
func ServingVector(temp, humidity, wind, load float64, tf domain.TimeFeatures) []float64 {
	return []float64{
		temp, humidity, wind, load,
		float64(tf.Hour),
		float64(tf.DayOfWeek),
		float64(tf.Month),
		float64(tf.Season),
		float64(tf.IsPeakHour),
	}
}

// Matrix converts records into a feature matrix and label vector.
func Matrix(records []domain.Record) (x [][]float64, y []float64) {
	x = make([][]float64, len(records))
	y = make([]float64, len(records))
	for i, r := range records {
		x[i] = RecordVector(r)
		y[i] = float64(r.Outage)
	}
	return x, y
}

func checkWidth(x []float64, want int) error {
	if len(x) != want {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(x), want)
	}
	return nil
}
