package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outage_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for
// upload and serving.
type Metrics struct {
	// Upload metrics.
	UploadBatches       *prometheus.CounterVec // labels: sink, outcome={success,error}
	UploadRows          *prometheus.CounterVec // labels: sink, outcome={success,error}
	UploadBatchDuration *prometheus.HistogramVec
	UploadRunning       prometheus.Gauge

	// Serving metrics.
	Predictions       *prometheus.CounterVec // labels: outcome={success,unavailable,error}
	PredictionCache   *prometheus.CounterVec // labels: result={hit,miss}
	PredictedRisk     prometheus.Histogram
	ModelAvailable    *prometheus.GaugeVec // labels: model={scaler,gbdt,lstm}
	RecorderErrors    prometheus.Counter
	PredictionLatency prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.UploadBatches,
		m.UploadRows,
		m.UploadBatchDuration,
		m.UploadRunning,
		m.Predictions,
		m.PredictionCache,
		m.PredictedRisk,
		m.ModelAvailable,
		m.RecorderErrors,
		m.PredictionLatency,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// NewDetachedMetrics creates Metrics that no registry exports. Components
// built without metrics record into these so their code paths stay
// unconditional.
func NewDetachedMetrics() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UploadBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_batches_total",
			Help:      "Upload batches by sink and outcome.",
		}, []string{"sink", "outcome"}),
		UploadRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_rows_total",
			Help:      "Uploaded rows by sink and outcome.",
		}, []string{"sink", "outcome"}),
		UploadBatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_batch_duration_seconds",
			Help:      "Duration of a single batch insert.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"sink"}),
		UploadRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upload_running",
			Help:      "1 while an upload is in progress.",
		}),
		Predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		PredictionCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_cache_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		PredictedRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "predicted_risk_percent",
			Help:      "Distribution of district-adjusted risk percentages.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		ModelAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "model_available",
			Help:      "1 when the named artifact is loaded, 0 otherwise.",
		}, []string{"model"}),
		RecorderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prediction_recorder_errors_total",
			Help:      "Predictions that could not be recorded to the backend.",
		}),
		PredictionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent scoring one prediction, cache lookups included.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}
