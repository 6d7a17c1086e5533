package serving

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/observability"
)

// PredictionRecorder persists served predictions.
type PredictionRecorder interface {
	RecordPrediction(ctx context.Context, p domain.Prediction) error
}

// PredictionHistory reads recorded predictions back, newest first.
type PredictionHistory interface {
	RecentPredictions(ctx context.Context, limit int) ([]domain.Prediction, error)
}

// ErrNoHistory means no backend stores predictions.
var ErrNoHistory = errors.New("no prediction history backend configured")

// maxStoredPredictions bounds a history read with no explicit limit.
const maxStoredPredictions = 1000

// Request is a prediction request. A zero Timestamp means now.
type Request struct {
	District    string    `json:"district"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"wind_speed"`
	Load        float64   `json:"load"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

// DistrictRisk is one entry of the risk map.
type DistrictRisk struct {
	District string           `json:"district"`
	Lat      float64          `json:"lat"`
	Lon      float64          `json:"lon"`
	Risk     float64          `json:"risk"`
	Level    domain.RiskLevel `json:"level"`
}

// Options are the optional collaborators of a Service.
type Options struct {
	Cache    ResultCache
	Log      *PredictionLog
	Recorder PredictionRecorder
	History  PredictionHistory
	Clock    clockwork.Clock
	Metrics  *observability.Metrics
	Logger   *slog.Logger
}

// Service answers prediction requests. Apart from the explicit result cache
// and prediction log it holds no per-request state.
type Service struct {
	predictor *Predictor
	districts *domain.DistrictTable
	cache     ResultCache
	log       *PredictionLog
	recorder  PredictionRecorder
	history   PredictionHistory
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewService builds a Service, defaulting unset options to a 1000-entry
// memory cache, a 1000-entry log, the real clock, detached metrics and a
// discarding logger.
func NewService(p *Predictor, districts *domain.DistrictTable, opts Options) *Service {
	s := &Service{
		predictor: p,
		districts: districts,
		cache:     opts.Cache,
		log:       opts.Log,
		recorder:  opts.Recorder,
		history:   opts.History,
		clock:     opts.Clock,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}
	if s.cache == nil {
		s.cache = NewMemoryCache(1000)
	}
	if s.log == nil {
		s.log = NewPredictionLog(1000)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.metrics == nil {
		s.metrics = observability.NewDetachedMetrics()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	caps := p.Capabilities()
	s.metrics.ModelAvailable.WithLabelValues("scaler").Set(boolGauge(caps.Scaler))
	s.metrics.ModelAvailable.WithLabelValues(ModelTree).Set(boolGauge(caps.Tree))
	s.metrics.ModelAvailable.WithLabelValues(ModelRecurrent).Set(boolGauge(caps.Recurrent))
	return s
}

// Predict scores one request, records it in the prediction log and forwards
// it to the recorder. A recorder failure is logged and does not fail the
// request.
func (s *Service) Predict(ctx context.Context, req Request) (domain.Prediction, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	in := Input{
		District:    req.District,
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		WindSpeed:   req.WindSpeed,
		Load:        req.Load,
		Time:        domain.NewTimeFeatures(ts),
	}

	res, err := s.score(ctx, in)
	if err != nil {
		return domain.Prediction{}, err
	}

	clipped := in.Clipped()
	decision := 0
	if res.Risk >= DecisionThreshold {
		decision = 1
	}
	pred := domain.Prediction{
		ID:                   uuid.NewString(),
		Timestamp:            ts,
		District:             in.District,
		Temperature:          clipped.Temperature,
		Humidity:             clipped.Humidity,
		WindSpeed:            clipped.WindSpeed,
		Load:                 clipped.Load,
		TreeProbability:      res.TreeProbability,
		RecurrentProbability: res.RecurrentProbability,
		Risk:                 res.Risk,
		Level:                res.Level,
		Decision:             decision,
		Threshold:            DecisionThreshold,
		ModelsUsed:           res.ModelsUsed,
	}
	s.log.Add(pred)
	s.metrics.PredictedRisk.Observe(pred.Risk)

	if s.recorder != nil {
		if err := s.recorder.RecordPrediction(ctx, pred); err != nil {
			s.metrics.RecorderErrors.Inc()
			s.logger.Warn("record prediction failed", "id", pred.ID, "district", pred.District, "error", err)
		}
	}
	return pred, nil
}

// RiskMap scores the same weather for every district, highest risk first.
// Map results are not added to the prediction log.
func (s *Service) RiskMap(ctx context.Context, req Request) ([]DistrictRisk, error) {
	ts := req.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	tf := domain.NewTimeFeatures(ts)

	profiles := s.districts.Profiles()
	out := make([]DistrictRisk, 0, len(profiles))
	for _, d := range profiles {
		res, err := s.score(ctx, Input{
			District:    d.Name,
			Temperature: req.Temperature,
			Humidity:    req.Humidity,
			WindSpeed:   req.WindSpeed,
			Load:        req.Load,
			Time:        tf,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, DistrictRisk{District: d.Name, Lat: d.Lat, Lon: d.Lon, Risk: res.Risk, Level: res.Level})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Risk > out[j].Risk })
	return out, nil
}

func (s *Service) score(ctx context.Context, in Input) (Result, error) {
	start := s.clock.Now()
	defer func() { s.metrics.PredictionLatency.Observe(s.clock.Since(start).Seconds()) }()

	key := CacheKey(in)
	if res, ok := s.cache.Get(ctx, key); ok {
		s.metrics.PredictionCache.WithLabelValues("hit").Inc()
		s.metrics.Predictions.WithLabelValues("success").Inc()
		return res, nil
	}
	s.metrics.PredictionCache.WithLabelValues("miss").Inc()

	res, err := s.predictor.Predict(in)
	switch {
	case errors.Is(err, ErrUnavailable):
		s.metrics.Predictions.WithLabelValues("unavailable").Inc()
		return Result{}, err
	case err != nil:
		s.metrics.Predictions.WithLabelValues("error").Inc()
		return Result{}, err
	}
	s.metrics.Predictions.WithLabelValues("success").Inc()
	s.cache.Put(ctx, key, res)
	return res, nil
}

// Recent returns up to limit logged predictions, oldest first.
func (s *Service) Recent(limit int) []domain.Prediction {
	return s.log.Recent(limit)
}

// Stored reads up to limit predictions from the history backend, oldest
// first, so it lines up with Recent. A non-positive limit reads at most
// 1000.
func (s *Service) Stored(ctx context.Context, limit int) ([]domain.Prediction, error) {
	if s.history == nil {
		return nil, ErrNoHistory
	}
	if limit <= 0 {
		limit = maxStoredPredictions
	}
	preds, err := s.history.RecentPredictions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read prediction history: %w", err)
	}
	slices.Reverse(preds)
	return preds, nil
}

// Capabilities reports the loaded artifacts.
func (s *Service) Capabilities() Capabilities {
	return s.predictor.Capabilities()
}

// Districts returns the district table.
func (s *Service) Districts() *domain.DistrictTable {
	return s.districts
}

// CheckReadiness fails while no prediction can be produced.
func (s *Service) CheckReadiness(_ context.Context) error {
	if !s.predictor.Capabilities().Ready() {
		return ErrUnavailable
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
