package serving

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
	"github.com/couchcryptid/grid-outage-risk/internal/observability"
)

// --- fakes ---

type fakeClassifier struct {
	mu    sync.Mutex
	proba float64
	err   error
	calls int
	last  []float64
}

func (f *fakeClassifier) PredictProba(x []float64) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = append([]float64(nil), x...)
	return f.proba, f.err
}

type fakeRecorder struct {
	mu    sync.Mutex
	saved []domain.Prediction
	err   error
}

func (r *fakeRecorder) RecordPrediction(_ context.Context, p domain.Prediction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.saved = append(r.saved, p)
	return nil
}

func identityScaler() *model.Scaler {
	s := &model.Scaler{Mean: make([]float64, model.NumFeatures), Scale: make([]float64, model.NumFeatures)}
	for i := range s.Scale {
		s.Scale[i] = 1
	}
	return s
}

func newTestPredictor(tree, recurrent model.Classifier) *Predictor {
	p := &Predictor{scaler: identityScaler(), districts: domain.MustDefaultTable()}
	p.tree = tree
	p.recurrent = recurrent
	return p
}

var noon = domain.NewTimeFeatures(time.Date(2024, time.May, 6, 12, 0, 0, 0, time.UTC))

// --- Predictor ---

func TestPredictor_BothModels(t *testing.T) {
	p := newTestPredictor(&fakeClassifier{proba: 0.6}, &fakeClassifier{proba: 0.4})

	res, err := p.Predict(Input{District: "Pikine", Temperature: 30, Humidity: 60, WindSpeed: 10, Load: 800, Time: noon})
	require.NoError(t, err)
	assert.InDelta(t, 60.0, res.TreeProbability, 1e-9)
	assert.InDelta(t, 40.0, res.RecurrentProbability, 1e-9)
	assert.InDelta(t, 1.20, res.Adjustment, 1e-9)
	assert.InDelta(t, 60.0, res.Risk, 1e-9)
	assert.Equal(t, domain.RiskMedium, res.Level)
	assert.Equal(t, []string{ModelTree, ModelRecurrent}, res.ModelsUsed)
}

func TestPredictor_Fallbacks(t *testing.T) {
	in := Input{District: "Yoff", Temperature: 30, Humidity: 60, WindSpeed: 10, Load: 800, Time: noon}

	t.Run("tree only", func(t *testing.T) {
		res, err := newTestPredictor(&fakeClassifier{proba: 0.3}, nil).Predict(in)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, res.RecurrentProbability, 1e-9)
		assert.InDelta(t, 30.0, res.Risk, 1e-9)
		assert.Equal(t, []string{ModelTree}, res.ModelsUsed)
		assert.Equal(t, domain.RiskLow, res.Level)
	})

	t.Run("recurrent only", func(t *testing.T) {
		res, err := newTestPredictor(nil, &fakeClassifier{proba: 0.8}).Predict(in)
		require.NoError(t, err)
		assert.InDelta(t, 80.0, res.TreeProbability, 1e-9)
		assert.Equal(t, []string{ModelRecurrent}, res.ModelsUsed)
		assert.Equal(t, domain.RiskHigh, res.Level)
	})

	t.Run("failing tree falls back", func(t *testing.T) {
		p := newTestPredictor(&fakeClassifier{err: errors.New("boom")}, &fakeClassifier{proba: 0.5})
		res, err := p.Predict(in)
		require.NoError(t, err)
		assert.Equal(t, []string{ModelRecurrent}, res.ModelsUsed)
		assert.InDelta(t, 50.0, res.Risk, 1e-9)
	})

	t.Run("both failing", func(t *testing.T) {
		p := newTestPredictor(&fakeClassifier{err: errors.New("a")}, &fakeClassifier{err: errors.New("b")})
		_, err := p.Predict(in)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("no models", func(t *testing.T) {
		p := newTestPredictor(nil, nil)
		assert.False(t, p.Capabilities().Ready())
		_, err := p.Predict(in)
		assert.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("no scaler", func(t *testing.T) {
		p := newTestPredictor(&fakeClassifier{proba: 0.5}, nil)
		p.scaler = nil
		_, err := p.Predict(in)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestPredictor_ClipsRiskAndInputs(t *testing.T) {
	tree := &fakeClassifier{proba: 0.95}
	p := newTestPredictor(tree, &fakeClassifier{proba: 0.95})

	res, err := p.Predict(Input{District: "Guediawaye", Temperature: 60, Humidity: 5, WindSpeed: -3, Load: 5000, Time: noon})
	require.NoError(t, err)
	assert.InDelta(t, 100.0, res.Risk, 1e-9)
	assert.Equal(t, domain.RiskHigh, res.Level)

	require.Len(t, tree.last, model.NumFeatures)
	assert.InDelta(t, 42.0, tree.last[0], 1e-9)
	assert.InDelta(t, 30.0, tree.last[1], 1e-9)
	assert.InDelta(t, 0.0, tree.last[2], 1e-9)
	assert.InDelta(t, 1500.0, tree.last[3], 1e-9)
	assert.InDelta(t, float64(domain.CalendarSpring), tree.last[7], 1e-9)
}

func TestPredictor_UnknownDistrictUnadjusted(t *testing.T) {
	p := newTestPredictor(&fakeClassifier{proba: 0.5}, nil)
	res, err := p.Predict(Input{District: "Atlantis", Time: noon})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Adjustment, 1e-9)
	assert.InDelta(t, 50.0, res.Risk, 1e-9)
}

func TestNewPredictor_NilArtifacts(t *testing.T) {
	p := NewPredictor(model.Artifacts{Scaler: identityScaler()}, domain.MustDefaultTable())
	caps := p.Capabilities()
	assert.True(t, caps.Scaler)
	assert.False(t, caps.Tree, "nil *GBDT must not count as loaded")
	assert.False(t, caps.Recurrent)
}

// --- cache ---

func TestLRUCache_Eviction(t *testing.T) {
	c := NewMemoryCache(2)
	ctx := context.Background()

	c.Put(ctx, "a", Result{Risk: 1})
	c.Put(ctx, "b", Result{Risk: 2})
	_, ok := c.Get(ctx, "a") // a becomes most recent
	require.True(t, ok)
	c.Put(ctx, "c", Result{Risk: 3})

	_, ok = c.Get(ctx, "b")
	assert.False(t, ok, "b should be evicted")
	r, ok := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.InDelta(t, 1.0, r.Risk, 1e-9)
	assert.Equal(t, 2, c.Len())

	c.Put(ctx, "a", Result{Risk: 9})
	r, _ = c.Get(ctx, "a")
	assert.InDelta(t, 9.0, r.Risk, 1e-9)
	assert.Equal(t, 2, c.Len())
}

func TestLRUCache_CapacityFloor(t *testing.T) {
	c := newLRUCache[int](0)
	c.put("a", 1)
	c.put("b", 2)

	assert.Equal(t, 1, c.size())
	_, ok := c.get("a")
	assert.False(t, ok)
	v, ok := c.get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCacheKey(t *testing.T) {
	a := Input{District: "Yoff", Temperature: 50, Humidity: 60, Time: noon}
	b := Input{District: "Yoff", Temperature: 42, Humidity: 60, Time: noon}
	assert.Equal(t, CacheKey(a), CacheKey(b))

	b.District = "Fann"
	assert.NotEqual(t, CacheKey(a), CacheKey(b))
}

// --- history ---

func TestPredictionLog_Wraps(t *testing.T) {
	l := NewPredictionLog(3)
	assert.Empty(t, l.Recent(0))
	for i := 1; i <= 5; i++ {
		l.Add(domain.Prediction{ID: string(rune('0' + i))})
	}
	ids := func(ps []domain.Prediction) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.ID)
		}
		return out
	}
	assert.Equal(t, []string{"3", "4", "5"}, ids(l.Recent(0)))
	assert.Equal(t, []string{"4", "5"}, ids(l.Recent(2)))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []domain.Prediction{{
		ID:              "abc",
		Timestamp:       time.Date(2024, time.May, 6, 12, 0, 0, 0, time.UTC),
		District:        "Yoff",
		Temperature:     30,
		TreeProbability: 12.346,
		Risk:            12.346,
		Level:           domain.RiskLow,
		Threshold:       50,
		ModelsUsed:      []string{ModelTree, ModelRecurrent},
	}})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "id,timestamp,district"))
	assert.Equal(t, "abc,2024-05-06T12:00:00Z,Yoff,30.00,0.00,0.00,0.00,12.35,0.00,12.35,low,0,50.00,gbdt+lstm", lines[1])
}

// --- Service ---

func newTestService(t *testing.T, tree, rec model.Classifier, recorder PredictionRecorder) (*Service, *clockwork.FakeClock, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, time.July, 15, 19, 0, 0, 0, time.UTC))
	metrics := observability.NewMetricsForTesting()
	svc := NewService(newTestPredictor(tree, rec), domain.MustDefaultTable(), Options{
		Clock:    clock,
		Metrics:  metrics,
		Recorder: recorder,
	})
	return svc, clock, metrics
}

func TestService_Predict(t *testing.T) {
	tree := &fakeClassifier{proba: 0.5}
	recorder := &fakeRecorder{}
	svc, clock, metrics := newTestService(t, tree, &fakeClassifier{proba: 0.7}, recorder)
	ctx := context.Background()

	pred, err := svc.Predict(ctx, Request{District: "Yoff", Temperature: 33, Humidity: 55, WindSpeed: 14, Load: 950})
	require.NoError(t, err)
	assert.NotEmpty(t, pred.ID)
	assert.Equal(t, clock.Now(), pred.Timestamp)
	assert.InDelta(t, 60.0, pred.Risk, 1e-9)
	assert.Equal(t, 1, pred.Decision)
	assert.InDelta(t, DecisionThreshold, pred.Threshold, 1e-9)
	assert.Equal(t, domain.RiskMedium, pred.Level)

	// Evening peak flag and four-band summer season reach the model.
	assert.InDelta(t, 1.0, tree.last[8], 1e-9)
	assert.InDelta(t, float64(domain.CalendarSummer), tree.last[7], 1e-9)

	again, err := svc.Predict(ctx, Request{District: "Yoff", Temperature: 33, Humidity: 55, WindSpeed: 14, Load: 950})
	require.NoError(t, err)
	assert.NotEqual(t, pred.ID, again.ID)
	assert.Equal(t, 1, tree.calls, "second request served from cache")
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.PredictionCache.WithLabelValues("hit")), 1e-9)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.Predictions.WithLabelValues("success")), 1e-9)

	assert.Len(t, recorder.saved, 2)
	assert.Len(t, svc.Recent(0), 2)
}

func TestService_PredictExplicitTimestamp(t *testing.T) {
	tree := &fakeClassifier{proba: 0.2}
	svc, _, _ := newTestService(t, tree, nil, nil)
	ts := time.Date(2024, time.January, 3, 8, 0, 0, 0, time.UTC)

	pred, err := svc.Predict(context.Background(), Request{District: "Fann", Timestamp: ts})
	require.NoError(t, err)
	assert.Equal(t, ts, pred.Timestamp)
	assert.InDelta(t, 0.0, tree.last[8], 1e-9, "08:00 is not an evening peak")
	assert.InDelta(t, 2.0, tree.last[5], 1e-9, "Wednesday")
	assert.Equal(t, []string{ModelTree}, pred.ModelsUsed)
}

func TestService_RecorderFailureIsNotFatal(t *testing.T) {
	recorder := &fakeRecorder{err: errors.New("backend down")}
	svc, _, metrics := newTestService(t, &fakeClassifier{proba: 0.1}, nil, recorder)

	pred, err := svc.Predict(context.Background(), Request{District: "Yoff"})
	require.NoError(t, err)
	assert.Equal(t, 0, pred.Decision)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.RecorderErrors), 1e-9)
	assert.Len(t, svc.Recent(0), 1)
}

func TestService_Unavailable(t *testing.T) {
	svc, _, metrics := newTestService(t, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.Predict(ctx, Request{District: "Yoff"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, svc.CheckReadiness(ctx), ErrUnavailable)
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.Predictions.WithLabelValues("unavailable")), 1e-9)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.ModelAvailable.WithLabelValues(ModelTree)), 1e-9)
	assert.Empty(t, svc.Recent(0))

	_, err = svc.RiskMap(ctx, Request{})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestService_RiskMap(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeClassifier{proba: 0.5}, &fakeClassifier{proba: 0.5}, nil)

	risks, err := svc.RiskMap(context.Background(), Request{Temperature: 35, Humidity: 50, WindSpeed: 10, Load: 900})
	require.NoError(t, err)
	require.Len(t, risks, 8)
	assert.Equal(t, "Pikine", risks[0].District)
	assert.InDelta(t, 60.0, risks[0].Risk, 1e-9)
	assert.Equal(t, "Dakar-Plateau", risks[len(risks)-1].District)
	for i := 1; i < len(risks); i++ {
		assert.GreaterOrEqual(t, risks[i-1].Risk, risks[i].Risk)
	}
	assert.NotZero(t, risks[0].Lat)
	assert.Empty(t, svc.Recent(0), "map results are not logged")
	require.NoError(t, svc.CheckReadiness(context.Background()))
}

type memArtifacts map[string][]byte

func (s memArtifacts) Put(_ context.Context, name string, data []byte) error {
	s[name] = data
	return nil
}

func (s memArtifacts) Get(_ context.Context, name string) ([]byte, error) {
	data, ok := s[name]
	if !ok {
		return nil, model.ErrArtifactNotFound
	}
	return data, nil
}

func TestPredictor_MalformedArtifactsAreUnavailable(t *testing.T) {
	in := Input{District: "Yoff", Temperature: 30, Humidity: 60, WindSpeed: 10, Load: 800, Time: noon}

	tests := []struct {
		name string
		arts model.Artifacts
	}{
		{
			name: "empty tree",
			arts: model.Artifacts{
				Scaler: identityScaler(),
				Tree:   &model.GBDT{NumFeatures: model.NumFeatures, Trees: []model.Tree{{}}},
			},
		},
		{
			name: "short scale",
			arts: model.Artifacts{
				Scaler: &model.Scaler{Mean: make([]float64, model.NumFeatures), Scale: []float64{1}},
				Tree:   &model.GBDT{NumFeatures: model.NumFeatures},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := memArtifacts{}
			require.NoError(t, model.SaveArtifacts(ctx, store, tt.arts, time.Now()))

			loaded, err := model.LoadArtifacts(ctx, store)
			assert.ErrorIs(t, err, model.ErrMalformedArtifact)

			p := NewPredictor(loaded, domain.MustDefaultTable())
			assert.False(t, p.Capabilities().Ready())
			assert.NotPanics(t, func() {
				_, err = p.Predict(in)
			})
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestService_DefaultOptions(t *testing.T) {
	svc := NewService(newTestPredictor(&fakeClassifier{proba: 0.4}, nil), domain.MustDefaultTable(), Options{})

	pred, err := svc.Predict(context.Background(), Request{District: "Yoff"})
	require.NoError(t, err)
	assert.False(t, pred.Timestamp.IsZero())
	assert.Len(t, svc.Recent(0), 1)
	assert.NoError(t, svc.CheckReadiness(context.Background()))
}

type fakeHistory struct {
	rows      []domain.Prediction
	err       error
	lastLimit int
}

func (h *fakeHistory) RecentPredictions(_ context.Context, limit int) ([]domain.Prediction, error) {
	h.lastLimit = limit
	return append([]domain.Prediction(nil), h.rows...), h.err
}

func TestService_Stored(t *testing.T) {
	ctx := context.Background()

	svc, _, _ := newTestService(t, &fakeClassifier{proba: 0.5}, nil, nil)
	_, err := svc.Stored(ctx, 10)
	assert.ErrorIs(t, err, ErrNoHistory)

	history := &fakeHistory{rows: []domain.Prediction{{ID: "new"}, {ID: "old"}}}
	svc = NewService(newTestPredictor(&fakeClassifier{proba: 0.5}, nil), domain.MustDefaultTable(), Options{History: history})

	got, err := svc.Stored(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, maxStoredPredictions, history.lastLimit)
	require.Len(t, got, 2)
	assert.Equal(t, "old", got[0].ID)
	assert.Equal(t, "new", got[1].ID)

	_, err = svc.Stored(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, history.lastLimit)

	history.err = errors.New("timeout")
	_, err = svc.Stored(ctx, 5)
	assert.ErrorContains(t, err, "read prediction history")
}
