package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"

	"github.com/couchcryptid/grid-outage-risk/internal/dataset"
	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/serving"
)

const maxBodyBytes = 1 << 16

// PredictionService scores requests and keeps the prediction log.
type PredictionService interface {
	Predict(ctx context.Context, req serving.Request) (domain.Prediction, error)
	RiskMap(ctx context.Context, req serving.Request) ([]serving.DistrictRisk, error)
	Recent(limit int) []domain.Prediction
	Stored(ctx context.Context, limit int) ([]domain.Prediction, error)
	Capabilities() serving.Capabilities
	Districts() *domain.DistrictTable
}

// RecordSource provides the synthetic table for statistics.
type RecordSource interface {
	Records(ctx context.Context) ([]domain.Record, error)
}

// API holds the /api/v1 handlers.
type API struct {
	svc    PredictionService
	data   RecordSource
	logger *slog.Logger
}

// NewAPI creates the API handlers. data may be nil, in which case the
// statistics endpoints answer 503.
func NewAPI(svc PredictionService, data RecordSource, logger *slog.Logger) *API {
	return &API{svc: svc, data: data, logger: logger}
}

func (a *API) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/predict", a.handlePredict)
	mux.HandleFunc("POST /api/v1/risk-map", a.handleRiskMap)
	mux.HandleFunc("GET /api/v1/stats", a.handleStats)
	mux.HandleFunc("GET /api/v1/history", a.handleHistory)
	mux.HandleFunc("GET /api/v1/predictions", a.handlePredictions)
	mux.HandleFunc("GET /api/v1/districts", a.handleDistricts)
	mux.HandleFunc("GET /api/v1/models", a.handleModels)
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}
	if req.District == "" {
		writeError(w, http.StatusBadRequest, "district is required")
		return
	}

	pred, err := a.svc.Predict(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, pred)
}

func (a *API) handleRiskMap(w http.ResponseWriter, r *http.Request) {
	req, ok := a.decodeRequest(w, r)
	if !ok {
		return
	}

	risks, err := a.svc.RiskMap(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"districts": risks})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	records, ok := a.records(w, r)
	if !ok {
		return
	}
	district := r.URL.Query().Get("district")
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"district": district,
		"stats":    dataset.Stats(records, district),
	})
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	records, ok := a.records(w, r)
	if !ok {
		return
	}
	district := r.URL.Query().Get("district")
	trend := dataset.DailyTrend(records, district)

	if s := r.URL.Query().Get("days"); s != "" {
		days, err := strconv.Atoi(s)
		if err != nil || days < 1 {
			writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		if len(trend) > days {
			trend = trend[len(trend)-days:]
		}
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"district": district,
		"days":     trend,
	})
}

func (a *API) handlePredictions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var preds []domain.Prediction
	switch source := r.URL.Query().Get("source"); source {
	case "", "log":
		preds = a.svc.Recent(limit)
	case "backend":
		var err error
		preds, err = a.svc.Stored(r.Context(), limit)
		if errors.Is(err, serving.ErrNoHistory) {
			writeError(w, http.StatusServiceUnavailable, "no sink stores predictions: set SINK to rest or postgres")
			return
		}
		if err != nil {
			a.logger.Error("read stored predictions", "error", err)
			writeError(w, http.StatusBadGateway, "failed to read stored predictions")
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q: must be log or backend", source))
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="predictions.csv"`)
		if err := serving.WriteCSV(w, preds); err != nil {
			a.logger.Error("write predictions csv", "error", err)
		}
		return
	}
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"predictions": preds})
}

func (a *API) handleDistricts(w http.ResponseWriter, _ *http.Request) {
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{"districts": a.svc.Districts().Profiles()})
}

func (a *API) handleModels(w http.ResponseWriter, _ *http.Request) {
	caps := a.svc.Capabilities()
	sharedobs.WriteJSON(w, http.StatusOK, map[string]any{
		"models": caps,
		"ready":  caps.Ready(),
	})
}

func (a *API) decodeRequest(w http.ResponseWriter, r *http.Request) (serving.Request, bool) {
	var req serving.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return serving.Request{}, false
	}
	return req, true
}

func (a *API) records(w http.ResponseWriter, r *http.Request) ([]domain.Record, bool) {
	if a.data == nil {
		writeError(w, http.StatusServiceUnavailable, "no dataset configured")
		return nil, false
	}
	records, err := a.data.Records(r.Context())
	if errors.Is(err, dataset.ErrNotFound) {
		writeError(w, http.StatusServiceUnavailable, "dataset not found: run the generate command first")
		return nil, false
	}
	if err != nil {
		a.logger.Error("load dataset", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load dataset")
		return nil, false
	}
	return records, true
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, serving.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "no model available: run the train command first")
		return
	}
	a.logger.Error("prediction failed", "error", err)
	writeError(w, http.StatusInternalServerError, "prediction failed")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, map[string]string{"error": msg})
}
