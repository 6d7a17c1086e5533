package serving

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// PredictionLog keeps the most recent predictions in memory.
type PredictionLog struct {
	mu    sync.Mutex
	items []domain.Prediction
	next  int
	full  bool
}

// NewPredictionLog creates a log holding at most capacity predictions.
func NewPredictionLog(capacity int) *PredictionLog {
	if capacity < 1 {
		capacity = 1
	}
	return &PredictionLog{items: make([]domain.Prediction, capacity)}
}

// Add appends p, overwriting the oldest entry once full.
func (l *PredictionLog) Add(p domain.Prediction) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items[l.next] = p
	l.next = (l.next + 1) % len(l.items)
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit predictions, oldest first. A non-positive limit
// returns everything retained.
func (l *PredictionLog) Recent(limit int) []domain.Prediction {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []domain.Prediction
	if l.full {
		all = append(all, l.items[l.next:]...)
	}
	all = append(all, l.items[:l.next]...)

	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

var predictionHeader = []string{
	"id", "timestamp", "district", "temperature", "humidity", "wind_speed", "load",
	"tree_probability", "recurrent_probability", "risk", "level", "decision", "threshold", "models_used",
}

// WriteCSV exports predictions with a header row.
func WriteCSV(w io.Writer, preds []domain.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(predictionHeader); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) }
	for _, p := range preds {
		row := []string{
			p.ID,
			p.Timestamp.Format(time.RFC3339),
			p.District,
			f(p.Temperature), f(p.Humidity), f(p.WindSpeed), f(p.Load),
			f(p.TreeProbability), f(p.RecurrentProbability), f(p.Risk),
			string(p.Level),
			strconv.Itoa(p.Decision),
			f(p.Threshold),
			strings.Join(p.ModelsUsed, "+"),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
