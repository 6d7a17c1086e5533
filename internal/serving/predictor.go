// Package serving scores outage risk from the trained artifacts and keeps
// the per-request result cache and prediction history.
package serving

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
	"github.com/couchcryptid/grid-outage-risk/internal/model"
)

// Model names reported in ModelsUsed.
const (
	ModelTree      = "gbdt"
	ModelRecurrent = "lstm"
)

// DecisionThreshold is the risk percentage at or above which the binary
// decision is an outage.
const DecisionThreshold = 50.0

// ErrUnavailable means no prediction can be produced: the scaler is missing
// or neither classifier is usable.
var ErrUnavailable = errors.New("prediction unavailable")

// Input is one serving request.
type Input struct {
	District    string              `json:"district"`
	Temperature float64             `json:"temperature"`
	Humidity    float64             `json:"humidity"`
	WindSpeed   float64             `json:"wind_speed"`
	Load        float64             `json:"load"`
	Time        domain.TimeFeatures `json:"time"`
}

// Clipped returns the input with every weather feature bounded to its
// physical range.
func (in Input) Clipped() Input {
	in.Temperature = domain.Clip(in.Temperature, domain.MinTemperature, domain.MaxTemperature)
	in.Humidity = domain.Clip(in.Humidity, domain.MinHumidity, domain.MaxHumidity)
	in.WindSpeed = domain.Clip(in.WindSpeed, domain.MinWindSpeed, domain.MaxWindSpeed)
	in.Load = domain.Clip(in.Load, domain.MinLoad, domain.MaxLoad)
	return in
}

// Result is the scored bundle for one input.
type Result struct {
	TreeProbability      float64          `json:"tree_probability"`      // %
	RecurrentProbability float64          `json:"recurrent_probability"` // %
	Risk                 float64          `json:"risk"`                  // district-adjusted %
	Level                domain.RiskLevel `json:"level"`
	Adjustment           float64          `json:"adjustment"`
	ModelsUsed           []string         `json:"models_used"`
}

// Capabilities reports which artifacts are loaded.
type Capabilities struct {
	Scaler    bool `json:"scaler"`
	Tree      bool `json:"gbdt"`
	Recurrent bool `json:"lstm"`
}

// Ready reports whether predictions can be produced.
func (c Capabilities) Ready() bool {
	return c.Scaler && (c.Tree || c.Recurrent)
}

// Predictor blends the two classifiers. Either classifier may be absent, in
// which case the other one's score stands in for it.
type Predictor struct {
	scaler    *model.Scaler
	tree      model.Classifier
	recurrent model.Classifier
	districts *domain.DistrictTable
}

// NewPredictor wires whatever artifacts were loaded.
func NewPredictor(a model.Artifacts, districts *domain.DistrictTable) *Predictor {
	p := &Predictor{scaler: a.Scaler, districts: districts}
	if a.Tree != nil {
		p.tree = a.Tree
	}
	if a.Recurrent != nil {
		p.recurrent = a.Recurrent
	}
	return p
}

// Capabilities reports the loaded artifacts.
func (p *Predictor) Capabilities() Capabilities {
	return Capabilities{
		Scaler:    p.scaler != nil,
		Tree:      p.tree != nil,
		Recurrent: p.recurrent != nil,
	}
}

// Predict scores in after clipping it to the physical ranges.
func (p *Predictor) Predict(in Input) (Result, error) {
	if !p.Capabilities().Ready() {
		return Result{}, ErrUnavailable
	}
	in = in.Clipped()

	x, err := p.scaler.Transform(model.ServingVector(in.Temperature, in.Humidity, in.WindSpeed, in.Load, in.Time))
	if err != nil {
		return Result{}, fmt.Errorf("scale features: %w", err)
	}

	var res Result
	treeScore, treeOK := score(p.tree, x)
	recScore, recOK := score(p.recurrent, x)
	switch {
	case treeOK && recOK:
		res.ModelsUsed = []string{ModelTree, ModelRecurrent}
	case treeOK:
		recScore = treeScore
		res.ModelsUsed = []string{ModelTree}
	case recOK:
		treeScore = recScore
		res.ModelsUsed = []string{ModelRecurrent}
	default:
		return Result{}, ErrUnavailable
	}

	res.TreeProbability = domain.Clip(treeScore*100, 0, 100)
	res.RecurrentProbability = domain.Clip(recScore*100, 0, 100)
	res.Adjustment = 1
	if p.districts != nil {
		res.Adjustment = p.districts.Adjustment(in.District)
	}
	mean := (res.TreeProbability + res.RecurrentProbability) / 2
	res.Risk = domain.Clip(mean*res.Adjustment, 0, 100)
	res.Level = domain.ClassifyRisk(res.Risk)
	return res, nil
}

func score(c model.Classifier, x []float64) (float64, bool) {
	if c == nil {
		return 0, false
	}
	s, err := c.PredictProba(x)
	if err != nil {
		return 0, false
	}
	return s, true
}
