package model

import "fmt"

// Evaluation summarizes a classifier on a labelled set.
type Evaluation struct {
	Samples         int     `json:"samples"`
	Accuracy        float64 `json:"accuracy"` // at a 0.5 threshold
	LogLoss         float64 `json:"log_loss"`
	MeanProbability float64 `json:"mean_probability"`
	PositiveRate    float64 `json:"positive_rate"`
}

// Evaluate scores c on every row of x.
func Evaluate(c Classifier, x [][]float64, y []float64) (Evaluation, error) {
	ev := Evaluation{Samples: len(x)}
	if len(x) == 0 {
		return ev, nil
	}
	correct := 0
	for i, row := range x {
		p, err := c.PredictProba(row)
		if err != nil {
			return ev, fmt.Errorf("evaluate row %d: %w", i, err)
		}
		pred := 0.0
		if p >= 0.5 {
			pred = 1
		}
		if pred == y[i] {
			correct++
		}
		ev.LogLoss += bceLoss(p, y[i])
		ev.MeanProbability += p
		ev.PositiveRate += y[i]
	}
	n := float64(len(x))
	ev.Accuracy = float64(correct) / n
	ev.LogLoss /= n
	ev.MeanProbability /= n
	ev.PositiveRate /= n
	return ev, nil
}
