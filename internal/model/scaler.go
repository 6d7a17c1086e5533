package model

import (
	"errors"
	"fmt"
	"math"
)

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitScaler computes per-column mean and population standard deviation. A
// constant column gets scale 1.
func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, errors.New("fit scaler: no samples")
	}
	width := len(x[0])
	s := &Scaler{Mean: make([]float64, width), Scale: make([]float64, width)}

	for _, row := range x {
		if err := checkWidth(row, width); err != nil {
			return nil, err
		}
		for j, v := range row {
			s.Mean[j] += v
		}
	}
	n := float64(len(x))
	for j := range s.Mean {
		s.Mean[j] /= n
	}

	for _, row := range x {
		for j, v := range row {
			d := v - s.Mean[j]
			s.Scale[j] += d * d
		}
	}
	for j := range s.Scale {
		std := math.Sqrt(s.Scale[j] / n)
		if std == 0 {
			std = 1
		}
		s.Scale[j] = std
	}
	return s, nil
}

// Transform returns a scaled copy of x.
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if err := checkWidth(x, len(s.Mean)); err != nil {
		return nil, err
	}
	if len(s.Scale) != len(s.Mean) {
		return nil, fmt.Errorf("%w: %d scales for %d means", ErrMalformedArtifact, len(s.Scale), len(s.Mean))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		out[j] = (v - s.Mean[j]) / s.Scale[j]
	}
	return out, nil
}

// TransformAll scales every row of x.
func (s *Scaler) TransformAll(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		t, err := s.Transform(row)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (s *Scaler) checkShape(width int) error {
	if len(s.Mean) != width || len(s.Scale) != width {
		return fmt.Errorf("%w: scaler has %d means and %d scales, want %d",
			ErrMalformedArtifact, len(s.Mean), len(s.Scale), width)
	}
	for j, v := range s.Scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: scaler column %d has scale %v", ErrMalformedArtifact, j, v)
		}
	}
	return nil
}
