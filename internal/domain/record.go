package domain

import "time"

// Record is one synthetic observation for a district-hour.
type Record struct {
	Timestamp   time.Time `json:"timestamp" db:"timestamp"`
	District    string    `json:"district" db:"district"`
	Temperature float64   `json:"temperature" db:"temperature"` // °C, 2 decimals
	Humidity    int       `json:"humidity" db:"humidity"`       // %
	WindSpeed   float64   `json:"wind_speed" db:"wind_speed"`   // km/h, 2 decimals
	Load        int       `json:"load" db:"load"`               // MW
	Hour        int       `json:"hour" db:"hour"`
	DayOfWeek   int       `json:"day_of_week" db:"day_of_week"`
	Month       int       `json:"month" db:"month"`
	Season      Season    `json:"season" db:"season"`
	IsPeakHour  int       `json:"is_peak_hour" db:"is_peak_hour"`
	Outage      int       `json:"outage" db:"outage"`

	// Probability is the outage probability the label was drawn against.
	// It is not part of the exported table.
	Probability float64 `json:"-" db:"-"`
}

// Physical ranges every generated or served feature is clipped to.
const (
	MinTemperature = 18.0
	MaxTemperature = 42.0
	MinHumidity    = 30.0
	MaxHumidity    = 95.0
	MinWindSpeed   = 0.0
	MaxWindSpeed   = 50.0
	MinLoad        = 200.0
	MaxLoad        = 1500.0
)

// RiskLevel is the qualitative band of a risk percentage.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Risk band thresholds in percent.
const (
	MediumRiskThreshold = 40.0
	HighRiskThreshold   = 70.0
)

// ClassifyRisk buckets a 0–100 risk percentage: low < 40 ≤ medium < 70 ≤ high.
func ClassifyRisk(pct float64) RiskLevel {
	switch {
	case pct < MediumRiskThreshold:
		return RiskLow
	case pct < HighRiskThreshold:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Prediction is a served outage-risk estimate for one district.
type Prediction struct {
	ID                   string    `json:"id" db:"id"`
	Timestamp            time.Time `json:"timestamp" db:"timestamp"`
	District             string    `json:"district" db:"district"`
	Temperature          float64   `json:"temperature" db:"temperature"`
	Humidity             float64   `json:"humidity" db:"humidity"`
	WindSpeed            float64   `json:"wind_speed" db:"wind_speed"`
	Load                 float64   `json:"load" db:"load"`
	TreeProbability      float64   `json:"tree_probability" db:"tree_probability"`           // %
	RecurrentProbability float64   `json:"recurrent_probability" db:"recurrent_probability"` // %
	Risk                 float64   `json:"risk" db:"risk"`                                   // district-adjusted %
	Level                RiskLevel `json:"level" db:"level"`
	Decision             int       `json:"decision" db:"decision"`
	Threshold            float64   `json:"threshold" db:"threshold"`
	ModelsUsed           []string  `json:"models_used" db:"-"`
}
