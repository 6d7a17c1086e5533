package dataset

import (
	"sort"
	"time"

	"github.com/couchcryptid/grid-outage-risk/internal/domain"
)

// DistrictStats aggregates the table for one district.
type DistrictStats struct {
	District        string  `json:"district"`
	Records         int     `json:"records"`
	Outages         int     `json:"outages"`
	OutageRate      float64 `json:"outage_rate"` // fraction
	MeanTemperature float64 `json:"mean_temperature"`
	MeanLoad        float64 `json:"mean_load"`
}

// Stats aggregates records per district, sorted by outage rate descending.
// A non-empty district restricts the result to that district.
func Stats(records []domain.Record, district string) []DistrictStats {
	acc := map[string]*DistrictStats{}
	for _, r := range filter(records, district) {
		s, ok := acc[r.District]
		if !ok {
			s = &DistrictStats{District: r.District}
			acc[r.District] = s
		}
		s.Records++
		s.Outages += r.Outage
		s.MeanTemperature += r.Temperature
		s.MeanLoad += float64(r.Load)
	}

	out := make([]DistrictStats, 0, len(acc))
	for _, s := range acc {
		n := float64(s.Records)
		s.OutageRate = float64(s.Outages) / n
		s.MeanTemperature /= n
		s.MeanLoad /= n
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OutageRate != out[j].OutageRate {
			return out[i].OutageRate > out[j].OutageRate
		}
		return out[i].District < out[j].District
	})
	return out
}

// DayPoint is one day of the historical outage trend.
type DayPoint struct {
	Date            string           `json:"date"` // YYYY-MM-DD
	Outages         int              `json:"outages"`
	Records         int              `json:"records"`
	Rate            float64          `json:"rate"` // percent
	Level           domain.RiskLevel `json:"level"`
	MeanTemperature float64          `json:"mean_temperature"`
	MeanLoad        float64          `json:"mean_load"`
}

// DailyTrend buckets records by calendar day in ascending order. A non-empty
// district restricts the trend to that district.
func DailyTrend(records []domain.Record, district string) []DayPoint {
	byDay := map[string]*DayPoint{}
	for _, r := range filter(records, district) {
		key := r.Timestamp.Format(time.DateOnly)
		p, ok := byDay[key]
		if !ok {
			p = &DayPoint{Date: key}
			byDay[key] = p
		}
		p.Records++
		p.Outages += r.Outage
		p.MeanTemperature += r.Temperature
		p.MeanLoad += float64(r.Load)
	}

	out := make([]DayPoint, 0, len(byDay))
	for _, p := range byDay {
		n := float64(p.Records)
		p.Rate = float64(p.Outages) / n * 100
		p.Level = domain.ClassifyRisk(p.Rate)
		p.MeanTemperature /= n
		p.MeanLoad /= n
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}

func filter(records []domain.Record, district string) []domain.Record {
	if district == "" {
		return records
	}
	var out []domain.Record
	for _, r := range records {
		if r.District == district {
			out = append(out, r)
		}
	}
	return out
}
