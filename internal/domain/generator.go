package domain

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// NoiseSource supplies the random draws consumed by the generator.
type NoiseSource interface {
	// NormFloat64 returns a standard normal draw.
	NormFloat64() float64
	// Float64 returns a uniform draw in [0, 1).
	Float64() float64
}

// NewSeededSource returns a deterministic PCG-backed noise source.
func NewSeededSource(seed uint64) NoiseSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// GeneratorConfig fully determines a generated table.
type GeneratorConfig struct {
	Seed      uint64
	Start     time.Time
	End       time.Time // inclusive
	Step      time.Duration
	Districts *DistrictTable
}

// DefaultGeneratorConfig covers calendar year 2024 hourly for every built-in
// district with seed 42.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Seed:      42,
		Start:     time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC),
		Step:      time.Hour,
		Districts: MustDefaultTable(),
	}
}

// Validate reports configuration errors.
func (c GeneratorConfig) Validate() error {
	var errs []error
	if c.Districts == nil || c.Districts.Len() == 0 {
		errs = append(errs, errors.New("no districts configured"))
	}
	if c.Step <= 0 {
		errs = append(errs, fmt.Errorf("step must be positive, got %s", c.Step))
	}
	if c.End.Before(c.Start) {
		errs = append(errs, fmt.Errorf("end %s is before start %s", c.End.Format(time.DateTime), c.Start.Format(time.DateTime)))
	}
	return errors.Join(errs...)
}

// Timestamps returns the inclusive hourly grid of the configured range.
func (c GeneratorConfig) Timestamps() []time.Time {
	if c.Step <= 0 || c.End.Before(c.Start) {
		return nil
	}
	n := int(c.End.Sub(c.Start)/c.Step) + 1
	out := make([]time.Time, 0, n)
	for ts := c.Start; !ts.After(c.End); ts = ts.Add(c.Step) {
		out = append(out, ts)
	}
	return out
}

// Generate builds the synthetic table from a stream seeded with cfg.Seed.
func Generate(cfg GeneratorConfig) ([]Record, error) {
	return GenerateWithNoise(cfg, NewSeededSource(cfg.Seed))
}

// GenerateWithNoise builds the synthetic table drawing from noise. Districts
// form the outer loop and timestamps the inner loop.
func GenerateWithNoise(cfg GeneratorConfig, noise NoiseSource) ([]Record, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generator config: %w", err)
	}

	stamps := cfg.Timestamps()
	records := make([]Record, 0, len(stamps)*cfg.Districts.Len())
	for _, profile := range cfg.Districts.Profiles() {
		for _, ts := range stamps {
			records = append(records, generateRecord(ts, profile, noise))
		}
	}
	return records, nil
}

// generateRecord draws, in order: temperature, humidity, wind and load noise,
// then the Bernoulli uniform.
func generateRecord(ts time.Time, p DistrictProfile, noise NoiseSource) Record {
	hour := ts.Hour()
	season := WeatherSeason(ts.Month())
	peak := IsPeakHour(hour)

	temp := Temperature(season, hour, p.TempBias, noise.NormFloat64())
	humidity := Humidity(temp, season, noise.NormFloat64())
	wind := WindSpeed(season, peak, noise.NormFloat64())
	load := Load(hour, peak, p.MeanLoad, temp, noise.NormFloat64())
	prob := OutageProbability(temp, load, peak, season, p.BaseRate)

	outage := 0
	if noise.Float64() < prob {
		outage = 1
	}

	return Record{
		Timestamp:   ts,
		District:    p.Name,
		Temperature: round2(temp),
		Humidity:    humidity,
		WindSpeed:   round2(wind),
		Load:        load,
		Hour:        hour,
		DayOfWeek:   DayOfWeek(ts),
		Month:       int(ts.Month()),
		Season:      season,
		IsPeakHour:  boolToInt(peak),
		Outage:      outage,
		Probability: prob,
	}
}

var seasonBaseTemperature = [...]float64{
	SeasonCoolDry: 24,
	SeasonHotDry:  30,
	SeasonRainy:   27,
}

// Temperature in °C for a standard normal draw z (σ = 2 °C).
func Temperature(season Season, hour int, bias, z float64) float64 {
	diurnal := 5 * math.Sin(float64(hour-6)*math.Pi/12)
	t := seasonBaseTemperature[season] + diurnal + bias + 2*z
	return Clip(t, MinTemperature, MaxTemperature)
}

// Humidity in integer percent for a standard normal draw z (σ = 8).
func Humidity(temp float64, season Season, z float64) int {
	h := 100 - (temp-20)*1.5
	switch season {
	case SeasonRainy:
		h += 15
	case SeasonHotDry:
		h -= 10
	}
	h += 8 * z
	return int(Clip(h, MinHumidity, MaxHumidity))
}

// WindSpeed in km/h for a standard normal draw z (σ = 5).
func WindSpeed(season Season, peak bool, z float64) float64 {
	w := 12.0
	if season == SeasonRainy {
		w = 20
	}
	if peak {
		w += 5
	}
	return Clip(w+5*z, MinWindSpeed, MaxWindSpeed)
}

// Load in integer MW for a standard normal draw z (σ = 50).
func Load(hour int, peak bool, meanLoad, temp, z float64) int {
	hourFactor := 1.0
	switch {
	case peak:
		hourFactor = 1.3
	case isNightHour(hour):
		hourFactor = 0.7
	}
	heatFactor := 1.0
	if temp > 32 {
		heatFactor = 1 + (temp-32)*0.03
	}
	l := meanLoad*hourFactor*heatFactor + 50*z
	return int(Clip(l, MinLoad, MaxLoad))
}

// OutageProbability is the closed-form outage probability, clipped to [0, 1].
func OutageProbability(temp float64, load int, peak bool, season Season, baseRate float64) float64 {
	p := baseRate
	if temp >= 30 {
		p += (temp - 30) * 0.02
	}
	if load >= 900 {
		p += float64(load-900) * 0.0001
	}
	if peak {
		p += 0.03
	}
	if season == SeasonHotDry {
		p += 0.02
	}
	return Clip(p, 0, 1)
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Summary is the headline of a generated table.
type Summary struct {
	Rows       int
	Outages    int
	OutageRate float64 // fraction
	ByDistrict []DistrictRate
}

// DistrictRate is the outage rate of one district, in table order.
type DistrictRate struct {
	District string
	Rows     int
	Outages  int
	Rate     float64
}

// Summarize counts outages overall and per district, keeping first-seen
// district order.
func Summarize(records []Record) Summary {
	s := Summary{Rows: len(records)}
	idx := map[string]int{}
	for _, r := range records {
		i, ok := idx[r.District]
		if !ok {
			i = len(s.ByDistrict)
			idx[r.District] = i
			s.ByDistrict = append(s.ByDistrict, DistrictRate{District: r.District})
		}
		s.ByDistrict[i].Rows++
		if r.Outage == 1 {
			s.Outages++
			s.ByDistrict[i].Outages++
		}
	}
	if s.Rows > 0 {
		s.OutageRate = float64(s.Outages) / float64(s.Rows)
	}
	for i := range s.ByDistrict {
		d := &s.ByDistrict[i]
		d.Rate = float64(d.Outages) / float64(d.Rows)
	}
	return s
}
