package domain

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultDistricts(t *testing.T) {
	table := MustDefaultTable()
	require.Equal(t, 8, table.Len())
	assert.Equal(t, "Guediawaye", table.Names()[0])

	for _, p := range table.Profiles() {
		assert.NotEmpty(t, p.Name)
		assert.Greater(t, p.BaseRate, 0.0)
		assert.Less(t, p.BaseRate, 1.0)
		assert.Greater(t, p.MeanLoad, 0.0)
		assert.Greater(t, p.RiskAdjustment, 0.0)
		assert.InDelta(t, 14.7, p.Lat, 0.2)
		assert.InDelta(t, -17.4, p.Lon, 0.2)
	}
}

func TestDistrictTableLookup(t *testing.T) {
	table := MustDefaultTable()

	p, ok := table.Lookup("Yoff")
	require.True(t, ok)
	assert.InDelta(t, 0.071, p.BaseRate, 1e-9)

	_, ok = table.Lookup("Atlantis")
	assert.False(t, ok)

	assert.InDelta(t, 1.20, table.Adjustment("Pikine"), 1e-9)
	assert.InDelta(t, 1.0, table.Adjustment("Atlantis"), 1e-9)
}

func TestDistrictTableIsolation(t *testing.T) {
	table := MustDefaultTable()
	profiles := table.Profiles()
	profiles[0].Name = "mutated"
	assert.Equal(t, "Guediawaye", table.Names()[0])
}

func TestNewDistrictTableValidation(t *testing.T) {
	tests := []struct {
		name     string
		profiles []DistrictProfile
		wantErr  string
	}{
		{name: "empty", profiles: nil, wantErr: "empty"},
		{name: "missing name", profiles: []DistrictProfile{{BaseRate: 0.1, MeanLoad: 500}}, wantErr: "name is required"},
		{name: "rate above one", profiles: []DistrictProfile{{Name: "A", BaseRate: 1.5, MeanLoad: 500}}, wantErr: "base_rate"},
		{name: "no load", profiles: []DistrictProfile{{Name: "A", BaseRate: 0.1}}, wantErr: "mean_load"},
		{name: "duplicate", profiles: []DistrictProfile{
			{Name: "A", BaseRate: 0.1, MeanLoad: 500},
			{Name: "A", BaseRate: 0.2, MeanLoad: 600},
		}, wantErr: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewDistrictTable(tt.profiles)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("zero adjustment defaults to one", func(t *testing.T) {
		table, err := NewDistrictTable([]DistrictProfile{{Name: "A", BaseRate: 0.1, MeanLoad: 500}})
		require.NoError(t, err)
		assert.InDelta(t, 1.0, table.Adjustment("A"), 1e-9)
	})
}

func TestLoadDistricts(t *testing.T) {
	t.Run("empty path uses built-in table", func(t *testing.T) {
		table, err := LoadDistricts("")
		require.NoError(t, err)
		assert.Equal(t, 8, table.Len())
	})

	t.Run("yaml file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "districts.yaml")
		content := `districts:
  - name: Rufisque
    base_rate: 0.09
    severity: 1.1
    mean_load: 620
    temperature_bias: 0.3
    lat: 14.7167
    lon: -17.2667
    risk_adjustment: 1.05
  - name: Ngor
    base_rate: 0.05
    mean_load: 400
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		table, err := LoadDistricts(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"Rufisque", "Ngor"}, table.Names())

		p, ok := table.Lookup("Rufisque")
		require.True(t, ok)
		assert.InDelta(t, 620.0, p.MeanLoad, 1e-9)
		assert.InDelta(t, 0.3, p.TempBias, 1e-9)
		assert.InDelta(t, 1.0, table.Adjustment("Ngor"), 1e-9)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadDistricts(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read district file")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("districts: [name: {"), 0o600))
		_, err := LoadDistricts(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse district file")
	})
}

func TestNewTimeFeatures(t *testing.T) {
	// 2024-07-15 is a Monday.
	tf := NewTimeFeatures(time.Date(2024, time.July, 15, 19, 30, 0, 0, time.UTC))
	assert.Equal(t, TimeFeatures{Hour: 19, DayOfWeek: 0, Month: 7, Season: CalendarSummer, IsPeakHour: 1}, tf)

	sunday := NewTimeFeatures(time.Date(2024, time.December, 1, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, 6, sunday.DayOfWeek)
	assert.Equal(t, CalendarWinter, sunday.Season)
	assert.Equal(t, 0, sunday.IsPeakHour)

	assert.Equal(t, CalendarAutumn, CalendarSeasonOf(time.October))
	assert.Equal(t, 1, NewTimeFeatures(time.Date(2024, time.March, 5, 22, 59, 0, 0, time.UTC)).IsPeakHour)
	assert.Equal(t, 0, NewTimeFeatures(time.Date(2024, time.March, 5, 23, 0, 0, 0, time.UTC)).IsPeakHour)
	assert.Equal(t, 0, NewTimeFeatures(time.Date(2024, time.March, 5, 17, 59, 0, 0, time.UTC)).IsPeakHour)
}

func TestClassifyRisk(t *testing.T) {
	assert.Equal(t, RiskLow, ClassifyRisk(0))
	assert.Equal(t, RiskLow, ClassifyRisk(39.99))
	assert.Equal(t, RiskMedium, ClassifyRisk(40))
	assert.Equal(t, RiskMedium, ClassifyRisk(69.99))
	assert.Equal(t, RiskHigh, ClassifyRisk(70))
	assert.Equal(t, RiskHigh, ClassifyRisk(100))
}
