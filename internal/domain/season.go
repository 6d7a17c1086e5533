package domain

import "time"

// Season is the three-band weather season used by the record generator.
type Season int

const (
	SeasonCoolDry Season = 0 // Nov–Feb
	SeasonHotDry  Season = 1 // Mar–May
	SeasonRainy   Season = 2 // Jun–Oct
)

func (s Season) String() string {
	switch s {
	case SeasonCoolDry:
		return "cool-dry"
	case SeasonHotDry:
		return "hot-dry"
	case SeasonRainy:
		return "rainy"
	default:
		return "unknown"
	}
}

// WeatherSeason maps a month onto the generator's three-band season.
func WeatherSeason(month time.Month) Season {
	switch month {
	case time.November, time.December, time.January, time.February:
		return SeasonCoolDry
	case time.March, time.April, time.May:
		return SeasonHotDry
	default:
		return SeasonRainy
	}
}

// IsPeakHour reports whether hour falls in the generator's peak windows,
// [7,10) and [18,22).
func IsPeakHour(hour int) bool {
	return (hour >= 7 && hour < 10) || (hour >= 18 && hour < 22)
}

// isNightHour covers 22:00 through 05:59.
func isNightHour(hour int) bool {
	return hour >= 22 || hour <= 5
}

// DayOfWeek numbers weekdays from Monday = 0 to Sunday = 6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}
