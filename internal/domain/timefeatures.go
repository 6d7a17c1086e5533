package domain

import "time"

// CalendarSeason is the four-band season code fed to the trained models at
// serving time. It is not interchangeable with [Season].
type CalendarSeason int

const (
	CalendarWinter CalendarSeason = 1 // Dec–Feb
	CalendarSpring CalendarSeason = 2 // Mar–May
	CalendarSummer CalendarSeason = 3 // Jun–Aug
	CalendarAutumn CalendarSeason = 4 // Sep–Nov
)

// TimeFeatures is the time-derived part of a serving feature vector.
type TimeFeatures struct {
	Hour       int            `json:"hour"`
	DayOfWeek  int            `json:"day_of_week"`
	Month      int            `json:"month"`
	Season     CalendarSeason `json:"season"`
	IsPeakHour int            `json:"is_peak_hour"`
}

// NewTimeFeatures derives the serving time features for t.
func NewTimeFeatures(t time.Time) TimeFeatures {
	peak := 0
	if IsEveningPeak(t.Hour()) {
		peak = 1
	}
	return TimeFeatures{
		Hour:       t.Hour(),
		DayOfWeek:  DayOfWeek(t),
		Month:      int(t.Month()),
		Season:     CalendarSeasonOf(t.Month()),
		IsPeakHour: peak,
	}
}

// CalendarSeasonOf maps a month onto the four-band serving season.
func CalendarSeasonOf(month time.Month) CalendarSeason {
	switch month {
	case time.December, time.January, time.February:
		return CalendarWinter
	case time.March, time.April, time.May:
		return CalendarSpring
	case time.June, time.July, time.August:
		return CalendarSummer
	default:
		return CalendarAutumn
	}
}

// IsEveningPeak is the serving peak flag: 18:00 through 22:59 inclusive.
func IsEveningPeak(hour int) bool {
	return hour >= 18 && hour <= 22
}
