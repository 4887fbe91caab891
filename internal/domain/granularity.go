package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeGranularity is a time bucketing unit. Values are ordered from finest to
// coarsest so that comparisons follow granularity size.
type TimeGranularity int

// GranularityUnknown is the zero value and never a valid granularity.
const (
	GranularityUnknown TimeGranularity = iota
	GranularityDay
	GranularityWeek
	GranularityMonth
	GranularityQuarter
	GranularityYear
)

// DefaultGranularity is used where a granularity cannot be inferred from the model,
// e.g. time dimensions reached through an entity join.
const DefaultGranularity = GranularityDay

// AllTimeGranularities lists every valid granularity from finest to coarsest.
var AllTimeGranularities = []TimeGranularity{
	GranularityDay,
	GranularityWeek,
	GranularityMonth,
	GranularityQuarter,
	GranularityYear,
}

// MinTime and MaxTime bound every time range the compiler emits.
var (
	MinTime = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxTime = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
)

func (g TimeGranularity) String() string {
	switch g {
	case GranularityDay:
		return "day"
	case GranularityWeek:
		return "week"
	case GranularityMonth:
		return "month"
	case GranularityQuarter:
		return "quarter"
	case GranularityYear:
		return "year"
	default:
		return "unknown"
	}
}

// IsValid reports whether g is one of AllTimeGranularities.
func (g TimeGranularity) IsValid() bool {
	return g >= GranularityDay && g <= GranularityYear
}

// FinerThan reports whether g buckets time into smaller periods than other.
func (g TimeGranularity) FinerThan(other TimeGranularity) bool {
	return g < other
}

// ParseTimeGranularity parses a granularity name case-insensitively.
func ParseTimeGranularity(s string) (TimeGranularity, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for _, g := range AllTimeGranularities {
		if g.String() == name {
			return g, nil
		}
	}
	return GranularityUnknown, fmt.Errorf("unknown time granularity %q", s)
}

// IsTimeGranularityName reports whether s names a granularity.
func IsTimeGranularityName(s string) bool {
	_, err := ParseTimeGranularity(s)
	return err == nil
}

// PeriodStart returns the first day of the period containing t. Weeks start on Monday.
func (g TimeGranularity) PeriodStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch g {
	case GranularityDay:
		return day
	case GranularityWeek:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case GranularityQuarter:
		firstMonth := time.Month((int(t.Month())-1)/3*3 + 1)
		return time.Date(t.Year(), firstMonth, 1, 0, 0, 0, 0, t.Location())
	case GranularityYear:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	default:
		panic(fmt.Sprintf("unhandled time granularity %d", int(g)))
	}
}

// PeriodEnd returns the last day of the period containing t.
func (g TimeGranularity) PeriodEnd(t time.Time) time.Time {
	start := g.PeriodStart(t)
	switch g {
	case GranularityDay:
		return start
	case GranularityWeek:
		return start.AddDate(0, 0, 6)
	case GranularityMonth:
		return start.AddDate(0, 1, -1)
	case GranularityQuarter:
		return start.AddDate(0, 3, -1)
	case GranularityYear:
		return start.AddDate(1, 0, -1)
	default:
		panic(fmt.Sprintf("unhandled time granularity %d", int(g)))
	}
}

// TimeRange is an inclusive range of days.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
}
