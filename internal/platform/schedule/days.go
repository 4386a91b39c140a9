package schedule

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	lastDayMarker = "last"
	maxMonthDay   = 31
)

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sun":       time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(value string) (time.Weekday, error) {
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, value)
	}

	return day, nil
}

// WeekdayName returns the lowercase key used in the persisted configuration.
func WeekdayName(day time.Weekday) string {
	return strings.ToLower(day.String())
}

// Weekdays maps weekday names to an enabled flag.
type Weekdays map[string]bool

// UnmarshalJSON replaces the set instead of merging into the defaults.
func (w *Weekdays) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*w = raw

	return nil
}

// Set returns the enabled weekdays.
func (w Weekdays) Set() (map[time.Weekday]struct{}, error) {
	set := make(map[time.Weekday]struct{}, len(w))

	for name, enabled := range w {
		day, err := ParseWeekday(name)
		if err != nil {
			return nil, err
		}

		if enabled {
			set[day] = struct{}{}
		}
	}

	return set, nil
}

// Has reports whether day is enabled.
func (w Weekdays) Has(day time.Weekday) bool {
	set, err := w.Set()
	if err != nil {
		return false
	}

	_, ok := set[day]

	return ok
}

// MonthDay is a day of the month or the last-day marker.
// It decodes from a number, a numeric string or "last".
type MonthDay struct {
	Day  int
	Last bool
}

// LastDay is the "last day of month" marker.
var LastDay = MonthDay{Last: true}

// Validate checks the day is within 1-31 unless it is the last-day marker.
func (d MonthDay) Validate() error {
	if d.Last {
		return nil
	}

	if d.Day < 1 || d.Day > maxMonthDay {
		return fmt.Errorf("day of month %d out of range", d.Day)
	}

	return nil
}

// Resolve returns the concrete day in the given month. Days beyond the
// month's length resolve to its last day.
func (d MonthDay) Resolve(year int, month time.Month) int {
	return ResolveMonthDay(year, month, d)
}

// ResolveMonthDay returns the concrete day for d in year/month.
func ResolveMonthDay(year int, month time.Month, d MonthDay) int {
	last := daysIn(year, month)
	if d.Last || d.Day > last {
		return last
	}

	return max(d.Day, 1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MarshalJSON writes a number or "last".
func (d MonthDay) MarshalJSON() ([]byte, error) {
	if d.Last {
		return json.Marshal(lastDayMarker)
	}

	return json.Marshal(d.Day)
}

// UnmarshalJSON reads a number, a numeric string or "last".
func (d *MonthDay) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*d = MonthDay{Day: n}
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("day of month must be a number or %q: %w", lastDayMarker, err)
	}

	s = strings.ToLower(strings.TrimSpace(s))
	if s == lastDayMarker {
		*d = LastDay
		return nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("day of month %q: %w", s, err)
	}

	*d = MonthDay{Day: n}

	return nil
}

func (d MonthDay) String() string {
	if d.Last {
		return lastDayMarker
	}

	return strconv.Itoa(d.Day)
}
