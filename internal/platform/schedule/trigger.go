package schedule

import (
	"fmt"
	"time"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

// nextSearchDays bounds the forward search; any enabled clock triggers within a year.
const nextSearchDays = 400

// PeriodKey identifies the calendar period a trigger belongs to.
func PeriodKey(trigger time.Time) string {
	return trigger.Format(time.DateOnly)
}

// Due reports whether freq should fire at now. A trigger matches for the whole
// configured minute; window extends the match past that minute on the same
// schedule. The returned time is the matched trigger instant.
func (c Config) Due(freq Frequency, now time.Time, window time.Duration) (time.Time, bool, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, false, err
	}

	local := now.In(loc)
	today := dateOnly(local)

	for offset := 0; offset < 2; offset++ {
		trigger, ok, err := c.triggerOn(freq, today.AddDate(0, 0, -offset))
		if err != nil {
			return time.Time{}, false, err
		}

		if !ok || local.Before(trigger) {
			continue
		}

		if local.Sub(trigger) < time.Minute+window {
			return trigger, true, nil
		}

		return time.Time{}, false, nil
	}

	return time.Time{}, false, nil
}

// Next returns the first trigger instant strictly after after.
func (c Config) Next(freq Frequency, after time.Time) (time.Time, bool, error) {
	if !c.Enabled(freq) {
		return time.Time{}, false, nil
	}

	loc, err := c.Location()
	if err != nil {
		return time.Time{}, false, err
	}

	local := after.In(loc)
	start := dateOnly(local)

	for offset := 0; offset < nextSearchDays; offset++ {
		trigger, ok, err := c.triggerOn(freq, start.AddDate(0, 0, offset))
		if err != nil {
			return time.Time{}, false, err
		}

		if ok && trigger.After(local) {
			return trigger, true, nil
		}
	}

	return time.Time{}, false, nil
}

// triggerOn returns the trigger instant on date when the clock qualifies that day.
func (c Config) triggerOn(freq Frequency, date time.Time) (time.Time, bool, error) {
	var (
		clock   string
		matches bool
	)

	switch freq {
	case Daily:
		if !c.Daily.Enabled {
			return time.Time{}, false, nil
		}

		clock = c.Daily.Time
		matches = c.Daily.Days.Has(date.Weekday())
	case Weekly:
		if !c.Weekly.Enabled {
			return time.Time{}, false, nil
		}

		day, err := ParseWeekday(c.Weekly.Day)
		if err != nil {
			return time.Time{}, false, err
		}

		clock = c.Weekly.Time
		matches = date.Weekday() == day
	case Monthly:
		if !c.Monthly.Enabled {
			return time.Time{}, false, nil
		}

		clock = c.Monthly.Time
		matches = date.Day() == c.Monthly.Day.Resolve(date.Year(), date.Month())
	default:
		return time.Time{}, false, fmt.Errorf("%w: %q", apperrors.ErrUnknownFrequency, freq)
	}

	if !matches {
		return time.Time{}, false, nil
	}

	minutes, err := parseTimeHM(clock)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s time %q: %w", freq, clock, err)
	}

	return time.Date(date.Year(), date.Month(), date.Day(),
		minutes/minutesPerHour, minutes%minutesPerHour, 0, 0, date.Location()), true, nil
}
