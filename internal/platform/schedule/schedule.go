// Package schedule holds the per-frequency report clocks: their persisted
// configuration, validation and trigger evaluation.
package schedule

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	// Embed tzdata for environments without zoneinfo.
	_ "time/tzdata"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

// Time conversion constants.
const (
	minutesPerHour = 60
	maxHour        = 23
)

// Error messages.
const (
	errFmtInvalidTimezone = "invalid timezone: %w"
)

// Static errors for schedule validation.
var (
	ErrTimeFormat     = errors.New("time must be HH:MM")
	ErrInvalidHour    = errors.New("invalid hour")
	ErrInvalidMinute  = errors.New("invalid minute")
	ErrHourOutOfRange = errors.New("hour out of range")
	ErrInvalidWeekday = errors.New("invalid weekday")
	ErrNoWeekdays     = errors.New("daily clock needs at least one weekday")
)

var timezoneAliases = map[string]string{
	"Asia/Nicosia": "Europe/Nicosia",
}

// Frequency is one independent schedule axis.
type Frequency string

// Frequencies.
const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Frequencies lists every frequency in evaluation order.
var Frequencies = []Frequency{Daily, Weekly, Monthly}

// ParseFrequency parses a frequency name case-insensitively.
func ParseFrequency(value string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range Frequencies {
		if f == known {
			return f, nil
		}
	}

	return "", fmt.Errorf("%w: %q", apperrors.ErrUnknownFrequency, value)
}

// Config is the persisted schedule configuration for all frequencies.
type Config struct {
	Timezone string       `json:"timezone,omitempty"`
	Daily    DailyClock   `json:"daily"`
	Weekly   WeeklyClock  `json:"weekly"`
	Monthly  MonthlyClock `json:"monthly"`
}

// DailyClock fires at Time on every enabled weekday.
type DailyClock struct {
	Enabled bool     `json:"enabled"`
	Time    string   `json:"time"`
	Days    Weekdays `json:"days"`
}

// WeeklyClock fires at Time on one weekday.
type WeeklyClock struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time"`
	Day     string `json:"day"`
}

// MonthlyClock fires at Time on one day of the month.
type MonthlyClock struct {
	Enabled bool     `json:"enabled"`
	Time    string   `json:"time"`
	Day     MonthDay `json:"day"`
}

// Default trigger values used for missing or partial configuration.
const (
	DefaultDailyTime   = "08:00"
	DefaultWeeklyTime  = "16:00"
	DefaultWeeklyDay   = "friday"
	DefaultMonthlyTime = "09:00"
	DefaultMonthlyDay  = 1
)

// DefaultConfig returns the documented defaults with every clock disabled.
func DefaultConfig() Config {
	return Config{
		Daily: DailyClock{
			Time: DefaultDailyTime,
			Days: Weekdays{
				"monday":    true,
				"tuesday":   true,
				"wednesday": true,
				"thursday":  true,
				"friday":    true,
			},
		},
		Weekly: WeeklyClock{
			Time: DefaultWeeklyTime,
			Day:  DefaultWeeklyDay,
		},
		Monthly: MonthlyClock{
			Time: DefaultMonthlyTime,
			Day:  MonthDay{Day: DefaultMonthlyDay},
		},
	}
}

// Enabled reports whether the clock for freq is enabled.
func (c Config) Enabled(freq Frequency) bool {
	switch freq {
	case Daily:
		return c.Daily.Enabled
	case Weekly:
		return c.Weekly.Enabled
	case Monthly:
		return c.Monthly.Enabled
	default:
		return false
	}
}

// Location resolves the schedule timezone or defaults to the process local zone.
func (c Config) Location() (*time.Location, error) {
	if strings.TrimSpace(c.Timezone) == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(NormalizeTimezone(c.Timezone))
	if err != nil {
		return nil, fmt.Errorf(errFmtInvalidTimezone, err)
	}

	return loc, nil
}

// Validate checks that every enabled clock has a resolvable trigger.
func (c Config) Validate() error {
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidSchedule, err)
	}

	var errs []error

	if err := c.Daily.validate(); err != nil {
		errs = append(errs, fmt.Errorf("daily: %w", err))
	}

	if err := c.Weekly.validate(); err != nil {
		errs = append(errs, fmt.Errorf("weekly: %w", err))
	}

	if err := c.Monthly.validate(); err != nil {
		errs = append(errs, fmt.Errorf("monthly: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidSchedule, errors.Join(errs...))
	}

	return nil
}

func (d DailyClock) validate() error {
	if _, err := parseTimeHM(d.Time); err != nil {
		return fmt.Errorf("time %q: %w", d.Time, err)
	}

	set, err := d.Days.Set()
	if err != nil {
		return err
	}

	if d.Enabled && len(set) == 0 {
		return ErrNoWeekdays
	}

	return nil
}

func (w WeeklyClock) validate() error {
	if _, err := parseTimeHM(w.Time); err != nil {
		return fmt.Errorf("time %q: %w", w.Time, err)
	}

	if _, err := ParseWeekday(w.Day); err != nil {
		return err
	}

	return nil
}

func (m MonthlyClock) validate() error {
	if _, err := parseTimeHM(m.Time); err != nil {
		return fmt.Errorf("time %q: %w", m.Time, err)
	}

	return m.Day.Validate()
}

// NormalizeTimezone maps known aliases to canonical IANA names.
func NormalizeTimezone(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if canonical, ok := timezoneAliases[value]; ok {
		return canonical
	}

	return value
}

func parseTimeHM(value string) (int, error) {
	normalized, err := NormalizeTimeHM(value)
	if err != nil {
		return 0, err
	}

	hour, err := strconv.Atoi(normalized[:2])
	if err != nil {
		return 0, ErrInvalidHour
	}

	minute, err := strconv.Atoi(normalized[3:])
	if err != nil {
		return 0, ErrInvalidMinute
	}

	return hour*minutesPerHour + minute, nil
}

// NormalizeTimeHM accepts H:MM or HH:MM and returns HH:MM.
func NormalizeTimeHM(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrTimeFormat
	}

	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return "", ErrTimeFormat
	}

	if len(parts[1]) != 2 {
		return "", ErrTimeFormat
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return "", ErrInvalidHour
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", ErrInvalidMinute
	}

	if hour > maxHour || hour < 0 {
		return "", ErrHourOutOfRange
	}

	if minute < 0 || minute >= minutesPerHour {
		return "", ErrInvalidMinute
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
