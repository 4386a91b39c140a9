package schedule

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	apperrors "github.com/lueurxax/profilewatch/internal/core/errors"
)

const (
	testTimeFormat = "2006-01-02 15:04"
	testErrDue     = "Due returned error: %v"
	testErrNext    = "Next returned error: %v"
)

func everyDay() Weekdays {
	return Weekdays{
		"monday": true, "tuesday": true, "wednesday": true, "thursday": true,
		"friday": true, "saturday": true, "sunday": true,
	}
}

func utcConfig() Config {
	cfg := DefaultConfig()
	cfg.Timezone = "UTC"

	return cfg
}

func at(year int, month time.Month, day, hour, minute, sec int) time.Time {
	return time.Date(year, month, day, hour, minute, sec, 0, time.UTC)
}

func TestDueDailyExactMinute(t *testing.T) {
	cfg := utcConfig()
	cfg.Daily.Enabled = true
	cfg.Daily.Days = everyDay()

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "start of minute", now: at(2026, 3, 2, 8, 0, 0), want: true},
		{name: "end of minute", now: at(2026, 3, 2, 8, 0, 59), want: true},
		{name: "one minute late", now: at(2026, 3, 2, 8, 1, 0), want: false},
		{name: "early", now: at(2026, 3, 2, 7, 59, 59), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trigger, due, err := cfg.Due(Daily, tt.now, 0)
			if err != nil {
				t.Fatalf(testErrDue, err)
			}

			if due != tt.want {
				t.Fatalf("due = %v, want %v", due, tt.want)
			}

			if due && !trigger.Equal(at(2026, 3, 2, 8, 0, 0)) {
				t.Fatalf("trigger = %s", trigger.Format(testTimeFormat))
			}
		})
	}
}

func TestDueCatchupWindow(t *testing.T) {
	cfg := utcConfig()
	cfg.Daily.Enabled = true
	cfg.Daily.Days = everyDay()
	cfg.Daily.Time = "23:50"

	_, due, err := cfg.Due(Daily, at(2026, 3, 2, 23, 58, 0), 10*time.Minute)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if !due {
		t.Fatal("expected fire within the catch-up window")
	}

	trigger, due, err := cfg.Due(Daily, at(2026, 3, 3, 0, 5, 0), 30*time.Minute)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if !due || PeriodKey(trigger) != "2026-03-02" {
		t.Fatalf("expected previous day's trigger across midnight, got due=%v key=%s", due, PeriodKey(trigger))
	}
}

func TestDueDailyRespectsWeekdays(t *testing.T) {
	cfg := utcConfig()
	cfg.Daily.Enabled = true

	// 2026-03-07 is a Saturday; defaults cover Monday to Friday.
	_, due, err := cfg.Due(Daily, at(2026, 3, 7, 8, 0, 0), 0)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if due {
		t.Fatal("daily clock must not fire on a disabled weekday")
	}
}

func TestDueDisabled(t *testing.T) {
	cfg := utcConfig()

	for _, freq := range Frequencies {
		_, due, err := cfg.Due(freq, at(2026, 3, 6, 16, 0, 0), 0)
		if err != nil {
			t.Fatalf(testErrDue, err)
		}

		if due {
			t.Fatalf("%s: disabled clock fired", freq)
		}
	}
}

func TestDueWeekly(t *testing.T) {
	cfg := utcConfig()
	cfg.Weekly.Enabled = true

	_, due, err := cfg.Due(Weekly, at(2026, 3, 6, 16, 0, 30), 0)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if !due {
		t.Fatal("expected weekly fire on Friday 16:00")
	}

	_, due, _ = cfg.Due(Weekly, at(2026, 3, 5, 16, 0, 0), 0)
	if due {
		t.Fatal("weekly clock fired on Thursday")
	}
}

func TestDueMonthlyResolvesShortMonths(t *testing.T) {
	cfg := utcConfig()
	cfg.Monthly.Enabled = true
	cfg.Monthly.Day = MonthDay{Day: 31}

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "april 30", now: at(2026, 4, 30, 9, 0, 0), want: true},
		{name: "april 29", now: at(2026, 4, 29, 9, 0, 0), want: false},
		{name: "february 28 common year", now: at(2026, 2, 28, 9, 0, 0), want: true},
		{name: "february 28 leap year", now: at(2028, 2, 28, 9, 0, 0), want: false},
		{name: "february 29 leap year", now: at(2028, 2, 29, 9, 0, 0), want: true},
		{name: "march 31", now: at(2026, 3, 31, 9, 0, 0), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, due, err := cfg.Due(Monthly, tt.now, 0)
			if err != nil {
				t.Fatalf(testErrDue, err)
			}

			if due != tt.want {
				t.Fatalf("due = %v, want %v", due, tt.want)
			}
		})
	}
}

func TestDueMonthlyLastDay(t *testing.T) {
	cfg := utcConfig()
	cfg.Monthly.Enabled = true
	cfg.Monthly.Day = LastDay

	_, due, err := cfg.Due(Monthly, at(2026, 6, 30, 9, 0, 0), 0)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if !due {
		t.Fatal("expected fire on June 30")
	}
}

func TestDueUsesConfiguredTimezone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timezone = "Europe/Madrid"
	cfg.Daily.Enabled = true
	cfg.Daily.Days = everyDay()

	// 08:00 in Madrid on 2026-03-02 (CET, UTC+1) is 07:00 UTC.
	_, due, err := cfg.Due(Daily, at(2026, 3, 2, 7, 0, 0), 0)
	if err != nil {
		t.Fatalf(testErrDue, err)
	}

	if !due {
		t.Fatal("expected fire at local 08:00")
	}
}

func TestNext(t *testing.T) {
	cfg := utcConfig()
	cfg.Monthly.Enabled = true
	cfg.Monthly.Day = MonthDay{Day: 31}

	next, ok, err := cfg.Next(Monthly, at(2026, 4, 1, 0, 0, 0))
	if err != nil {
		t.Fatalf(testErrNext, err)
	}

	if !ok || next.Format(testTimeFormat) != "2026-04-30 09:00" {
		t.Fatalf("next = %s, ok = %v", next.Format(testTimeFormat), ok)
	}

	next, ok, err = cfg.Next(Monthly, at(2026, 4, 30, 9, 0, 0))
	if err != nil {
		t.Fatalf(testErrNext, err)
	}

	if !ok || next.Format(testTimeFormat) != "2026-05-31 09:00" {
		t.Fatalf("next after trigger = %s", next.Format(testTimeFormat))
	}

	if _, ok, _ := cfg.Next(Daily, at(2026, 4, 1, 0, 0, 0)); ok {
		t.Fatal("disabled clock has no next trigger")
	}
}

func TestValidate(t *testing.T) {
	cfg := utcConfig()
	cfg.Daily.Enabled = true
	cfg.Daily.Days = Weekdays{"monday": false}

	if err := cfg.Validate(); !errors.Is(err, apperrors.ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule for empty weekday set, got %v", err)
	}

	cfg = utcConfig()
	cfg.Weekly.Day = "someday"

	if err := cfg.Validate(); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("expected ErrInvalidWeekday, got %v", err)
	}

	cfg = utcConfig()
	cfg.Monthly.Time = "24:00"

	if err := cfg.Validate(); !errors.Is(err, ErrHourOutOfRange) {
		t.Fatalf("expected ErrHourOutOfRange, got %v", err)
	}

	if err := utcConfig().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestMonthDayJSON(t *testing.T) {
	tests := []struct {
		in   string
		want MonthDay
	}{
		{in: `15`, want: MonthDay{Day: 15}},
		{in: `"7"`, want: MonthDay{Day: 7}},
		{in: `"last"`, want: LastDay},
		{in: `"LAST"`, want: LastDay},
	}

	for _, tt := range tests {
		var got MonthDay
		if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}

		if got != tt.want {
			t.Fatalf("unmarshal %s = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	var bad MonthDay
	if err := json.Unmarshal([]byte(`"soon"`), &bad); err == nil {
		t.Fatal("expected error for non-numeric day")
	}

	out, err := json.Marshal(LastDay)
	if err != nil || string(out) != `"last"` {
		t.Fatalf("marshal last = %s, %v", out, err)
	}
}

func TestResolveMonthDay(t *testing.T) {
	if got := ResolveMonthDay(2026, time.February, MonthDay{Day: 30}); got != 28 {
		t.Fatalf("got %d, want 28", got)
	}

	if got := ResolveMonthDay(2028, time.February, LastDay); got != 29 {
		t.Fatalf("got %d, want 29", got)
	}

	if got := ResolveMonthDay(2026, time.January, MonthDay{Day: 12}); got != 12 {
		t.Fatalf("got %d, want 12", got)
	}
}

func TestParseFrequency(t *testing.T) {
	if f, err := ParseFrequency(" Weekly "); err != nil || f != Weekly {
		t.Fatalf("ParseFrequency = %q, %v", f, err)
	}

	if _, err := ParseFrequency("hourly"); !errors.Is(err, apperrors.ErrUnknownFrequency) {
		t.Fatalf("expected ErrUnknownFrequency, got %v", err)
	}
}

func TestNormalizeTimeHM(t *testing.T) {
	if got, err := NormalizeTimeHM("9:05"); err != nil || got != "09:05" {
		t.Fatalf("NormalizeTimeHM = %q, %v", got, err)
	}

	if _, err := NormalizeTimeHM("9:5"); !errors.Is(err, ErrTimeFormat) {
		t.Fatalf("expected ErrTimeFormat, got %v", err)
	}
}

func TestNormalizeTimezoneAlias(t *testing.T) {
	if NormalizeTimezone("Asia/Nicosia") != "Europe/Nicosia" {
		t.Fatal("expected Asia/Nicosia to normalize to Europe/Nicosia")
	}
}
