package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	ErrInvalidFrequency = errors.New("invalid backup frequency")
	ErrInvalidTime      = errors.New("invalid time of day")
	ErrInvalidWeekday   = errors.New("invalid weekday")
	ErrInvalidDay       = errors.New("invalid day of month")
)

// Frequency is how often scheduled backups run.
type Frequency string

const (
	EveryMinute     Frequency = "1min"
	EveryFiveMin    Frequency = "5min"
	EveryFifteenMin Frequency = "15min"
	Hourly          Frequency = "hourly"
	Daily           Frequency = "daily"
	Weekly          Frequency = "weekly"
	Monthly         Frequency = "monthly"
)

var intervals = map[Frequency]time.Duration{
	EveryMinute:     time.Minute,
	EveryFiveMin:    5 * time.Minute,
	EveryFifteenMin: 15 * time.Minute,
	Hourly:          time.Hour,
}

// Frequencies lists every supported frequency, shortest first.
func Frequencies() []Frequency {
	return []Frequency{EveryMinute, EveryFiveMin, EveryFifteenMin, Hourly, Daily, Weekly, Monthly}
}

// ParseFrequency validates s.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Frequencies() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// UsesTimeOfDay reports whether the frequency fires at a configured clock
// time rather than at a fixed interval.
func (f Frequency) UsesTimeOfDay() bool {
	_, fixed := intervals[f]
	return !fixed
}

// ParseWeekday accepts English day names, case-insensitively.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return time.Sunday, nil
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// Config is the persisted schedule.
type Config struct {
	Frequency Frequency
	// TimeOfDay is "HH:MM" and only applies to daily, weekly and monthly.
	TimeOfDay string
	// Weekday applies to weekly schedules.
	Weekday time.Weekday
	// DayOfMonth applies to monthly schedules; 1 when unset.
	DayOfMonth int
}

// Validate checks the config without computing a fire time.
func (c Config) Validate() error {
	if _, err := ParseFrequency(string(c.Frequency)); err != nil {
		return err
	}
	if !c.Frequency.UsesTimeOfDay() {
		return nil
	}
	if _, _, err := parseTimeOfDay(c.TimeOfDay); err != nil {
		return err
	}
	if c.Weekday < time.Sunday || c.Weekday > time.Saturday {
		return fmt.Errorf("%w: %d", ErrInvalidWeekday, c.Weekday)
	}
	if c.DayOfMonth < 0 || c.DayOfMonth > 28 {
		return fmt.Errorf("%w: %d (use 1-28 so every month has it)", ErrInvalidDay, c.DayOfMonth)
	}
	return nil
}

// Next returns the first fire time strictly after now.
func (c Config) Next(now time.Time) (time.Time, error) {
	if err := c.Validate(); err != nil {
		return time.Time{}, err
	}
	if d, ok := intervals[c.Frequency]; ok {
		return now.Add(d), nil
	}

	sched, err := cron.ParseStandard(c.cronSpec())
	if err != nil {
		return time.Time{}, fmt.Errorf("build schedule: %w", err)
	}
	return sched.Next(now), nil
}

// cronSpec renders a time-of-day schedule as a standard cron expression.
func (c Config) cronSpec() string {
	hour, minute, _ := parseTimeOfDay(c.TimeOfDay)
	switch c.Frequency {
	case Weekly:
		return fmt.Sprintf("%d %d * * %d", minute, hour, int(c.Weekday))
	case Monthly:
		day := c.DayOfMonth
		if day == 0 {
			day = 1
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, day)
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour)
	}
}

func parseTimeOfDay(s string) (hour, minute int, err error) {
	if s == "" {
		return 0, 0, fmt.Errorf("%w: empty", ErrInvalidTime)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTime, s)
	}
	return t.Hour(), t.Minute(), nil
}
