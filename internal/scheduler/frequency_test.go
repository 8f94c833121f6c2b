package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrequency(t *testing.T) {
	for _, f := range Frequencies() {
		got, err := ParseFrequency(string(f))
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}

	got, err := ParseFrequency(" Daily ")
	require.NoError(t, err)
	assert.Equal(t, Daily, got)

	_, err = ParseFrequency("fortnightly")
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestParseWeekday(t *testing.T) {
	cases := map[string]time.Weekday{
		"":          time.Sunday,
		"monday":    time.Monday,
		"Wed":       time.Wednesday,
		" SATURDAY": time.Saturday,
	}
	for in, want := range cases {
		got, err := ParseWeekday(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseWeekday("someday")
	assert.ErrorIs(t, err, ErrInvalidWeekday)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"interval ignores time", Config{Frequency: EveryFiveMin}, nil},
		{"daily", Config{Frequency: Daily, TimeOfDay: "02:30"}, nil},
		{"daily single digit hour", Config{Frequency: Daily, TimeOfDay: "2:30"}, nil},
		{"daily missing time", Config{Frequency: Daily}, ErrInvalidTime},
		{"daily bad time", Config{Frequency: Daily, TimeOfDay: "25:00"}, ErrInvalidTime},
		{"weekly bad day", Config{Frequency: Weekly, TimeOfDay: "10:00", Weekday: 9}, ErrInvalidWeekday},
		{"monthly day 29", Config{Frequency: Monthly, TimeOfDay: "10:00", DayOfMonth: 29}, ErrInvalidDay},
		{"monthly day 28", Config{Frequency: Monthly, TimeOfDay: "10:00", DayOfMonth: 28}, nil},
		{"unknown frequency", Config{Frequency: "yearly"}, ErrInvalidFrequency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigNext(t *testing.T) {
	// Wednesday 2024-05-15 10:17:42 UTC.
	now := time.Date(2024, time.May, 15, 10, 17, 42, 0, time.UTC)

	tests := []struct {
		name string
		cfg  Config
		want time.Time
	}{
		{"every minute", Config{Frequency: EveryMinute}, now.Add(time.Minute)},
		{"every 15 minutes", Config{Frequency: EveryFifteenMin}, now.Add(15 * time.Minute)},
		{"hourly", Config{Frequency: Hourly}, now.Add(time.Hour)},
		{
			"daily later today",
			Config{Frequency: Daily, TimeOfDay: "23:00"},
			time.Date(2024, time.May, 15, 23, 0, 0, 0, time.UTC),
		},
		{
			"daily already passed",
			Config{Frequency: Daily, TimeOfDay: "02:00"},
			time.Date(2024, time.May, 16, 2, 0, 0, 0, time.UTC),
		},
		{
			"weekly next monday",
			Config{Frequency: Weekly, TimeOfDay: "08:30", Weekday: time.Monday},
			time.Date(2024, time.May, 20, 8, 30, 0, 0, time.UTC),
		},
		{
			"monthly next month",
			Config{Frequency: Monthly, TimeOfDay: "03:00", DayOfMonth: 1},
			time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC),
		},
		{
			"monthly unset day means first",
			Config{Frequency: Monthly, TimeOfDay: "03:00"},
			time.Date(2024, time.June, 1, 3, 0, 0, 0, time.UTC),
		},
		{
			"monthly later this month",
			Config{Frequency: Monthly, TimeOfDay: "03:00", DayOfMonth: 28},
			time.Date(2024, time.May, 28, 3, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cfg.Next(now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(now))
		})
	}
}

func TestConfigNext_ExactlyAtFireTime(t *testing.T) {
	at := time.Date(2024, time.May, 15, 2, 0, 0, 0, time.UTC)
	got, err := Config{Frequency: Daily, TimeOfDay: "02:00"}.Next(at)
	require.NoError(t, err)
	assert.Equal(t, at.Add(24*time.Hour), got)
}
