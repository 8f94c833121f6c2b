package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/b2backup/internal/config"
	"github.com/kebairia/b2backup/internal/scheduler"
)

var (
	scheduleFrequency string
	scheduleTime      string
	scheduleWeekday   string
	scheduleDay       int
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show or change when the daemon runs backups",
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the schedule and the next run time",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.LoadForEdit(ConfigFile); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !cfg.Schedule.Enabled {
			fmt.Fprintln(out, "scheduled backups: disabled")
			return nil
		}
		sc, err := cfg.ScheduleConfig()
		if err != nil {
			return err
		}
		next, err := sc.Next(time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "scheduled backups: %s\n", describeSchedule(sc))
		fmt.Fprintf(out, "next run: %s\n", next.Format(time.RFC1123))
		return nil
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Enable scheduled backups",
	Example: `  b2backup schedule set --frequency 15min
  b2backup schedule set --frequency daily --time 02:30
  b2backup schedule set --frequency weekly --time 08:00 --weekday monday
  b2backup schedule set --frequency monthly --time 03:00 --day 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		freq, err := scheduler.ParseFrequency(scheduleFrequency)
		if err != nil {
			return err
		}
		day, err := scheduler.ParseWeekday(scheduleWeekday)
		if err != nil {
			return err
		}
		sc := scheduler.Config{
			Frequency:  freq,
			TimeOfDay:  scheduleTime,
			Weekday:    day,
			DayOfMonth: scheduleDay,
		}

		var cfg config.Config
		if err := cfg.LoadForEdit(ConfigFile); err != nil {
			return err
		}
		if err := cfg.SetSchedule(sc); err != nil {
			return err
		}
		if err := cfg.Save(ConfigFile); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scheduled backups: %s (restart the daemon to apply)\n", describeSchedule(sc))
		return nil
	},
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable scheduled backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.LoadForEdit(ConfigFile); err != nil {
			return err
		}
		cfg.Schedule.Enabled = false
		if err := cfg.Save(ConfigFile); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "scheduled backups: disabled")
		return nil
	},
}

func describeSchedule(sc scheduler.Config) string {
	switch sc.Frequency {
	case scheduler.Daily:
		return fmt.Sprintf("daily at %s", sc.TimeOfDay)
	case scheduler.Weekly:
		return fmt.Sprintf("every %s at %s", sc.Weekday, sc.TimeOfDay)
	case scheduler.Monthly:
		day := max(sc.DayOfMonth, 1)
		return fmt.Sprintf("monthly on day %d at %s", day, sc.TimeOfDay)
	default:
		return "every " + string(sc.Frequency)
	}
}

func init() {
	f := scheduleSetCmd.Flags()
	f.StringVarP(&scheduleFrequency, "frequency", "f", "daily", "1min, 5min, 15min, hourly, daily, weekly or monthly")
	f.StringVarP(&scheduleTime, "time", "t", "02:00", "time of day (HH:MM) for daily, weekly and monthly")
	f.StringVar(&scheduleWeekday, "weekday", "sunday", "day of the week for weekly backups")
	f.IntVar(&scheduleDay, "day", 1, "day of the month (1-28) for monthly backups")

	scheduleCmd.AddCommand(scheduleShowCmd, scheduleSetCmd, scheduleDisableCmd)
}
