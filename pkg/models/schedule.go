package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field cron format
// (minute hour day month weekday).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextExecuteAfter computes the first due time for a timer node schedule,
// relative to now. All anchor arithmetic runs in server local time; there
// is no timezone conversion layer.
func (c *TimerConfig) NextExecuteAfter(now time.Time) (time.Time, error) {
	if c.Cron != "" {
		schedule, err := cronParser.Parse(c.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidTimer, err)
		}

		return schedule.Next(now), nil
	}

	value := c.Value
	if value < 1 {
		value = 1
	}

	switch c.Unit {
	case IntervalMinute:
		if c.Second == nil {
			return now.Add(time.Duration(value) * time.Minute), nil
		}

		// Anchor on the requested second of the current minute.
		next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), now.Minute(), *c.Second, 0, now.Location())
		if !next.After(now) {
			next = next.Add(time.Duration(value) * time.Minute)
		}

		return next, nil

	case IntervalHour:
		minute, second := 0, 0
		if c.Minute != nil {
			minute = *c.Minute
		}

		if c.Second != nil {
			second = *c.Second
		}

		next := time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, second, 0, now.Location())
		if !next.After(now) {
			next = next.Add(time.Duration(value) * time.Hour)
		}

		return next, nil

	case IntervalDay, IntervalWeek, IntervalMonth:
		hour, minute := 0, 0
		if c.Hour != nil {
			hour = *c.Hour
		}

		if c.Minute != nil {
			minute = *c.Minute
		}

		next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !next.After(now) {
			// Anchor already elapsed today, advance by the interval.
			next = Interval{Value: value, Unit: c.Unit}.Advance(next)
		}

		return next, nil
	}

	return time.Time{}, fmt.Errorf("%w: unsupported unit %q", ErrInvalidTimer, c.Unit)
}

// RecurrenceInterval returns the recurrence step for this schedule, or nil
// for one-shot and cron-driven timers.
func (c *TimerConfig) RecurrenceInterval() *Interval {
	if c.Cron != "" || c.Unit == "" {
		return nil
	}

	value := c.Value
	if value < 1 {
		value = 1
	}

	return &Interval{Value: value, Unit: c.Unit}
}

// NextCron computes the next due time after now for a cron-driven timer.
func NextCron(expression string, now time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidTimer, err)
	}

	return schedule.Next(now), nil
}

// Validate checks the schedule configuration without computing anything.
func (c *TimerConfig) Validate() error {
	if c.Cron != "" {
		_, err := cronParser.Parse(c.Cron)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTimer, err)
		}

		return nil
	}

	switch c.Unit {
	case IntervalMinute, IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
		return nil
	}

	return fmt.Errorf("%w: unsupported unit %q", ErrInvalidTimer, c.Unit)
}
