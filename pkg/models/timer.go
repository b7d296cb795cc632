package models

import (
	"errors"
	"reflect"
	"time"
)

// Interval is the recurrence step of a recurring timer.
type Interval struct {
	Value int          `json:"value" validate:"required,min=1"`
	Unit  IntervalUnit `json:"unit"  validate:"required,oneof=minute hour day week month"`
}

// Advance returns t moved forward by one interval step. Month arithmetic
// uses calendar months, not a fixed day count.
func (i Interval) Advance(t time.Time) time.Time {
	switch i.Unit {
	case IntervalMinute:
		return t.Add(time.Duration(i.Value) * time.Minute)
	case IntervalHour:
		return t.Add(time.Duration(i.Value) * time.Hour)
	case IntervalDay:
		return t.AddDate(0, 0, i.Value)
	case IntervalWeek:
		return t.AddDate(0, 0, 7*i.Value)
	case IntervalMonth:
		return t.AddDate(0, i.Value, 0)
	default:
		return t
	}
}

// WorkflowTimer is a persisted due-date record representing one pending or
// recurring time-based trigger. At most one timer exists per
// (DomainID, WorkflowID, NodeID).
type WorkflowTimer struct {
	DomainID   string `json:"domain_id"   validate:"required"`
	WorkflowID string `json:"workflow_id" validate:"required"`
	NodeID     int    `json:"node_id"`

	ExecuteAfter time.Time `json:"execute_after"`

	// Interval, when set, makes the timer recurring: the claim loop
	// re-inserts an advanced copy immediately after claiming it.
	Interval *Interval `json:"interval,omitempty"`

	// CronExpression, when set, drives recurrence instead of Interval.
	CronExpression string `json:"cron_expression,omitempty"`

	TriggerData map[string]any `json:"trigger_data,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsDue reports whether the timer should fire at the given instant.
func (t *WorkflowTimer) IsDue(now time.Time) bool {
	return t.ExecuteAfter.Before(now)
}

// SameSchedule reports whether the other timer carries an identical
// recurrence and trigger payload. Used by the idempotent registration path
// to skip re-scheduling unchanged nodes.
func (t *WorkflowTimer) SameSchedule(other *WorkflowTimer) bool {
	if (t.Interval == nil) != (other.Interval == nil) {
		return false
	}

	if t.Interval != nil && *t.Interval != *other.Interval {
		return false
	}

	if t.CronExpression != other.CronExpression {
		return false
	}

	if len(t.TriggerData) != len(other.TriggerData) {
		return false
	}

	if len(t.TriggerData) == 0 {
		return true
	}

	return reflect.DeepEqual(t.TriggerData, other.TriggerData)
}

var (
	// ErrInvalidTimer is returned when a timer node has no usable schedule
	// configuration.
	ErrInvalidTimer = errors.New("invalid timer configuration")
)
