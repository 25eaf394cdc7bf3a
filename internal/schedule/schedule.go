// Package schedule computes next-fire times for background loops (heartbeat
// refresh, executive-summary polling), grounded on the teacher's
// internal/cron.Schedule: a parsed robfig/cron expression (or a plain fixed
// interval) reduced to a single Next(now) call. Like the teacher, this
// package never runs a live cron.Cron scheduler daemon — callers drive their
// own timer off the computed next-fire time.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var parser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// Kind distinguishes a fixed interval from a parsed cron expression.
type Kind string

const (
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
)

// Schedule is either a fixed interval or a robfig/cron expression. The zero
// value is invalid; build one with EveryInterval or Parse.
type Schedule struct {
	Kind     Kind
	Every    time.Duration
	CronExpr string
}

// EveryInterval builds a fixed-interval schedule.
func EveryInterval(d time.Duration) Schedule {
	return Schedule{Kind: KindEvery, Every: d}
}

// Parse validates expr as a robfig/cron expression (standard five-field,
// optional leading seconds field, or a @every/@hourly descriptor) and
// returns a schedule that can compute its own next-fire time.
func Parse(expr string) (Schedule, error) {
	if _, err := parser.Parse(expr); err != nil {
		return Schedule{}, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return Schedule{Kind: KindCron, CronExpr: expr}, nil
}

// Next returns the next time the schedule fires after now.
func (s Schedule) Next(now time.Time) (time.Time, error) {
	switch s.Kind {
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}, fmt.Errorf("schedule: every-schedule missing interval")
		}
		return now.Add(s.Every), nil
	case KindCron:
		if s.CronExpr == "" {
			return time.Time{}, fmt.Errorf("schedule: cron-schedule missing expression")
		}
		cronSchedule, err := parser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("schedule: parse cron expression: %w", err)
		}
		return cronSchedule.Next(now), nil
	default:
		return time.Time{}, fmt.Errorf("schedule: unknown kind %q", s.Kind)
	}
}
