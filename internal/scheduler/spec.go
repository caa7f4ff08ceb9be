// ABOUTME: Declarative recurrence for one agent: interval or daily wall-clock time
// ABOUTME: Resolves to a cron schedule using the seconds, minutes, hours, daily priority

package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultInterval applies when a Spec sets no field.
const DefaultInterval = 10 * time.Minute

// ErrInvalidSpec indicates a schedule that cannot be turned into a trigger.
var ErrInvalidSpec = errors.New("invalid schedule")

// Spec is an agent's recurrence. The first positive field wins in the order
// EverySeconds, EveryMinutes, EveryHours, DailyAt.
type Spec struct {
	EverySeconds int    `yaml:"every_seconds" toml:"every_seconds" json:"everySeconds,omitempty"`
	EveryMinutes int    `yaml:"every_minutes" toml:"every_minutes" json:"everyMinutes,omitempty"`
	EveryHours   int    `yaml:"every_hours" toml:"every_hours" json:"everyHours,omitempty"`
	DailyAt      string `yaml:"daily_at" toml:"daily_at" json:"dailyAt,omitempty"`
}

// trigger is a resolved Spec.
type trigger struct {
	schedule cron.Schedule
	// interval is zero for daily triggers.
	interval time.Duration
	// expr is the cron expression for daily triggers.
	expr string
}

// Interval returns the effective interval, or zero for a daily trigger.
func (s Spec) Interval() time.Duration {
	switch {
	case s.EverySeconds > 0:
		return time.Duration(s.EverySeconds) * time.Second
	case s.EveryMinutes > 0:
		return time.Duration(s.EveryMinutes) * time.Minute
	case s.EveryHours > 0:
		return time.Duration(s.EveryHours) * time.Hour
	case s.DailyAt != "":
		return 0
	default:
		return DefaultInterval
	}
}

// Validate reports whether the Spec resolves to a trigger.
func (s Spec) Validate() error {
	if s.EverySeconds < 0 || s.EveryMinutes < 0 || s.EveryHours < 0 {
		return fmt.Errorf("%w: negative interval", ErrInvalidSpec)
	}
	_, err := s.resolve()
	return err
}

func (s Spec) resolve() (trigger, error) {
	if d := s.Interval(); d > 0 {
		return trigger{schedule: cron.Every(d), interval: d}, nil
	}

	at, err := time.Parse("15:04", s.DailyAt)
	if err != nil {
		return trigger{}, fmt.Errorf("%w: daily_at %q must be HH:mm", ErrInvalidSpec, s.DailyAt)
	}
	expr := fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour())
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return trigger{}, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}
	return trigger{schedule: sched, expr: expr}, nil
}
