// Package schedule normalizes a domain Trigger into the schedule spec
// understood by the timer engine. The translation is pure: no clock, no
// I/O, same input always yields the same Spec.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/djlord-it/opsched/internal/domain"
)

// ErrInvalidSchedule is returned when a trigger carries neither a retry
// interval nor a parsable cron expression.
var ErrInvalidSchedule = errors.New("schedule: neither interval nor valid cron expression")

type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindOnce     Kind = "once"
)

// Spec is a normalized schedule. Cron expressions are always evaluated
// in UTC, regardless of the caller's timezone.
type Spec struct {
	Kind            Kind
	CronExpr        string
	IntervalSeconds int

	StartsOn time.Time
	EndsOn   *time.Time
}

// parser accepts Quartz-style expressions: an optional seconds field
// and '?' in the day fields.
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate checks that expr is a parsable cron expression.
func Validate(expr string) error {
	_, err := parser.Parse(expr)
	return err
}

// ForTrigger derives the Spec for a trigger. A set retry interval wins
// over a cron expression: "repeat forever every N seconds".
func ForTrigger(t domain.Trigger) (Spec, error) {
	spec := Spec{
		StartsOn: t.StartsOn.UTC(),
	}
	if t.EndsOn != nil {
		end := t.EndsOn.UTC()
		spec.EndsOn = &end
	}

	if t.RetryIntervalSeconds > 0 {
		spec.Kind = KindInterval
		spec.IntervalSeconds = t.RetryIntervalSeconds
		return spec, nil
	}

	if t.CronExpression != "" {
		if err := Validate(t.CronExpression); err != nil {
			return Spec{}, fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
		}
		spec.Kind = KindCron
		spec.CronExpr = t.CronExpression
		return spec, nil
	}

	return Spec{}, ErrInvalidSchedule
}

// Once returns an immediate, non-repeating spec starting at the given time.
func Once(at time.Time) Spec {
	return Spec{Kind: KindOnce, StartsOn: at.UTC()}
}

// Next returns the first fire time strictly after the given instant,
// honoring the start/end bounds. ok is false when the spec can never
// fire again.
func (s Spec) Next(after time.Time) (next time.Time, ok bool) {
	after = after.UTC()

	switch s.Kind {
	case KindOnce:
		if after.Before(s.StartsOn) {
			next = s.StartsOn
		} else {
			return time.Time{}, false
		}

	case KindInterval:
		if s.IntervalSeconds <= 0 {
			return time.Time{}, false
		}
		if after.Before(s.StartsOn) {
			next = s.StartsOn
		} else {
			interval := time.Duration(s.IntervalSeconds) * time.Second
			elapsed := after.Sub(s.StartsOn)
			n := elapsed/interval + 1
			next = s.StartsOn.Add(n * interval)
		}

	case KindCron:
		sched, err := parser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false
		}
		base := after
		if base.Before(s.StartsOn) {
			// Allow a fire exactly at StartsOn; cron Next is strictly after.
			base = s.StartsOn.Add(-time.Nanosecond)
		}
		next = sched.Next(base.In(time.UTC))
		if next.IsZero() {
			return time.Time{}, false
		}

	default:
		return time.Time{}, false
	}

	if s.EndsOn != nil && next.After(*s.EndsOn) {
		return time.Time{}, false
	}
	return next.UTC(), true
}
