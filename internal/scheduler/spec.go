package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrScheduleConfig is matched by every ScheduleConfigError.
var ErrScheduleConfig = errors.New("invalid schedule configuration")

// ScheduleConfigError reports a cron expression or timezone that cannot be
// used. It is a deployment defect and should stop the process at startup.
type ScheduleConfigError struct {
	Name       string
	Expression string
	Timezone   string
	Err        error
}

func (e *ScheduleConfigError) Error() string {
	return fmt.Sprintf("schedule %q (%q in %q): %v", e.Name, e.Expression, e.Timezone, e.Err)
}

func (e *ScheduleConfigError) Unwrap() []error {
	return []error{ErrScheduleConfig, e.Err}
}

// secondsParser accepts exactly six fields, seconds first.
var secondsParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Spec is a validated schedule: a six-field cron expression bound to a zone.
type Spec struct {
	Name       string
	Expression string
	Location   *time.Location
	schedule   cron.Schedule
}

// ParseSpec validates expr and timezone and returns the parsed schedule.
func ParseSpec(name, expr, timezone string) (Spec, error) {
	fail := func(err error) (Spec, error) {
		return Spec{}, &ScheduleConfigError{Name: name, Expression: expr, Timezone: timezone, Err: err}
	}

	if strings.TrimSpace(name) == "" {
		return fail(errors.New("name is required"))
	}
	if strings.TrimSpace(timezone) == "" {
		return fail(errors.New("timezone is required"))
	}
	if strings.HasPrefix(strings.TrimSpace(expr), "CRON_TZ=") || strings.HasPrefix(strings.TrimSpace(expr), "TZ=") {
		return fail(errors.New("timezone must be configured separately, not inside the expression"))
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fail(fmt.Errorf("unknown timezone: %w", err))
	}

	sched, err := secondsParser.Parse(expr)
	if err != nil {
		return fail(fmt.Errorf("invalid cron expression: %w", err))
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}

	return Spec{
		Name:       name,
		Expression: expr,
		Location:   loc,
		schedule:   sched,
	}, nil
}

// Next returns the first fire time strictly after t, in the spec's zone.
func (s Spec) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.Location))
}

// Schedule exposes the parsed schedule to the cron runner.
func (s Spec) Schedule() cron.Schedule {
	return s.schedule
}

// String renders the spec for logs.
func (s Spec) String() string {
	return fmt.Sprintf("%s [%s %s]", s.Name, s.Expression, s.Location)
}
