package trigger

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind selects the trigger variant in a Spec.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindDate     Kind = "date"
)

// Spec is the declarative trigger definition attached to a job descriptor.
// Exactly one variant's fields are meaningful, selected by Kind.
//
// Cron fields follow the usual syntax per field: "*", a value ("30"),
// a list ("0,30"), a range ("9-17"), or a step ("*/5"). Empty fields
// default to "*".
type Spec struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Cron.
	Second    string `json:"second,omitempty" yaml:"second,omitempty"`
	Minute    string `json:"minute,omitempty" yaml:"minute,omitempty"`
	Hour      string `json:"hour,omitempty" yaml:"hour,omitempty"`
	Day       string `json:"day,omitempty" yaml:"day,omitempty"`
	Month     string `json:"month,omitempty" yaml:"month,omitempty"`
	DayOfWeek string `json:"day_of_week,omitempty" yaml:"day_of_week,omitempty"`

	// Interval. The effective period is the sum of all four fields.
	Days    int `json:"days,omitempty" yaml:"days,omitempty"`
	Hours   int `json:"hours,omitempty" yaml:"hours,omitempty"`
	Minutes int `json:"minutes,omitempty" yaml:"minutes,omitempty"`
	Seconds int `json:"seconds,omitempty" yaml:"seconds,omitempty"`

	// Date.
	RunAt time.Time `json:"run_at,omitempty" yaml:"run_at,omitempty"`

	// IANA timezone name; empty means UTC.
	Timezone string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Trigger computes fire times for one job.
type Trigger interface {
	// Next returns the next fire time strictly after max(prev, now).
	// prev is the previous fire time (zero if the job has never fired).
	// ok=false means the trigger is exhausted and the job will never
	// fire again.
	//
	// Recurring triggers never return a time in the past: overdue fire
	// times are skipped forward until non-past. A date trigger returns
	// its RunAt exactly once, even when RunAt has already elapsed.
	Next(prev, now time.Time) (t time.Time, ok bool)

	Kind() Kind
	Location() *time.Location
}

// cronParser accepts six-field specs (with seconds).
var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates a Spec and builds the corresponding Trigger.
func Parse(spec Spec) (Trigger, error) {
	loc := time.UTC
	if tz := strings.TrimSpace(spec.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("trigger: bad timezone %q: %w", tz, err)
		}
		loc = l
	}

	switch spec.Kind {
	case KindCron:
		expr := strings.Join([]string{
			defaultField(spec.Second),
			defaultField(spec.Minute),
			defaultField(spec.Hour),
			defaultField(spec.Day),
			defaultField(spec.Month),
			defaultField(spec.DayOfWeek),
		}, " ")
		sched, err := cronParser.Parse(expr)
		if err != nil {
			return nil, fmt.Errorf("trigger: bad cron fields %q: %w", expr, err)
		}
		return &cronTrigger{sched: sched, expr: expr, loc: loc}, nil

	case KindInterval:
		d := time.Duration(spec.Days)*24*time.Hour +
			time.Duration(spec.Hours)*time.Hour +
			time.Duration(spec.Minutes)*time.Minute +
			time.Duration(spec.Seconds)*time.Second
		if d <= 0 {
			return nil, errors.New("trigger: interval must be positive")
		}
		return &intervalTrigger{every: d, loc: loc}, nil

	case KindDate:
		if spec.RunAt.IsZero() {
			return nil, errors.New("trigger: date trigger requires run_at")
		}
		return &dateTrigger{at: spec.RunAt.In(loc), loc: loc}, nil

	default:
		return nil, fmt.Errorf("trigger: unsupported kind %q", spec.Kind)
	}
}

func defaultField(f string) string {
	f = strings.TrimSpace(f)
	if f == "" {
		return "*"
	}
	return f
}

// Date returns a Spec firing once at the given instant (UTC).
func Date(at time.Time) Spec {
	return Spec{Kind: KindDate, RunAt: at.UTC()}
}

// Every returns an interval Spec with the given period.
func Every(d time.Duration) Spec {
	return Spec{Kind: KindInterval, Seconds: int(d / time.Second)}
}

type cronTrigger struct {
	sched cron.Schedule
	expr  string
	loc   *time.Location
}

func (t *cronTrigger) Kind() Kind               { return KindCron }
func (t *cronTrigger) Location() *time.Location { return t.loc }
func (t *cronTrigger) String() string           { return "cron(" + t.expr + ")" }

func (t *cronTrigger) Next(prev, now time.Time) (time.Time, bool) {
	base := prev
	if now.After(base) {
		base = now
	}
	next := t.sched.Next(base.In(t.loc))
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

type intervalTrigger struct {
	every time.Duration
	loc   *time.Location
}

func (t *intervalTrigger) Kind() Kind               { return KindInterval }
func (t *intervalTrigger) Location() *time.Location { return t.loc }
func (t *intervalTrigger) String() string           { return "interval(" + t.every.String() + ")" }

func (t *intervalTrigger) Next(prev, now time.Time) (time.Time, bool) {
	if prev.IsZero() {
		return now.In(t.loc).Add(t.every), true
	}
	next := prev.In(t.loc).Add(t.every)
	// Catch-up skip: collapse missed periods instead of replaying them.
	if !next.After(now) {
		steps := int64(now.Sub(next)/t.every) + 1
		next = next.Add(time.Duration(steps) * t.every)
	}
	return next, true
}

type dateTrigger struct {
	at  time.Time
	loc *time.Location
}

func (t *dateTrigger) Kind() Kind               { return KindDate }
func (t *dateTrigger) Location() *time.Location { return t.loc }
func (t *dateTrigger) String() string           { return "date(" + t.at.Format(time.RFC3339) + ")" }

func (t *dateTrigger) Next(prev, now time.Time) (time.Time, bool) {
	if !prev.IsZero() {
		// One-shot: already consumed.
		return time.Time{}, false
	}
	return t.at, true
}
