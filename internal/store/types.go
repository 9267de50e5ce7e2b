package store

import (
	"errors"
	"time"

	"etlsched/internal/trigger"
)

// ErrNotFound is returned when a job id is absent. It is an expected
// control-flow outcome, not an internal error.
var ErrNotFound = errors.New("job not found")

// Config selects the persistence backend.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory" (or empty): process-local only, schedules lost on restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Descriptor is the static definition of a job, as loaded from configuration.
type Descriptor struct {
	ID           string
	Func         string // registry reference resolved at fire time
	Kwargs       map[string]any
	Trigger      trigger.Spec
	MisfireGrace time.Duration
	MaxInstances int
	Coalesce     bool
}

// WithDefaults fills the descriptor's policy defaults.
func (d Descriptor) WithDefaults() Descriptor {
	if d.MisfireGrace <= 0 {
		d.MisfireGrace = 60 * time.Second
	}
	if d.MaxInstances <= 0 {
		d.MaxInstances = 1
	}
	return d
}

// ScheduledJob is the runtime instance of a Descriptor inside the store.
// NextFire == nil means the job is paused or exhausted.
type ScheduledJob struct {
	Descriptor

	Schedule trigger.Trigger
	NextFire *time.Time
	Paused   bool
}

// clone returns a copy safe to hand out. Schedule is shared: triggers are
// stateless (the previous fire time is passed in explicitly).
func (j ScheduledJob) clone() ScheduledJob {
	cp := j
	if j.NextFire != nil {
		t := *j.NextFire
		cp.NextFire = &t
	}
	if j.Kwargs != nil {
		kw := make(map[string]any, len(j.Kwargs))
		for k, v := range j.Kwargs {
			kw[k] = v
		}
		cp.Kwargs = kw
	}
	return cp
}

// Record is the persisted form of a ScheduledJob. Kwargs and the trigger
// spec are stored as JSON blobs to keep the table schema stable.
type Record struct {
	ID           string
	Func         string
	KwargsJSON   string
	TriggerJSON  string
	NextFireMS   *int64 // unix milliseconds; nil when paused/exhausted
	Paused       bool
	MisfireMS    int64
	MaxInstances int
	Coalesce     bool
}
