package scheduler

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

// DefaultHistorySize bounds the per-job run history ring.
const DefaultHistorySize = 50

// JobRunRecord is an immutable point-in-time view of one lifecycle event.
type JobRunRecord struct {
	Event       EventKind  `json:"event"`
	RecordedAt  time.Time  `json:"recorded_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DurationMS  *float64   `json:"duration_ms,omitempty"`
	Message     *string    `json:"message,omitempty"`
}

// JobStats aggregates execution metrics for one job id.
//
// total_runs counts submissions; success+error+missed may lag behind it
// while executions are in flight.
type JobStats struct {
	TotalRuns       int            `json:"total_runs"`
	TotalSuccess    int            `json:"total_success"`
	TotalError      int            `json:"total_error"`
	TotalMissed     int            `json:"total_missed"`
	LastEvent       EventKind      `json:"last_event,omitempty"`
	LastScheduledAt *time.Time     `json:"last_scheduled_at,omitempty"`
	LastStartedAt   *time.Time     `json:"last_started_at,omitempty"`
	LastFinishedAt  *time.Time     `json:"last_finished_at,omitempty"`
	LastDurationMS  *float64       `json:"last_duration_ms,omitempty"`
	LastError       *string        `json:"last_error,omitempty"`
	History         []JobRunRecord `json:"history"`
}

// Payload is the normalized event document pushed to subscribers after
// every monitor update.
type Payload struct {
	Type        string     `json:"type"`
	JobID       string     `json:"job_id"`
	Event       EventKind  `json:"event"`
	RecordedAt  time.Time  `json:"recorded_at"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DurationMS  *float64   `json:"duration_ms,omitempty"`
	Message     *string    `json:"message,omitempty"`
	Stats       JobStats   `json:"stats"`
}

// Monitor consumes Core events and maintains bounded per-job statistics.
// Stats entries are created lazily on first event and live for the
// process lifetime; they are keyed independently of the job store, so a
// reloaded job keeps its accumulated numbers.
type Monitor struct {
	mu          sync.Mutex
	stats       map[string]*JobStats
	inflight    map[string]time.Time
	historySize int
	onEvent     func(Payload)
}

// NewMonitor builds a monitor. onEvent may be nil; when set it is invoked
// after every update, and its failures are swallowed so they can never
// break stats bookkeeping.
func NewMonitor(historySize int, onEvent func(Payload)) *Monitor {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Monitor{
		stats:       make(map[string]*JobStats),
		inflight:    make(map[string]time.Time),
		historySize: historySize,
		onEvent:     onEvent,
	}
}

// HandleEvent is the single entry point for Core events. Safe under
// concurrent invocation.
func (m *Monitor) HandleEvent(e Event) {
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stats[e.JobID]
	if !ok {
		st = &JobStats{History: make([]JobRunRecord, 0, m.historySize)}
		m.stats[e.JobID] = st
	}

	var rec JobRunRecord
	switch e.Kind {
	case EventSubmitted:
		st.TotalRuns++
		st.LastEvent = EventSubmitted
		st.LastScheduledAt = timePtr(e.ScheduledAt)
		st.LastStartedAt = &now
		rec = JobRunRecord{Event: EventSubmitted, RecordedAt: now, ScheduledAt: st.LastScheduledAt}
		// Last submission wins for duration calculation; a known
		// approximation when submissions overlap.
		m.inflight[e.JobID] = now

	case EventSuccess:
		st.TotalSuccess++
		st.LastEvent = EventSuccess
		start := m.popInflight(e.JobID, st)
		st.LastFinishedAt = &now
		st.LastDurationMS = durationMS(start, now)
		st.LastError = nil
		rec = JobRunRecord{
			Event:       EventSuccess,
			RecordedAt:  now,
			ScheduledAt: timePtr(e.ScheduledAt),
			DurationMS:  st.LastDurationMS,
			Message:     formatValue(e.Value),
		}

	case EventError:
		st.TotalError++
		st.LastEvent = EventError
		start := m.popInflight(e.JobID, st)
		st.LastFinishedAt = &now
		st.LastDurationMS = durationMS(start, now)
		msg := FormatError(e.Err)
		st.LastError = &msg
		rec = JobRunRecord{
			Event:       EventError,
			RecordedAt:  now,
			ScheduledAt: timePtr(e.ScheduledAt),
			DurationMS:  st.LastDurationMS,
			Message:     &msg,
		}

	case EventMissed:
		st.TotalMissed++
		st.LastEvent = EventMissed
		st.LastFinishedAt = &now
		st.LastDurationMS = nil
		msg := fmt.Sprintf("missed run scheduled for %s", e.ScheduledAt.Format(time.RFC3339))
		st.LastError = &msg
		rec = JobRunRecord{
			Event:       EventMissed,
			RecordedAt:  now,
			ScheduledAt: timePtr(e.ScheduledAt),
			Message:     &msg,
		}

	default:
		return
	}

	st.History = append(st.History, rec)
	if len(st.History) > m.historySize {
		st.History = st.History[len(st.History)-m.historySize:]
	}

	m.emitLocked(e.JobID, st, rec)
}

// Snapshot returns a deep copy of one job's stats, or zeroed defaults if
// the job has never been observed.
func (m *Monitor) Snapshot(jobID string) JobStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stats[jobID]
	if !ok {
		return JobStats{History: []JobRunRecord{}}
	}
	return copyStats(st)
}

// SnapshotAll returns deep copies of every observed job's stats.
func (m *Monitor) SnapshotAll() map[string]JobStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]JobStats, len(m.stats))
	for id, st := range m.stats {
		out[id] = copyStats(st)
	}
	return out
}

// DefaultStats is the zero-value structure for jobs that have not fired
// yet, so they render cleanly in listings.
func (m *Monitor) DefaultStats() JobStats {
	return JobStats{History: []JobRunRecord{}}
}

func (m *Monitor) popInflight(jobID string, st *JobStats) *time.Time {
	if start, ok := m.inflight[jobID]; ok {
		delete(m.inflight, jobID)
		return &start
	}
	return st.LastStartedAt
}

func (m *Monitor) emitLocked(jobID string, st *JobStats, rec JobRunRecord) {
	if m.onEvent == nil {
		return
	}
	payload := Payload{
		Type:        "event",
		JobID:       jobID,
		Event:       rec.Event,
		RecordedAt:  rec.RecordedAt,
		ScheduledAt: rec.ScheduledAt,
		DurationMS:  rec.DurationMS,
		Message:     rec.Message,
		Stats:       copyStats(st),
	}
	// Listener failures must never break monitor bookkeeping.
	defer func() { _ = recover() }()
	m.onEvent(payload)
}

func copyStats(st *JobStats) JobStats {
	cp := *st
	cp.History = make([]JobRunRecord, len(st.History))
	copy(cp.History, st.History)
	cp.LastScheduledAt = copyTime(st.LastScheduledAt)
	cp.LastStartedAt = copyTime(st.LastStartedAt)
	cp.LastFinishedAt = copyTime(st.LastFinishedAt)
	cp.LastDurationMS = copyFloat(st.LastDurationMS)
	cp.LastError = copyString(st.LastError)
	return cp
}

// FormatError renders an error as "{TypeName}: {message}" for typed errors.
// Untyped errors (errors.New, fmt.Errorf) carry no useful type name, so
// their message stands alone.
func FormatError(err error) string {
	if err == nil {
		return ""
	}
	name := errTypeName(err)
	if name == "" {
		return err.Error()
	}
	return name + ": " + err.Error()
}

func errTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	name := t.Name()
	// Stdlib wrapper types are implementation detail, not taxonomy.
	if name == "" || strings.HasPrefix(t.PkgPath(), "errors") || t.PkgPath() == "fmt" {
		return ""
	}
	return name
}

func formatValue(v any) *string {
	if v == nil {
		return nil
	}
	s := fmt.Sprint(v)
	return &s
}

func durationMS(start *time.Time, end time.Time) *float64 {
	if start == nil {
		return nil
	}
	ms := float64(end.Sub(*start)) / float64(time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return &ms
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	cp := t
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	cp := *f
	return &cp
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}
