package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestMonitorCounters(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, nil)
	sched := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted, ScheduledAt: sched})
	m.HandleEvent(Event{JobID: "j1", Kind: EventSuccess, ScheduledAt: sched, Value: "42 rows"})
	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted, ScheduledAt: sched.Add(time.Minute)})
	m.HandleEvent(Event{JobID: "j1", Kind: EventError, ScheduledAt: sched.Add(time.Minute), Err: errors.New("boom")})
	m.HandleEvent(Event{JobID: "j1", Kind: EventMissed, ScheduledAt: sched.Add(2 * time.Minute)})

	st := m.Snapshot("j1")
	if st.TotalRuns != 2 || st.TotalSuccess != 1 || st.TotalError != 1 || st.TotalMissed != 1 {
		t.Errorf("counters = runs:%d ok:%d err:%d missed:%d",
			st.TotalRuns, st.TotalSuccess, st.TotalError, st.TotalMissed)
	}
	if st.LastEvent != EventMissed {
		t.Errorf("LastEvent = %s", st.LastEvent)
	}
	if len(st.History) != 5 {
		t.Errorf("history len = %d, want 5", len(st.History))
	}
}

func TestMonitorSuccessClearsLastError(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, nil)
	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted})
	m.HandleEvent(Event{JobID: "j1", Kind: EventError, Err: errors.New("transient")})
	if st := m.Snapshot("j1"); st.LastError == nil {
		t.Fatal("LastError not set after error event")
	}

	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted})
	m.HandleEvent(Event{JobID: "j1", Kind: EventSuccess})
	if st := m.Snapshot("j1"); st.LastError != nil {
		t.Errorf("LastError = %q after success, want nil", *st.LastError)
	}
}

func TestMonitorMissedHasNoDuration(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, nil)
	sched := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m.HandleEvent(Event{JobID: "j1", Kind: EventMissed, ScheduledAt: sched})

	st := m.Snapshot("j1")
	if st.LastDurationMS != nil {
		t.Errorf("LastDurationMS = %v, want nil", *st.LastDurationMS)
	}
	if st.LastError == nil || !strings.Contains(*st.LastError, sched.Format(time.RFC3339)) {
		t.Errorf("LastError = %v, want missed message with the scheduled time", st.LastError)
	}
}

func TestMonitorHistoryBounded(t *testing.T) {
	t.Parallel()

	m := NewMonitor(10, nil)
	for i := 0; i < 35; i++ {
		m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted})
		m.HandleEvent(Event{JobID: "j1", Kind: EventSuccess})
	}

	st := m.Snapshot("j1")
	if len(st.History) != 10 {
		t.Errorf("history len = %d, want 10", len(st.History))
	}
	// Counters keep the full totals even though history is trimmed.
	if st.TotalRuns != 35 || st.TotalSuccess != 35 {
		t.Errorf("totals = %d/%d, want 35/35", st.TotalRuns, st.TotalSuccess)
	}
	// The newest record survives trimming.
	if st.History[len(st.History)-1].Event != EventSuccess {
		t.Errorf("last record = %s", st.History[len(st.History)-1].Event)
	}
}

func TestMonitorSnapshotIsCopy(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, nil)
	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted})
	m.HandleEvent(Event{JobID: "j1", Kind: EventError, Err: errors.New("boom")})

	st := m.Snapshot("j1")
	*st.LastError = "mutated"
	st.History[0] = JobRunRecord{}

	again := m.Snapshot("j1")
	if *again.LastError == "mutated" {
		t.Error("snapshot shares LastError pointer with internal state")
	}
	if again.History[0].Event != EventSubmitted {
		t.Error("snapshot shares history backing array with internal state")
	}
}

func TestMonitorUnknownJobDefaults(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, nil)
	st := m.Snapshot("never-fired")
	if st.TotalRuns != 0 || st.History == nil || len(st.History) != 0 {
		t.Errorf("unknown job stats = %+v", st)
	}
}

func TestMonitorCallbackPanicSwallowed(t *testing.T) {
	t.Parallel()

	m := NewMonitor(0, func(Payload) { panic("subscriber bug") })
	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted})
	m.HandleEvent(Event{JobID: "j1", Kind: EventSuccess})

	st := m.Snapshot("j1")
	if st.TotalRuns != 1 || st.TotalSuccess != 1 {
		t.Errorf("callback panic corrupted stats: %+v", st)
	}
}

func TestMonitorCallbackPayload(t *testing.T) {
	t.Parallel()

	var got []Payload
	m := NewMonitor(0, func(p Payload) { got = append(got, p) })

	sched := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	m.HandleEvent(Event{JobID: "j1", Kind: EventSubmitted, ScheduledAt: sched})
	m.HandleEvent(Event{JobID: "j1", Kind: EventSuccess, ScheduledAt: sched, Value: "done"})

	if len(got) != 2 {
		t.Fatalf("callback invoked %d times, want 2", len(got))
	}
	p := got[1]
	if p.Type != "event" || p.JobID != "j1" || p.Event != EventSuccess {
		t.Errorf("payload = %+v", p)
	}
	if p.Message == nil || *p.Message != "done" {
		t.Errorf("payload message = %v", p.Message)
	}
	if p.Stats.TotalSuccess != 1 {
		t.Errorf("payload stats = %+v", p.Stats)
	}
}

type timeoutError struct{ op string }

func (e *timeoutError) Error() string { return e.op + " timed out" }

func TestFormatError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"untyped errors.New", errors.New("plain failure"), "plain failure"},
		{"wrapped fmt.Errorf", fmt.Errorf("ctx: %w", errors.New("inner")), "ctx: inner"},
		{"named type", &timeoutError{op: "fetch"}, "timeoutError: fetch timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatError(tt.err); got != tt.want {
				t.Errorf("FormatError = %q, want %q", got, tt.want)
			}
		})
	}
}
