package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"etlsched/internal/trigger"
	"etlsched/pkg/logx"
)

func testJob(t *testing.T, id string, next time.Time) ScheduledJob {
	t.Helper()
	spec := trigger.Every(time.Minute)
	trig, err := trigger.Parse(spec)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	j := ScheduledJob{
		Descriptor: Descriptor{
			ID:      id,
			Func:    "jobs.heartbeat",
			Kwargs:  map[string]any{"n": float64(1)},
			Trigger: spec,
		}.WithDefaults(),
		Schedule: trig,
	}
	if !next.IsZero() {
		j.NextFire = &next
	}
	return j
}

func TestStoreAddGetRemove(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	next := time.Now().UTC().Add(time.Minute)
	if err := st.Add(ctx, testJob(t, "j1", next), false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := st.Add(ctx, testJob(t, "j1", next), false); err == nil {
		t.Fatal("duplicate Add without replace succeeded")
	}
	if err := st.Add(ctx, testJob(t, "j1", next), true); err != nil {
		t.Fatalf("Add replace: %v", err)
	}

	got, err := st.Get("j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Func != "jobs.heartbeat" || got.NextFire == nil || !got.NextFire.Equal(next) {
		t.Errorf("Get = %+v", got)
	}

	if _, err := st.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(nope) err = %v, want ErrNotFound", err)
	}

	st.Remove(ctx, "j1")
	st.Remove(ctx, "j1") // absent id is a no-op
	if st.Len() != 0 {
		t.Errorf("Len = %d after remove", st.Len())
	}
}

func TestStoreListSorted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	next := time.Now().UTC()
	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := st.Add(ctx, testJob(t, id, next), false); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}

	got := st.List()
	want := []string{"alpha", "bravo", "charlie"}
	if len(got) != len(want) {
		t.Fatalf("List len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("List[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestStorePauseResume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	next := time.Now().UTC().Add(time.Minute)
	if err := st.Add(ctx, testJob(t, "j1", next), false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := st.Pause(ctx, "j1"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	got, _ := st.Get("j1")
	if !got.Paused || got.NextFire != nil {
		t.Errorf("after Pause: paused=%v next=%v", got.Paused, got.NextFire)
	}

	// Pausing again must not change anything.
	if err := st.Pause(ctx, "j1"); err != nil {
		t.Fatalf("second Pause: %v", err)
	}

	resumeAt := next.Add(time.Hour)
	if err := st.Resume(ctx, "j1", resumeAt); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	got, _ = st.Get("j1")
	if got.Paused || got.NextFire == nil || !got.NextFire.Equal(resumeAt) {
		t.Errorf("after Resume: paused=%v next=%v", got.Paused, got.NextFire)
	}

	if err := st.Pause(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pause(ghost) err = %v", err)
	}
}

func TestStoreNextDue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	mustAdd := func(id string, next time.Time) {
		t.Helper()
		if err := st.Add(ctx, testJob(t, id, next), false); err != nil {
			t.Fatalf("Add(%s): %v", id, err)
		}
	}
	mustAdd("late", base.Add(10*time.Minute))
	mustAdd("soon", base.Add(time.Minute))
	mustAdd("paused", base.Add(time.Second))
	if err := st.Pause(ctx, "paused"); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	got, ok := st.NextDue(nil)
	if !ok || got.ID != "soon" {
		t.Errorf("NextDue = %v, %v; want soon", got.ID, ok)
	}

	got, ok = st.NextDue(map[string]bool{"soon": true})
	if !ok || got.ID != "late" {
		t.Errorf("NextDue(exclude soon) = %v, %v; want late", got.ID, ok)
	}

	got, ok = st.NextDue(map[string]bool{"soon": true, "late": true})
	if ok {
		t.Errorf("NextDue with everything excluded = %v, true", got.ID)
	}
}

func TestStoreModify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	next := time.Now().UTC()
	if err := st.Add(ctx, testJob(t, "j1", next), false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	moved := next.Add(time.Hour)
	if err := st.Modify(ctx, "j1", &moved); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	got, _ := st.Get("j1")
	if got.NextFire == nil || !got.NextFire.Equal(moved) {
		t.Errorf("NextFire = %v, want %v", got.NextFire, moved)
	}

	if err := st.Modify(ctx, "j1", nil); err != nil {
		t.Fatalf("Modify(nil): %v", err)
	}
	got, _ = st.Get("j1")
	if got.NextFire != nil {
		t.Errorf("NextFire = %v, want nil", got.NextFire)
	}
}

func TestStoreCloneIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := New(newMemoryBackend(), logx.Nop())

	if err := st.Add(ctx, testJob(t, "j1", time.Now().UTC()), false); err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, _ := st.Get("j1")
	got.Kwargs["n"] = float64(99)
	*got.NextFire = got.NextFire.Add(time.Hour)

	again, _ := st.Get("j1")
	if again.Kwargs["n"] != float64(1) {
		t.Error("caller mutation of kwargs leaked into the store")
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "jobs.db")
	backend, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	st := New(backend, logx.Nop())
	next := time.Date(2025, 4, 1, 10, 30, 0, 0, time.UTC)
	job := testJob(t, "persisted", next)
	job.Paused = false
	if err := st.Add(ctx, job, false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := st.Pause(ctx, "persisted"); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and reload: the paused job comes back intact.
	backend2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	st2 := New(backend2, logx.Nop())
	defer st2.Close()

	if err := st2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got, err := st2.Get("persisted")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if !got.Paused {
		t.Error("paused flag lost across restart")
	}
	if got.Func != "jobs.heartbeat" || got.Kwargs["n"] != float64(1) {
		t.Errorf("descriptor fields lost: %+v", got.Descriptor)
	}
	if got.Schedule == nil || got.Schedule.Kind() != trigger.KindInterval {
		t.Error("trigger not rebuilt from persisted spec")
	}
	if got.MisfireGrace != 60*time.Second || got.MaxInstances != 1 {
		t.Errorf("defaults lost: grace=%v max=%d", got.MisfireGrace, got.MaxInstances)
	}
}

func TestSQLiteDeletePersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "jobs.db")
	backend, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := New(backend, logx.Nop())

	if err := st.Add(ctx, testJob(t, "gone", time.Now().UTC()), false); err != nil {
		t.Fatalf("Add: %v", err)
	}
	st.Remove(ctx, "gone")
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	backend2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	st2 := New(backend2, logx.Nop())
	defer st2.Close()
	if err := st2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st2.Len() != 0 {
		t.Errorf("deleted job survived restart, Len = %d", st2.Len())
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Error("unknown driver accepted")
	}
}
