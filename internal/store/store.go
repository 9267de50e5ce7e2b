package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"etlsched/internal/trigger"
	"etlsched/pkg/logx"
)

// Backend persists job rows keyed by id.
type Backend interface {
	UpsertJob(ctx context.Context, r Record) error
	DeleteJob(ctx context.Context, id string) error
	LoadJobs(ctx context.Context) ([]Record, error)
	Close() error
}

// Store holds the live job table. See the package doc for ownership rules.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*ScheduledJob
	backend Backend
	log     logx.Logger
}

func New(backend Backend, log logx.Logger) *Store {
	return &Store{
		jobs:    make(map[string]*ScheduledJob),
		backend: backend,
		log:     log,
	}
}

// Load rebuilds the in-memory table from the backend. Rows whose trigger
// spec no longer parses are dropped with a warning rather than aborting
// the whole load.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.backend.LoadJobs(ctx)
	if err != nil {
		return fmt.Errorf("store: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		job, err := recordToJob(r)
		if err != nil {
			s.log.Warn("dropping unreadable persisted job", logx.String("job", r.ID), logx.Err(err))
			continue
		}
		s.jobs[job.ID] = job
	}
	return nil
}

// Add registers a job. With replaceExisting=false an existing id is an error;
// otherwise the existing definition is overwritten in place.
func (s *Store) Add(ctx context.Context, job ScheduledJob, replaceExisting bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok && !replaceExisting {
		return fmt.Errorf("store: job %q already exists", job.ID)
	}
	j := job.clone()
	s.jobs[job.ID] = &j
	return s.persistLocked(ctx, &j)
}

// Remove deletes a job. Removing an absent id is a no-op, never an error.
func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return
	}
	delete(s.jobs, id)
	if err := s.backend.DeleteJob(ctx, id); err != nil {
		s.log.Warn("job delete not persisted", logx.String("job", id), logx.Err(err))
	}
}

func (s *Store) Get(id string) (ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ScheduledJob{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.clone(), nil
}

// List returns all jobs sorted by id.
func (s *Store) List() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Modify sets a job's next fire time (nil clears it).
func (s *Store) Modify(ctx context.Context, id string, next *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if next != nil {
		t := *next
		j.NextFire = &t
	} else {
		j.NextFire = nil
	}
	return s.persistLocked(ctx, j)
}

// Pause suspends a job: its next fire time becomes absent until Resume.
// Pausing an already-paused job is a no-op.
func (s *Store) Pause(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.Paused {
		return nil
	}
	j.Paused = true
	j.NextFire = nil
	return s.persistLocked(ctx, j)
}

// Resume reactivates a paused job with the given next fire time.
func (s *Store) Resume(ctx context.Context, id string, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	j.Paused = false
	t := next
	j.NextFire = &t
	return s.persistLocked(ctx, j)
}

// NextDue returns the job with the earliest next fire time, skipping paused
// jobs and jobs in the exclude set. ok=false when nothing is schedulable.
func (s *Store) NextDue(exclude map[string]bool) (ScheduledJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *ScheduledJob
	for _, j := range s.jobs {
		if j.Paused || j.NextFire == nil || exclude[j.ID] {
			continue
		}
		if best == nil || j.NextFire.Before(*best.NextFire) {
			best = j
		}
	}
	if best == nil {
		return ScheduledJob{}, false
	}
	return best.clone(), true
}

func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) persistLocked(ctx context.Context, j *ScheduledJob) error {
	r, err := jobToRecord(j)
	if err != nil {
		return fmt.Errorf("store: encode job %q: %w", j.ID, err)
	}
	if err := s.backend.UpsertJob(ctx, r); err != nil {
		return fmt.Errorf("store: persist job %q: %w", j.ID, err)
	}
	return nil
}

func jobToRecord(j *ScheduledJob) (Record, error) {
	kw, err := json.Marshal(j.Kwargs)
	if err != nil {
		return Record{}, err
	}
	ts, err := json.Marshal(j.Trigger)
	if err != nil {
		return Record{}, err
	}
	r := Record{
		ID:           j.ID,
		Func:         j.Func,
		KwargsJSON:   string(kw),
		TriggerJSON:  string(ts),
		Paused:       j.Paused,
		MisfireMS:    j.MisfireGrace.Milliseconds(),
		MaxInstances: j.MaxInstances,
		Coalesce:     j.Coalesce,
	}
	if j.NextFire != nil {
		ms := j.NextFire.UnixMilli()
		r.NextFireMS = &ms
	}
	return r, nil
}

func recordToJob(r Record) (*ScheduledJob, error) {
	var spec trigger.Spec
	if err := json.Unmarshal([]byte(r.TriggerJSON), &spec); err != nil {
		return nil, fmt.Errorf("trigger json: %w", err)
	}
	trig, err := trigger.Parse(spec)
	if err != nil {
		return nil, err
	}
	var kwargs map[string]any
	if r.KwargsJSON != "" {
		if err := json.Unmarshal([]byte(r.KwargsJSON), &kwargs); err != nil {
			return nil, fmt.Errorf("kwargs json: %w", err)
		}
	}
	job := &ScheduledJob{
		Descriptor: Descriptor{
			ID:           r.ID,
			Func:         r.Func,
			Kwargs:       kwargs,
			Trigger:      spec,
			MisfireGrace: time.Duration(r.MisfireMS) * time.Millisecond,
			MaxInstances: r.MaxInstances,
			Coalesce:     r.Coalesce,
		}.WithDefaults(),
		Schedule: trig,
		Paused:   r.Paused,
	}
	if r.NextFireMS != nil {
		t := time.UnixMilli(*r.NextFireMS).UTC()
		job.NextFire = &t
	}
	return job, nil
}
