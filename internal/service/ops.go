package service

import (
	"context"
	"fmt"
	"time"

	"etlsched/internal/scheduler"
	"etlsched/internal/store"
	"etlsched/internal/trigger"
	"etlsched/pkg/logx"
)

// ListJobs returns every registered job merged with its stats snapshot
// (zeroed defaults for jobs that have never fired).
func (s *Service) ListJobs() []JobView {
	stats := s.mon.SnapshotAll()
	jobs := s.st.List()
	out := make([]JobView, 0, len(jobs))
	for _, j := range jobs {
		st, ok := stats[j.ID]
		if !ok {
			st = s.mon.DefaultStats()
		}
		out = append(out, jobView(j, st))
	}
	return out
}

// JobDetails returns a single job merged with its stats, or a
// store.ErrNotFound-wrapped error naming the id.
func (s *Service) JobDetails(id string) (JobView, error) {
	j, err := s.st.Get(id)
	if err != nil {
		return JobView{}, err
	}
	return jobView(j, s.mon.Snapshot(id)), nil
}

// ReloadJobs re-reads the jobs file and re-registers all descriptors.
// Same-id descriptors are overwritten in place; accumulated monitor stats
// survive because they are keyed independently of the store.
func (s *Service) ReloadJobs(ctx context.Context) {
	s.loadJobs(ctx)
	s.core.Wake()
	s.log.Info("jobs reloaded", logx.Int("jobs", s.st.Len()))
}

// TriggerJob schedules an immediate run.
//
// Without overrides the existing job's next fire time is moved to now, so
// its normal recurring schedule resumes afterwards. With overrides a
// separate one-off job is created instead, leaving the original schedule
// untouched.
//
// Override merge rule: a nested "kwargs" key merges into the job's inner
// kwargs and the remaining top-level keys act as scheduler-level
// overrides; without a "kwargs" key, all override keys merge directly
// into inner kwargs.
func (s *Service) TriggerJob(ctx context.Context, id string, overrides map[string]any) (TriggerResult, error) {
	job, err := s.st.Get(id)
	if err != nil {
		return TriggerResult{}, err
	}

	now := time.Now().UTC()
	scheduledID := id

	if len(overrides) > 0 {
		manualID := fmt.Sprintf("%s%s%d", id, scheduler.ManualJobInfix, now.UnixMilli())
		desc := s.manualDescriptor(manualID, job.Descriptor, overrides, now)

		trig, terr := trigger.Parse(desc.Trigger)
		if terr != nil {
			return TriggerResult{}, terr
		}
		manual := store.ScheduledJob{Descriptor: desc, Schedule: trig, NextFire: &now}
		if aerr := s.st.Add(ctx, manual, false); aerr != nil {
			return TriggerResult{}, aerr
		}
		scheduledID = manualID
	} else {
		if merr := s.st.Modify(ctx, id, &now); merr != nil {
			return TriggerResult{}, merr
		}
	}

	s.core.Wake()
	s.log.Info("manual trigger requested",
		logx.String("job", id),
		logx.Bool("override", len(overrides) > 0))

	echo := overrides
	if echo == nil {
		echo = map[string]any{}
	}
	return TriggerResult{
		JobID:          id,
		ScheduledJobID: scheduledID,
		ScheduledFor:   now,
		Overrides:      echo,
	}, nil
}

// manualDescriptor builds the one-off descriptor for an override trigger,
// applying the nested-kwargs-aware merge rule.
func (s *Service) manualDescriptor(manualID string, base store.Descriptor, overrides map[string]any, now time.Time) store.Descriptor {
	inner := make(map[string]any, len(base.Kwargs))
	for k, v := range base.Kwargs {
		inner[k] = v
	}

	rest := make(map[string]any, len(overrides))
	for k, v := range overrides {
		rest[k] = v
	}

	var schedOverrides map[string]any
	if raw, ok := rest["kwargs"]; ok {
		delete(rest, "kwargs")
		if explicit, ok := raw.(map[string]any); ok {
			for k, v := range explicit {
				inner[k] = v
			}
		}
		schedOverrides = rest
	} else {
		for k, v := range rest {
			inner[k] = v
		}
	}

	desc := base
	desc.ID = manualID
	desc.Kwargs = inner
	desc.Trigger = trigger.Date(now)
	desc.Coalesce = true

	for k, v := range schedOverrides {
		switch k {
		case "func":
			if fn, ok := v.(string); ok {
				desc.Func = fn
			}
		case "max_instances":
			if n, ok := asInt(v); ok {
				desc.MaxInstances = n
			}
		case "misfire_grace_time":
			if n, ok := asInt(v); ok {
				desc.MisfireGrace = time.Duration(n) * time.Second
			}
		default:
			s.log.Warn("ignoring unknown scheduler override",
				logx.String("job", manualID),
				logx.String("key", k))
		}
	}
	return desc.WithDefaults()
}

// PauseJob suspends a job's schedule. Pausing an already-paused job is a
// no-op returning identical details.
func (s *Service) PauseJob(ctx context.Context, id string) (JobView, error) {
	if err := s.st.Pause(ctx, id); err != nil {
		return JobView{}, err
	}
	s.core.Wake()
	s.log.Info("paused job", logx.String("job", id))
	return s.JobDetails(id)
}

// ResumeJob reactivates a paused job, recomputing its next fire time from
// the trigger spec relative to now.
func (s *Service) ResumeJob(ctx context.Context, id string) (JobView, error) {
	job, err := s.st.Get(id)
	if err != nil {
		return JobView{}, err
	}

	now := time.Now().UTC()
	if next, ok := job.Schedule.Next(time.Time{}, now); ok {
		if err := s.st.Resume(ctx, id, next); err != nil {
			return JobView{}, err
		}
	} else if err := s.st.Modify(ctx, id, nil); err != nil {
		return JobView{}, err
	}

	s.core.Wake()
	s.log.Info("resumed job", logx.String("job", id))
	return s.JobDetails(id)
}

func jobView(j store.ScheduledJob, stats scheduler.JobStats) JobView {
	return JobView{
		ID:              j.ID,
		Func:            j.Func,
		Trigger:         j.Trigger,
		Kwargs:          j.Kwargs,
		NextFireTime:    j.NextFire,
		Paused:          j.Paused,
		MisfireGraceSec: int(j.MisfireGrace.Seconds()),
		MaxInstances:    j.MaxInstances,
		Coalesce:        j.Coalesce,
		Stats:           stats,
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
