// Package service orchestrates the scheduler control plane: lifecycle,
// job loading, query/control operations, and event fan-out to subscribers.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"etlsched/internal/config"
	"etlsched/internal/registry"
	"etlsched/internal/runner"
	"etlsched/internal/scheduler"
	"etlsched/internal/store"
	"etlsched/internal/trigger"
	"etlsched/pkg/logx"
)

const defaultShutdownWait = 30 * time.Second

// Status summarises scheduler state for API consumers.
type Status struct {
	State       string     `json:"state"` // running | stopped
	JobCount    int        `json:"job_count"`
	NextRunTime *time.Time `json:"next_run_time,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	Timezone    string     `json:"timezone"`
}

// JobView is a job definition merged with its monitoring snapshot.
type JobView struct {
	ID              string             `json:"id"`
	Func            string             `json:"func"`
	Trigger         trigger.Spec       `json:"trigger"`
	Kwargs          map[string]any     `json:"kwargs,omitempty"`
	NextFireTime    *time.Time         `json:"next_fire_time,omitempty"`
	Paused          bool               `json:"paused"`
	MisfireGraceSec int                `json:"misfire_grace_seconds"`
	MaxInstances    int                `json:"max_instances"`
	Coalesce        bool               `json:"coalesce"`
	Stats           scheduler.JobStats `json:"stats"`
}

// TriggerResult is the metadata returned by a manual trigger.
type TriggerResult struct {
	JobID          string         `json:"job_id"`
	ScheduledJobID string         `json:"scheduled_job_id"`
	ScheduledFor   time.Time      `json:"scheduled_for"`
	Overrides      map[string]any `json:"overrides"`
}

// Service owns one Core, one Monitor, one job store, the log service, and
// the set of active subscriber channels.
type Service struct {
	jobsPath  string
	watchJobs bool
	tzName    string
	loc       *time.Location

	log  logx.Logger
	logs *logx.Service

	st   *store.Store
	reg  *registry.Registry
	mon  *scheduler.Monitor
	core *scheduler.Core

	shutdownWait time.Duration

	mu          sync.Mutex
	started     bool
	startedAt   *time.Time
	watchCancel context.CancelFunc

	subMu  sync.Mutex
	subs   map[string]*Subscriber
	subBuf int
}

// New wires the control plane. Opening the persistence backend is the one
// unrecoverable startup step: if it fails, the scheduler must not run.
func New(cfg *config.App, reg *registry.Registry, logs *logx.Service, log logx.Logger) (*Service, error) {
	loc := time.UTC
	tzName := "UTC"
	if cfg.Scheduler.Timezone != "" {
		l, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return nil, fmt.Errorf("service: bad timezone %q: %w", cfg.Scheduler.Timezone, err)
		}
		loc = l
		tzName = cfg.Scheduler.Timezone
	}

	backend, err := store.Open(store.Config{
		Driver:      cfg.Scheduler.Store.Driver,
		Path:        cfg.Scheduler.Store.Path,
		BusyTimeout: cfg.Scheduler.Store.BusyTimeoutOrZero(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("service: open job store: %w", err)
	}

	subBuf := cfg.Scheduler.SubscriberBuffer
	if subBuf <= 0 {
		subBuf = 100
	}

	s := &Service{
		jobsPath:     cfg.Jobs.Path,
		watchJobs:    cfg.Jobs.Watch,
		tzName:       tzName,
		loc:          loc,
		log:          log,
		logs:         logs,
		reg:          reg,
		shutdownWait: cfg.Scheduler.ShutdownWaitOrDefault(defaultShutdownWait),
		subs:         make(map[string]*Subscriber),
		subBuf:       subBuf,
	}
	s.st = store.New(backend, log)
	s.mon = scheduler.NewMonitor(cfg.Scheduler.HistorySize, s.broadcast)
	run := runner.New(reg, log, logs)
	s.core = scheduler.NewCore(s.st, run, log, s.mon.HandleEvent)
	return s, nil
}

// Monitor exposes the execution monitor (read-side API).
func (s *Service) Monitor() *scheduler.Monitor { return s.mon }

// Startup is idempotent: loads persisted and configured jobs, then starts
// the fire loop. Calling it on a started service is a no-op.
func (s *Service) Startup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}

	if err := s.st.Load(ctx); err != nil {
		return err
	}
	s.loadJobs(ctx)

	s.core.Start(ctx)
	if s.watchJobs && s.jobsPath != "" {
		wctx, cancel := context.WithCancel(context.Background())
		s.watchCancel = cancel
		go s.watchJobsFile(wctx)
	}

	now := time.Now().UTC()
	s.started = true
	s.startedAt = &now
	s.log.Info("scheduler service started",
		logx.Int("jobs", s.st.Len()),
		logx.String("tz", s.tzName))
	return nil
}

// Shutdown is idempotent. With wait=true, in-flight executions are given
// a bounded grace to finish; either way the log service is drained and
// closed so a hung job cannot block process termination.
func (s *Service) Shutdown(wait bool) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.mu.Unlock()

	s.core.Stop(wait, s.shutdownWait)
	s.log.Info("scheduler service stopped")
	if s.logs != nil {
		_ = s.logs.Close()
	}
	_ = s.st.Close()
}

// Started reports whether Startup has completed (and Shutdown has not).
func (s *Service) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Status summarises scheduler state, job counts, and timing information.
func (s *Service) Status() Status {
	s.mu.Lock()
	started := s.started
	startedAt := s.startedAt
	s.mu.Unlock()

	state := "stopped"
	if started {
		state = "running"
	}

	jobs := s.st.List()
	var next *time.Time
	for _, j := range jobs {
		if j.NextFire == nil {
			continue
		}
		if next == nil || j.NextFire.Before(*next) {
			t := *j.NextFire
			next = &t
		}
	}
	return Status{
		State:       state,
		JobCount:    len(jobs),
		NextRunTime: next,
		StartedAt:   startedAt,
		Timezone:    s.tzName,
	}
}

// loadJobs reads the jobs file and registers every valid descriptor,
// replacing same-id definitions. One malformed descriptor is skipped and
// logged; the remainder of the batch still loads. A missing jobs file is
// not fatal (the scheduler can run on persisted definitions alone).
func (s *Service) loadJobs(ctx context.Context) {
	if s.jobsPath == "" {
		return
	}
	descs, itemErrs, err := config.LoadJobsFile(s.jobsPath)
	if err != nil {
		s.log.Warn("jobs config not loaded", logx.String("path", s.jobsPath), logx.Err(err))
		return
	}
	for _, e := range itemErrs {
		s.log.Warn("skipping malformed job definition", logx.Err(e))
	}
	for _, d := range descs {
		if err := s.register(ctx, d); err != nil {
			s.log.Warn("job not registered", logx.String("job", d.ID), logx.Err(err))
			continue
		}
		s.log.Info("registered job",
			logx.String("job", d.ID),
			logx.String("trigger", string(d.Trigger.Kind)),
			logx.String("func", d.Func))
	}
}

// register compiles the descriptor's trigger, computes its first fire
// time, and upserts it into the store.
func (s *Service) register(ctx context.Context, d store.Descriptor) error {
	trig, err := trigger.Parse(d.Trigger)
	if err != nil {
		return err
	}
	job := store.ScheduledJob{Descriptor: d.WithDefaults(), Schedule: trig}
	if next, ok := trig.Next(time.Time{}, time.Now().UTC()); ok {
		job.NextFire = &next
	}
	return s.st.Add(ctx, job, true)
}
