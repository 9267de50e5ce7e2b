package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"etlsched/internal/runner"
	"etlsched/internal/store"
	"etlsched/pkg/logx"
)

// ManualJobInfix marks one-off jobs created by manual triggers with
// overrides; they are unregistered after their single fire.
const ManualJobInfix = "__manual__"

// Core runs the fire-decision loop over the job store.
//
// One goroutine owns the loop; executions run on their own goroutines and
// report back through the listener. The store is the only shared mutable
// resource and serializes its own mutations.
type Core struct {
	store    *store.Store
	run      *runner.Runner
	log      logx.Logger
	listener Listener

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wake     chan struct{}
	inflight map[string]int

	loopWG sync.WaitGroup
	execWG sync.WaitGroup
}

func NewCore(st *store.Store, run *runner.Runner, log logx.Logger, listener Listener) *Core {
	if listener == nil {
		listener = func(Event) {}
	}
	return &Core{
		store:    st,
		run:      run,
		log:      log,
		listener: listener,
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]int),
	}
}

// Start launches the fire loop. Starting a running core is a no-op.
func (c *Core) Start(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.stopCh = make(chan struct{})
	stopCh := c.stopCh
	c.mu.Unlock()

	c.loopWG.Add(1)
	go func() {
		defer c.loopWG.Done()
		c.loop(ctx, stopCh)
	}()
	c.log.Info("scheduler core started", logx.Int("jobs", c.store.Len()))
}

// Stop halts the fire loop. With wait=true, in-flight executions are given
// up to timeout to finish; otherwise they are abandoned without a
// cancellation signal.
func (c *Core) Stop(wait bool, timeout time.Duration) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopCh)
	c.mu.Unlock()

	c.loopWG.Wait()

	if wait {
		done := make(chan struct{})
		go func() {
			c.execWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			c.log.Warn("shutdown wait elapsed with executions still in flight")
		}
	}
	c.log.Info("scheduler core stopped")
}

// Wake pokes the fire loop to re-scan the store, e.g. after a manual
// trigger moved a job's next fire time.
func (c *Core) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// InFlight reports the number of running executions for a job id.
func (c *Core) InFlight(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[id]
}

func (c *Core) loop(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, ok := c.store.NextDue(nil)
		if !ok {
			// Nothing schedulable: park until poked.
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				return
			case <-c.wake:
			}
			continue
		}

		now := time.Now().UTC()
		fireAt := *job.NextFire
		if fireAt.After(now) {
			timer := time.NewTimer(fireAt.Sub(now))
			select {
			case <-stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			case <-c.wake:
				timer.Stop()
			case <-timer.C:
			}
			// Re-scan: the store may have changed while we slept.
			continue
		}

		c.fire(ctx, job, fireAt, now)
	}
}

// fire advances the job's schedule and submits one execution (or reports
// a miss). Runs on the loop goroutine; the invocation itself does not.
func (c *Core) fire(ctx context.Context, job store.ScheduledJob, fireAt, now time.Time) {
	c.advance(ctx, job, fireAt, now)

	// Grace period: a fire discovered too late is not executed.
	if late := now.Sub(fireAt); late > job.MisfireGrace {
		c.log.Warn("run missed (grace elapsed)",
			logx.String("job", job.ID),
			logx.Duration("late", late),
			logx.Duration("grace", job.MisfireGrace))
		c.listener(Event{JobID: job.ID, Kind: EventMissed, ScheduledAt: fireAt})
		return
	}

	// Concurrency cap: an overlapping fire is skipped, not queued.
	c.mu.Lock()
	if c.inflight[job.ID] >= job.MaxInstances {
		c.mu.Unlock()
		c.log.Warn("run missed (max instances reached)",
			logx.String("job", job.ID),
			logx.Int("max_instances", job.MaxInstances))
		c.listener(Event{JobID: job.ID, Kind: EventMissed, ScheduledAt: fireAt})
		return
	}
	c.inflight[job.ID]++
	c.mu.Unlock()

	c.listener(Event{JobID: job.ID, Kind: EventSubmitted, ScheduledAt: fireAt})

	c.execWG.Add(1)
	go func() {
		defer c.execWG.Done()
		defer func() {
			c.mu.Lock()
			if c.inflight[job.ID] > 0 {
				c.inflight[job.ID]--
			}
			if c.inflight[job.ID] == 0 {
				delete(c.inflight, job.ID)
			}
			c.mu.Unlock()
		}()

		out := c.run.Run(ctx, job.Func, job.ID, job.Kwargs)
		if out.Err != nil {
			c.listener(Event{JobID: job.ID, Kind: EventError, ScheduledAt: fireAt, Err: out.Err})
		} else {
			c.listener(Event{JobID: job.ID, Kind: EventSuccess, ScheduledAt: fireAt, Value: out.Value})
		}
	}()
}

// advance computes the job's next fire time and writes it back. Exhausted
// one-off triggers either unregister the job (manual one-offs) or leave it
// registered with no next fire time (configured date jobs).
func (c *Core) advance(ctx context.Context, job store.ScheduledJob, fireAt, now time.Time) {
	// Coalesce collapses overdue fires into one: the next fire is computed
	// relative to now. Without coalescing each overdue period replays.
	base := now
	if !job.Coalesce {
		base = fireAt
	}
	next, ok := job.Schedule.Next(fireAt, base)
	switch {
	case ok:
		if err := c.store.Modify(ctx, job.ID, &next); err != nil {
			c.log.Warn("next fire time not persisted", logx.String("job", job.ID), logx.Err(err))
		}
	case strings.Contains(job.ID, ManualJobInfix):
		c.store.Remove(ctx, job.ID)
	default:
		if err := c.store.Modify(ctx, job.ID, nil); err != nil {
			c.log.Warn("exhausted state not persisted", logx.String("job", job.ID), logx.Err(err))
		}
	}
}
