// Package runner executes resolved job handlers with per-run logging.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"etlsched/internal/registry"
	"etlsched/pkg/logx"
)

// Outcome is the result of one invocation. Exactly one of Value/Err is
// meaningful; Err != nil means the handler failed (or panicked).
type Outcome struct {
	Value any
	Err   error
}

// Runner resolves a job's callable reference at fire time and invokes it
// with a scoped logger. One logger lifecycle per invocation: derive, use,
// flush on the way out regardless of outcome.
type Runner struct {
	reg  *registry.Registry
	log  logx.Logger
	logs *logx.Service // optional; flushed after each run

	flushTimeout time.Duration
}

func New(reg *registry.Registry, log logx.Logger, logs *logx.Service) *Runner {
	return &Runner{
		reg:          reg,
		log:          log,
		logs:         logs,
		flushTimeout: 2 * time.Second,
	}
}

// Run resolves ref and invokes it with the given kwargs. Handler errors and
// panics are returned in the Outcome, never raised past this boundary.
func (r *Runner) Run(ctx context.Context, ref, jobID string, kwargs map[string]any) Outcome {
	runLog := r.log.With(
		logx.String("job", jobID),
		logx.String("run", uuid.NewString()),
	)
	defer func() {
		// Guaranteed release: drain async log delivery even when the
		// handler failed or panicked.
		if r.logs != nil {
			r.logs.Flush(r.flushTimeout)
		}
	}()

	h, err := r.reg.Resolve(ref)
	if err != nil {
		runLog.Error("job target unresolvable", logx.String("func", ref), logx.Err(err))
		return Outcome{Err: err}
	}

	runLog.Debug("job run started", logx.String("func", ref))
	start := time.Now()

	var out Outcome
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				out.Err = fmt.Errorf("panic: %v", rec)
				runLog.Error("job run panicked",
					logx.Any("panic", rec),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		out.Value, out.Err = h.Run(ctx, registry.Run{JobID: jobID, Kwargs: kwargs, Log: runLog})
	}()

	dur := time.Since(start)
	if out.Err != nil {
		runLog.Error("job run failed", logx.Duration("dur", dur), logx.Err(out.Err))
	} else {
		runLog.Debug("job run completed", logx.Duration("dur", dur))
	}
	return out
}
