// Package registry maps job function references to invocable handlers.
//
// Descriptors name their callable by string (e.g. "account_summary");
// resolution happens at fire time, so re-registering a name takes effect
// on the next fire without touching the schedule.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"etlsched/pkg/logx"
)

// Run carries everything a handler gets for a single invocation.
type Run struct {
	JobID  string
	Kwargs map[string]any
	Log    logx.Logger
}

// Handler is a unit of schedulable work. The returned value (if any) is
// recorded in the job's run history.
type Handler interface {
	Run(ctx context.Context, run Run) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, run Run) (any, error)

func (f HandlerFunc) Run(ctx context.Context, run Run) (any, error) { return f(ctx, run) }

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a function reference. Re-registering a name
// overwrites the previous handler.
func (r *Registry) Register(ref string, h Handler) {
	r.mu.Lock()
	r.handlers[ref] = h
	r.mu.Unlock()
}

func (r *Registry) RegisterFunc(ref string, f func(ctx context.Context, run Run) (any, error)) {
	r.Register(ref, HandlerFunc(f))
}

// Resolve looks up a handler by reference.
func (r *Registry) Resolve(ref string) (Handler, error) {
	r.mu.RLock()
	h, ok := r.handlers[ref]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no handler registered for %q", ref)
	}
	return h, nil
}

// Refs returns all registered references, sorted.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		out = append(out, ref)
	}
	sort.Strings(out)
	return out
}
