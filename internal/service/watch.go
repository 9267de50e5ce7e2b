package service

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"etlsched/pkg/logx"
)

const watchDebounce = 500 * time.Millisecond

// watchJobsFile reloads job definitions when the jobs file changes on
// disk. Events are debounced so editors that write in multiple steps
// trigger a single reload. If the watcher dies it is recreated with a
// small backoff.
func (s *Service) watchJobsFile(ctx context.Context) {
	dir := filepath.Dir(s.jobsPath)
	file := filepath.Base(s.jobsPath)

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("jobs file changed; reloading", logx.String("path", s.jobsPath))
			s.ReloadJobs(ctx)
		})
	}

	backoff := 250 * time.Millisecond
	const backoffMax = 5 * time.Second

	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			err = w.Add(dir)
		}
		if err != nil {
			if w != nil {
				_ = w.Close()
			}
			s.log.Warn("jobs watch unavailable", logx.String("dir", dir), logx.Err(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < backoffMax {
				backoff *= 2
			}
			continue
		}
		backoff = 250 * time.Millisecond

	events:
		for {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return
			case ev, ok := <-w.Events:
				if !ok {
					break events
				}
				if filepath.Base(ev.Name) != file {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce()
				}
			case werr, ok := <-w.Errors:
				if !ok {
					break events
				}
				s.log.Warn("jobs watch error", logx.Err(werr))
			}
		}
		// Watcher channels closed: recreate.
		_ = w.Close()
	}
}
