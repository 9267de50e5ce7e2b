package store

import (
	"fmt"
	"strings"

	"etlsched/pkg/logx"
)

// Open creates the persistence backend for the given config.
//
// A backend that cannot be opened is fatal to scheduler startup; callers
// should abort rather than run without durable schedules.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "memory":
		return newMemoryBackend(), nil
	case "sqlite":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
