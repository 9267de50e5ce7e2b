package jobs

import (
	"context"
	"testing"

	"etlsched/internal/registry"
	"etlsched/pkg/logx"
)

func TestRegisterAll(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	RegisterAll(reg)

	for _, ref := range []string{
		"jobs.account_summary",
		"jobs.portfolio_mart_refresh",
		"jobs.cleanup_duplicates",
		"jobs.heartbeat",
	} {
		if _, err := reg.Resolve(ref); err != nil {
			t.Errorf("Resolve(%s): %v", ref, err)
		}
	}
}

func TestAccountSummary(t *testing.T) {
	t.Parallel()

	run := registry.Run{JobID: "j", Log: logx.Nop(), Kwargs: map[string]any{
		"portfolios": []any{"alpha", "beta"},
	}}
	v, err := AccountSummary(context.Background(), run)
	if err != nil {
		t.Fatalf("AccountSummary: %v", err)
	}
	if got := v.(map[string]any)["processed"]; got != 2 {
		t.Errorf("processed = %v", got)
	}

	// Without portfolios the handler succeeds with nothing to do.
	v, err = AccountSummary(context.Background(), registry.Run{JobID: "j", Log: logx.Nop()})
	if err != nil {
		t.Fatalf("AccountSummary(empty): %v", err)
	}
	if got := v.(map[string]any)["processed"]; got != 0 {
		t.Errorf("processed = %v", got)
	}
}

func TestPortfolioMartRefreshValidatesWindow(t *testing.T) {
	t.Parallel()

	run := registry.Run{JobID: "j", Log: logx.Nop(), Kwargs: map[string]any{
		// JSON-decoded numbers arrive as float64.
		"window_hours": float64(-1),
	}}
	if _, err := PortfolioMartRefresh(context.Background(), run); err == nil {
		t.Error("negative window accepted")
	}

	run.Kwargs["window_hours"] = float64(6)
	if _, err := PortfolioMartRefresh(context.Background(), run); err != nil {
		t.Errorf("valid window rejected: %v", err)
	}
}

func TestCleanupDuplicatesValidation(t *testing.T) {
	t.Parallel()

	if _, err := CleanupDuplicates(context.Background(), registry.Run{Log: logx.Nop()}); err == nil {
		t.Error("missing group_fields accepted")
	}

	run := registry.Run{Log: logx.Nop(), Kwargs: map[string]any{
		"group_fields":      []any{"ts", "account"},
		"batch_delete_size": float64(0),
	}}
	if _, err := CleanupDuplicates(context.Background(), run); err == nil {
		t.Error("zero batch_delete_size accepted")
	}

	run.Kwargs["batch_delete_size"] = float64(500)
	v, err := CleanupDuplicates(context.Background(), run)
	if err != nil {
		t.Fatalf("CleanupDuplicates: %v", err)
	}
	if got := v.(map[string]any)["batch_delete_size"]; got != 500 {
		t.Errorf("batch_delete_size = %v", got)
	}
}
