// Package scheduler contains the fire-decision loop (Core) and the
// execution monitor that aggregates per-job statistics.
//
// The Core decides when jobs fire and emits lifecycle events: exactly one
// "submitted" per attempted fire, exactly one "success" or "error" per
// completed invocation, exactly one "missed" per skipped fire. Events for
// a single job are emitted in fire order; events across jobs interleave
// with no global ordering guarantee.
package scheduler
