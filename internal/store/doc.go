// Package store is the job registry: an in-memory table of scheduled jobs
// with write-through persistence, so schedules survive a process restart.
//
// All mutations are serialized behind one mutex (single-writer semantics);
// reads return copies so callers never alias internal state.
package store
