// Package trigger implements the cron trigger engine: a poll loop that
// decides which workflows are due, admits at most one concurrent run
// per workflow, launches runs through an external executor, and winds
// everything down cleanly on stop.
//
// # Due policy
//
// A workflow is due when its most recent scheduled firing falls within
// a trailing window of exactly one poll interval ending at "now". This
// tolerates the engine being down or delayed by up to one interval
// without missing a firing, and never fires the same slot twice under a
// monotonically advancing poll schedule. Older missed firings are not
// replayed: at most one interval of catch-up, never a backlog.
//
// # Overlap control
//
// The Registry is the sole admission mechanism. A long-running
// execution simply keeps its workflow excluded from admission until it
// finishes; that is the intended backpressure, not a bug. Admission
// conflicts are logged at info level and retried on the next poll.
//
// # Lifecycle
//
// Start spawns the poll loop and returns once it is running. Stop wakes
// the loop immediately (the interval wait is cancellable), cancels the
// context of every outstanding run, and returns only after every run
// task has deregistered. After Stop returns the registry is empty.
//
// # Deployment
//
// Single instance only. Running more than one engine against the same
// workflow store will double-fire schedules: admission state is
// in-process and no cross-instance lease is taken.
package trigger
