// Package loadsched schedules the concurrent fetching of a declared set of
// resources.
//
// Every resource belongs to a priority class (high, medium, low) with its
// own concurrency limit. An admission loop runs whenever the run starts,
// a resource settles or the run is resumed; it offers free slots to the
// classes in fixed order and admits a queued resource only once all of its
// prerequisites have loaded or failed. Admitted resources are fetched
// through a Fetcher with a per-attempt timeout and retried with
// exponential backoff (500ms, 1s, 2s, ...) until their retry budget is
// spent. Each resource settles exactly once, as loaded or failed, and the
// run completes when every registered resource has settled.
//
// The scheduler reports through typed events (start, progress, load,
// error, retry, complete, exit). Progress events carry an ETA projected
// from the running average of successful attempt durations.
//
// A prerequisite that is never registered, or a dependency cycle, stalls
// the resources involved and the run never completes. Validate detects
// both; Options.StrictDependencies makes Start refuse such a run.
package loadsched
