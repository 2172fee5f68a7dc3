// Package scheduler owns the in-memory job registry. It arms one-shot timers
// and cron triggers keyed by JobID and hands every firing to the task engine,
// which runs the job's Command through an Executor.
//
// Nothing here is persisted: after a restart the recovery coordinator
// rebuilds the registry from storage.
package scheduler
