// Package dispatcher is the control-plane service that accepts job
// submissions for one leadership epoch.
//
// A Dispatcher is bound to a single fencing token and a single job graph
// writer. Every call carries the caller's view of the current token; calls
// tagged with any other token fail with a *StaleLeaderError (matching
// ErrStaleLeader) so callers holding an outdated reference re-resolve the
// leader instead of writing through a deposed instance.
//
// Lifecycle:
//   - New binds the token and writer.
//   - Start registers the job graphs recovered for this epoch. They are
//     already persisted and are not written again.
//   - SubmitJob persists through the writer before registering the job.
//   - CancelJob and CompleteJob move a job to a terminal status and remove
//     its graph from the store, so it is not recovered by the next leader.
//   - Stop rejects every later call with ErrNotRunning. The writer is owned
//     by the gateway service, which closes it after Stop.
//
// Executing job graphs on workers is not part of this package.
package dispatcher
