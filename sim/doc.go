// Package sim coordinates finite vectorized rollouts: N workers are driven in
// lock-step by a supervisor while they pull their initial states from a shared,
// possibly finite, work queue.
//
// # Reading Guide
//
// Start with these files to understand the coordination layer:
//   - queue.go: WorkQueue, a bounded prefetching queue with repeat, shuffle and early close
//   - sentinel.go: the sentinel observation a worker returns when the queue is exhausted
//   - supervisor.go: WorkerSupervisor, slot bookkeeping and the reset/step protocol
//   - guard.go: CollectionGuard, which scopes one collection pass and absorbs exhaustion
//
// # Architecture
//
// The sim package defines the protocol and bridge types; implementations live in
// sub-packages:
//   - sim/env/: a Worker built from a simulator plus state, action and reward interpreters
//   - sim/orderexec/: single-asset order execution over synthetic intraday data
//   - sim/trainer/: policies, the episode collector and phase-driven training passes
//   - sim/trace/: per-episode recording, console progress and CSV output
//
// # Key Interfaces
//
//   - Worker: reset to a fresh episode, step with an action
//   - Strategy: run a batch of worker calls (serial, parallel, shmem)
//   - LogWriter: observe slot resets, steps and pass completion
//   - Source: random-access items behind a WorkQueue
package sim
