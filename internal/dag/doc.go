// Package dag models a pipeline as an immutable, validated task graph and
// drives it to completion over the execution runtime.
//
// The split of responsibilities:
//
//   - TaskGraph: structure only. Built once, validated eagerly (unknown
//     edges, duplicates, self-loops, cycles), safe for concurrent reads.
//   - ExecutionState + Transition/FailAndPropagate: the per-run state
//     machine. PENDING -> RUNNING -> {SUCCEEDED, FAILED}; failures skip
//     downstream dependents deterministically.
//   - GetReadyTasks: a pure scheduler ordered by (depth, name).
//   - Orchestrator: the single-threaded loop that submits ready tasks to the
//     runner, polls for completion batches, and applies transitions.
package dag
