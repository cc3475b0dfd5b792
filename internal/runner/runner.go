// Package runner implements the task execution runtime: it launches
// resource-admitted unit tasks, supervises their lifecycle concurrently,
// reports completions in batches, and cancels running work on demand.
//
// The runtime sits immediately above OS process management and immediately
// below the scheduler that decides what to run. It does not plan
// dependencies, does not retry, does not persist state, and applies
// pre-computed resources without further admission control.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"dagweaver/internal/core"
)

// taskEntry is the registry record for one live task.
type taskEntry struct {
	sup  *taskSupervisor
	info *ExecutionInfo
}

// TaskRunner multiplexes submitted unit tasks over concurrent supervisors.
//
// Ownership discipline: all methods must be called from the single
// orchestrator goroutine. Supervisor workers never touch the registry; they
// only write their own record and poke the wake channel. TaskRunner is
// therefore not safe for concurrent method calls, and does not need to be.
type TaskRunner struct {
	log     logrus.FieldLogger
	entries map[TaskID]*taskEntry

	// wake carries at most one pending "a worker finished" notification, so
	// Poll can block once instead of joining every worker in turn.
	wake chan struct{}
}

// NewTaskRunner creates an empty runner logging through log. A nil log falls
// back to the standard logger.
func NewTaskRunner(log logrus.FieldLogger) *TaskRunner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &TaskRunner{
		log:     log,
		entries: make(map[TaskID]*taskEntry),
		wake:    make(chan struct{}, 1),
	}
}

// Submit registers info and starts a supervisor for its task.
//
// The variant is chosen by task flavor: simulate forces the no-op supervisor;
// otherwise an in-process task gets the func supervisor and a process task
// gets the process supervisor. Resources are applied to the task exactly
// once, before the supervisor starts.
//
// On any failure before the worker is started, the info is marked
// FAILED_SCHEDULING, nothing stays registered, and Submit returns false.
func (r *TaskRunner) Submit(info *ExecutionInfo, simulate bool) bool {
	task := info.Task
	if task == nil {
		panic(fmt.Sprintf("runner: submission %d carries no task", info.ID))
	}
	if _, dup := r.entries[info.ID]; dup {
		panic(fmt.Sprintf("runner: task id %d already registered", info.ID))
	}

	if err := task.ApplyResources(info.Resources); err != nil {
		info.Status = StatusFailedScheduling
		r.log.WithField("task", task.Name()).Errorf("scheduling task %q failed: %+v", task.Name(), err)
		return false
	}

	var sup *taskSupervisor
	if simulate {
		sup = newNoOpSupervisor(task, info)
	} else {
		switch t := task.(type) {
		case core.FuncTask:
			sup = newFuncSupervisor(t, info)
		case core.ProcessTask:
			sup = newProcessSupervisor(t, info)
		default:
			info.Status = StatusFailedScheduling
			r.log.WithField("task", task.Name()).Errorf("task %q is neither a process task nor an in-process task", task.Name())
			return false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.cancel = cancel
	r.entries[info.ID] = &taskEntry{sup: sup, info: info}

	now := time.Now()
	info.Status = StatusStarted
	info.StartedAt = &now
	go sup.run(ctx, r.wake)
	return true
}

// Poll harvests the batch of tasks that have completed.
//
// The registry is swept without blocking; if nothing has finished yet and
// tasks are still live, Poll waits up to timeout for one completion
// notification and sweeps again. Tasks still running stay registered for a
// later sweep.
//
// For each harvested task the terminal status is derived from the recorded
// exit code and hook result (failedAreCompleted forces SUCCEEDED), the end
// timestamp is written, any captured worker error is logged with its stack,
// and the task is removed from the registry.
func (r *TaskRunner) Poll(timeout time.Duration, failedAreCompleted bool) map[TaskID]Completion {
	completed := make(map[TaskID]Completion)

	// Drop any notification for work the first sweep is about to observe
	// anyway; a stale token must not cut a later wait short.
	select {
	case <-r.wake:
	default:
	}

	r.sweep(completed, failedAreCompleted)
	if len(completed) == 0 && len(r.entries) > 0 {
		select {
		case <-r.wake:
		case <-time.After(timeout):
		}
		r.sweep(completed, failedAreCompleted)
	}
	return completed
}

func (r *TaskRunner) sweep(out map[TaskID]Completion, failedAreCompleted bool) {
	for id, e := range r.entries {
		if !e.sup.finished() {
			continue
		}
		out[id] = r.harvest(id, e, failedAreCompleted)
	}
}

// harvest finalizes one finished supervisor. A worker that finished without
// its hook having run is a fatal invariant violation: it indicates a bug in
// the supervisor itself, not in any task.
func (r *TaskRunner) harvest(id TaskID, e *taskEntry, failedAreCompleted bool) Completion {
	name := e.info.Task.Name()
	if e.sup.hookOK == nil {
		panic(fmt.Sprintf("runner: supervisor for task %q finished without running its on-complete hook", name))
	}
	exitCode := e.sup.exitCode
	hookOK := *e.sup.hookOK

	status := StatusFailedOnComplete
	switch {
	case failedAreCompleted || (exitCode == 0 && hookOK):
		status = StatusSucceeded
	case exitCode != 0:
		status = StatusFailedCommand
	}

	// A cancelled task was already finalized; its recorded status stands.
	if !e.info.Status.Terminal() {
		now := time.Now()
		e.info.EndedAt = &now
		e.info.Status = status
	}

	if e.sup.err != nil {
		r.log.WithField("task", name).Errorf("task %q failed: %+v", name, e.sup.err)
	}

	delete(r.entries, id)
	return Completion{ExitCode: exitCode, HookSucceeded: hookOK}
}

// Running returns a snapshot of the registered task ids, in no particular
// order.
func (r *TaskRunner) Running() []TaskID {
	ids := make([]TaskID, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Cancel attempts to terminate a single live task.
//
// The worker gets a brief chance to finish voluntarily, then a cooperative
// interruption and a 100 ms grace period. The recorded status reflects
// operator intent regardless of whether the worker actually died; the return
// value reports only whether it is no longer alive. The entry stays
// registered so a later Poll performs the single, normal removal path.
func (r *TaskRunner) Cancel(id TaskID) bool {
	e, ok := r.entries[id]
	if !ok {
		return false
	}

	if !e.sup.join(time.Millisecond) {
		e.sup.cancel()
		e.sup.join(100 * time.Millisecond)
	}

	if !e.info.Status.Terminal() {
		now := time.Now()
		e.info.EndedAt = &now
		e.info.Status = StatusFailedCommand
	}
	return e.sup.finished()
}
