package dag

import (
	"context"
	"sort"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dagweaver/internal/runner"
	"dagweaver/internal/status"
)

// PathResolver maps a task name to the script and log file paths the task
// executes with. The caller guarantees both exist before the task runs.
type PathResolver func(taskName string) (script, logFile string)

// Orchestrator drives a TaskGraph to completion over the execution runtime.
//
// It owns the single-threaded loop the runner's contract requires: submit the
// ready set, poll for a completion batch, apply state transitions, repeat.
// Task failures skip downstream dependents; context cancellation interrupts
// all in-flight tasks.
type Orchestrator struct {
	Graph  *TaskGraph
	Runner *runner.TaskRunner
	Paths  PathResolver

	Log    logrus.FieldLogger
	Status status.Sink

	// PollTimeout bounds each Poll call. Zero means one second.
	PollTimeout time.Duration

	// Simulate substitutes the no-op supervisor for every task.
	Simulate bool

	// FailedAreCompleted makes every harvested task count as SUCCEEDED,
	// regardless of exit code and hook result.
	FailedAreCompleted bool
}

// Result is the summary of one graph execution attempt.
type Result struct {
	// FinalState is the terminal state of each node by name.
	FinalState ExecutionState

	// SubmissionOrder lists tasks in the order they were handed to the
	// runner.
	SubmissionOrder []string

	// ExitCodes holds the reported exit code per harvested task. Skipped
	// tasks, tasks that failed scheduling, and tasks still running when the
	// context was cancelled have no entry.
	ExitCodes map[string]int
}

// Succeeded reports whether every node finished SUCCEEDED.
func (r *Result) Succeeded() bool {
	for _, st := range r.FinalState {
		if st != StateSucceeded {
			return false
		}
	}
	return true
}

// NewOrchestrator wires an orchestrator with defaults.
func NewOrchestrator(g *TaskGraph, r *runner.TaskRunner, paths PathResolver) *Orchestrator {
	return &Orchestrator{Graph: g, Runner: r, Paths: paths}
}

// Run executes the graph until every node is terminal or ctx is cancelled.
//
// On cancellation all live tasks are interrupted; tasks that outlive the
// cancellation grace period are reported in the returned error.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if o.Graph == nil {
		return nil, invalidf("nil graph")
	}
	if o.Runner == nil {
		return nil, invalidf("nil runner")
	}
	if o.Paths == nil {
		return nil, invalidf("nil path resolver")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log := o.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	timeout := o.PollTimeout
	if timeout <= 0 {
		timeout = time.Second
	}

	state := make(ExecutionState, o.Graph.Len())
	for _, name := range o.Graph.Names() {
		state[name] = StatePending
	}

	infos := make(map[runner.TaskID]*runner.ExecutionInfo)
	names := make(map[runner.TaskID]string)
	exitCodes := make(map[string]int)
	order := make([]string, 0, o.Graph.Len())
	var nextID runner.TaskID

	result := func() *Result {
		return &Result{FinalState: state, SubmissionOrder: order, ExitCodes: exitCodes}
	}

	for {
		if err := ctx.Err(); err != nil {
			cerr := o.interruptAll(names, state)
			return result(), multierror.Append(errors.Wrap(err, "run interrupted"), cerr).ErrorOrNil()
		}

		// Dispatch everything currently ready.
		for _, name := range GetReadyTasks(o.Graph, state) {
			node, _ := o.Graph.Node(name)
			script, logFile := o.Paths(name)
			nextID++
			info := runner.NewExecutionInfo(nextID, node.Task, node.Task.Requirements(), script, logFile)

			if !o.Runner.Submit(info, o.Simulate) {
				if err := o.markFailed(state, name, "scheduling failed"); err != nil {
					return result(), err
				}
				continue
			}

			if err := Transition(state, name, StatePending, StateRunning); err != nil {
				return result(), err
			}
			infos[info.ID] = info
			names[info.ID] = name
			order = append(order, name)
			log.WithFields(logrus.Fields{"task": name, "id": info.ID}).Debug("task submitted")
			status.SafeRecord(o.Status, status.Event{Task: name, Kind: status.EventTaskSubmitted})
		}

		if AllTerminal(state) {
			break
		}
		if len(o.Runner.Running()) == 0 {
			return result(), invalidf("execution stalled: tasks remain but none are runnable")
		}

		completions := o.Runner.Poll(timeout, o.FailedAreCompleted)

		ids := make([]runner.TaskID, 0, len(completions))
		for id := range completions {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		for _, id := range ids {
			c := completions[id]
			name := names[id]
			info := infos[id]
			delete(infos, id)
			delete(names, id)

			exitCodes[name] = c.ExitCode
			exit := c.ExitCode
			if info.Status == runner.StatusSucceeded {
				if err := Transition(state, name, StateRunning, StateSucceeded); err != nil {
					return result(), err
				}
				log.WithFields(logrus.Fields{"task": name, "exit_code": exit}).Debug("task succeeded")
				status.SafeRecord(o.Status, status.Event{
					Task:     name,
					Kind:     status.EventTaskSucceeded,
					ExitCode: &exit,
					Status:   info.Status.String(),
				})
				continue
			}

			log.WithFields(logrus.Fields{
				"task":      name,
				"exit_code": exit,
				"status":    info.Status.String(),
			}).Warn("task failed")
			status.SafeRecord(o.Status, status.Event{
				Task:     name,
				Kind:     status.EventTaskFailed,
				ExitCode: &exit,
				Status:   info.Status.String(),
			})
			if err := o.markFailed(state, name, name); err != nil {
				return result(), err
			}
		}
	}

	return result(), nil
}

// markFailed records a task failure and skips its downstream dependents.
func (o *Orchestrator) markFailed(state ExecutionState, name, cause string) error {
	skipped, err := FailAndPropagate(o.Graph, state, name)
	if err != nil {
		return err
	}
	for _, s := range skipped {
		status.SafeRecord(o.Status, status.Event{Task: s, Kind: status.EventTaskSkipped, Reason: cause})
	}
	return nil
}

// interruptAll cancels every live task and drains the harvest path so the
// runner's bookkeeping completes for workers that stopped.
func (o *Orchestrator) interruptAll(names map[runner.TaskID]string, state ExecutionState) error {
	ids := o.Runner.Running()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var merr *multierror.Error
	for _, id := range ids {
		name := names[id]
		stopped := o.Runner.Cancel(id)
		if !stopped {
			merr = multierror.Append(merr, errors.Errorf("task %q did not stop within the cancellation grace period", name))
		}
		if state[name] == StateRunning {
			state[name] = StateFailed
		}
		status.SafeRecord(o.Status, status.Event{
			Task:   name,
			Kind:   status.EventTaskCancelled,
			Status: runner.StatusFailedCommand.String(),
		})
	}
	o.Runner.Poll(100*time.Millisecond, false)
	return merr.ErrorOrNil()
}
