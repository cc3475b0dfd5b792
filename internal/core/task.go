// Package core defines the task authoring model for the execution runtime.
package core

import (
	"os/exec"

	"github.com/pkg/errors"
)

// ResourceGrant is the opaque resource token the scheduler decides for a task.
//
// The runtime applies it to the task exactly once, immediately before the
// task's supervisor is started. The runtime does not track, reclaim, or share
// grants; the external resource manager owns that.
type ResourceGrant struct {
	// Cores is the CPU allocation, possibly fractional.
	Cores float64

	// Memory is the memory allocation in bytes.
	Memory int64
}

// UnitTask is an authored unit of work runnable by the execution runtime.
//
// Every runnable task is either a ProcessTask or a FuncTask; UnitTask alone
// carries the parts common to both: a name, a resource requirement, and a
// post-completion hook.
type UnitTask interface {
	// Name is the logical identifier for the task, used for addressing
	// dependency edges and for log output.
	Name() string

	// Requirements reports the resources the task needs to run.
	Requirements() ResourceGrant

	// ApplyResources consumes the scheduler's grant. The runtime calls this
	// exactly once per submission, before the task starts.
	ApplyResources(grant ResourceGrant) error

	// OnComplete is the task's post-completion hook. It receives the final
	// exit code and reports whether completion-time work succeeded. It runs
	// after the task body has finished, on every path out of the body.
	OnComplete(exitCode int) bool
}

// ProcessTask is a task whose body is an external OS process.
//
// ProcessCmd produces the launch description for the given script and log
// file paths. The supervisor redirects the command's standard streams to the
// log file unless the task wired them itself.
type ProcessTask interface {
	UnitTask
	ProcessCmd(script, logFile string) (*exec.Cmd, error)
}

// FuncTask is a task whose body is a callable executed inside this process.
//
// Call receives the script and log file paths as advisory arguments and
// returns the task's exit code. A returned error (or a panic) is recorded by
// the supervisor as a synthesized failure with exit code 1.
type FuncTask interface {
	UnitTask
	Call(script, logFile string) (int, error)
}

// BaseTask carries the common authoring fields for concrete task types.
//
// A nil Hook defaults to "exit code zero means success". ApplyResources
// rejects a second application; a task object is consumed by one submission.
type BaseTask struct {
	TaskName string
	Requires ResourceGrant
	Hook     func(exitCode int) bool

	granted ResourceGrant
	applied bool
}

func (t *BaseTask) Name() string { return t.TaskName }

func (t *BaseTask) Requirements() ResourceGrant { return t.Requires }

// Granted returns the resources applied at submission time.
func (t *BaseTask) Granted() ResourceGrant { return t.granted }

func (t *BaseTask) ApplyResources(grant ResourceGrant) error {
	if t.applied {
		return errors.Errorf("resources already applied to task %q", t.TaskName)
	}
	t.granted = grant
	t.applied = true
	return nil
}

func (t *BaseTask) OnComplete(exitCode int) bool {
	if t.Hook == nil {
		return exitCode == 0
	}
	return t.Hook(exitCode)
}
