package runner

import (
	"context"
	"os"
	"os/exec"
	"syscall"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"dagweaver/internal/core"
)

const (
	// exitCodeUnset is the sentinel meaning "no exit code observed yet".
	exitCodeUnset = -1

	// failureExitCode is synthesized whenever the body cannot produce a real
	// exit code (interruption, panic, launch failure). A real "exited 1" and
	// a synthesized 1 are distinguishable only through the captured error.
	failureExitCode = 1

	// killGrace is how long a signalled process group gets to exit on
	// SIGTERM before the supervisor escalates to SIGKILL.
	killGrace = 50 * time.Millisecond
)

// bodyFunc is the variant-specific part of a supervisor: it runs the task to
// completion and returns the exit code plus any captured failure.
type bodyFunc func(ctx context.Context, s *taskSupervisor) (int, error)

// taskSupervisor wraps one task's execution: a record of its outcome plus the
// worker goroutine that produces it.
//
// The worker goroutine is the only writer of exitCode, hookOK, and err, and
// it closes done after the post-completion hook has run. Readers must observe
// done closed before touching the record; the channel provides the
// happens-before edge.
type taskSupervisor struct {
	task    core.UnitTask
	script  string
	logFile string

	body   bodyFunc
	cancel context.CancelFunc
	done   chan struct{}

	exitCode int
	hookOK   *bool
	err      error
}

func newSupervisor(task core.UnitTask, info *ExecutionInfo, body bodyFunc) *taskSupervisor {
	return &taskSupervisor{
		task:     task,
		script:   info.Script,
		logFile:  info.LogFile,
		body:     body,
		done:     make(chan struct{}),
		exitCode: exitCodeUnset,
	}
}

// newProcessSupervisor supervises an external OS process.
func newProcessSupervisor(task core.ProcessTask, info *ExecutionInfo) *taskSupervisor {
	return newSupervisor(task, info, func(ctx context.Context, s *taskSupervisor) (int, error) {
		return s.runProcess(ctx, task)
	})
}

// newFuncSupervisor supervises an in-process callable.
func newFuncSupervisor(task core.FuncTask, info *ExecutionInfo) *taskSupervisor {
	return newSupervisor(task, info, func(_ context.Context, s *taskSupervisor) (int, error) {
		code, err := task.Call(s.script, s.logFile)
		if err != nil {
			return failureExitCode, errors.Wrapf(err, "task %q", task.Name())
		}
		return code, nil
	})
}

// newNoOpSupervisor is the simulation variant. The record is preset to a
// successful completion before the worker starts, so the task appears
// complete even if observed immediately. The task body and hook never run.
func newNoOpSupervisor(task core.UnitTask, info *ExecutionInfo) *taskSupervisor {
	s := newSupervisor(task, info, nil)
	s.exitCode = 0
	ok := true
	s.hookOK = &ok
	return s
}

// run is the worker goroutine body. It executes the task body (recovering
// panics into a synthesized failure), then runs the post-completion hook, and
// only then closes done and pokes the runner's wake channel.
func (s *taskSupervisor) run(ctx context.Context, wake chan<- struct{}) {
	defer func() {
		close(s.done)
		select {
		case wake <- struct{}{}:
		default:
		}
	}()
	defer s.cancel()

	if s.body == nil {
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.exitCode = failureExitCode
				s.err = errors.Errorf("task %q body panicked: %v", s.task.Name(), r)
			}
		}()
		s.exitCode, s.err = s.body(ctx, s)
	}()

	s.runHook()
}

// runHook invokes the task's post-completion hook with the recorded exit
// code. The hook is the task author's computation and may itself fail; a
// panic is recorded as a hook failure. hookOK becoming non-nil is the
// completion witness the runner relies on, so it is set on every path.
func (s *taskSupervisor) runHook() {
	ok := false
	defer func() {
		if r := recover(); r != nil {
			s.err = multierror.Append(s.err, errors.Errorf("task %q on-complete hook panicked: %v", s.task.Name(), r)).ErrorOrNil()
		}
		s.hookOK = &ok
	}()
	ok = s.task.OnComplete(s.exitCode)
}

// runProcess launches the task's process and blocks until it exits or the
// supervisor is interrupted. Interruption kills the whole child process group
// and is recorded as a synthesized failure.
func (s *taskSupervisor) runProcess(ctx context.Context, task core.ProcessTask) (int, error) {
	cmd, err := task.ProcessCmd(s.script, s.logFile)
	if err != nil {
		return failureExitCode, errors.Wrapf(err, "building command for task %q", task.Name())
	}

	logf, err := os.OpenFile(s.logFile, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return failureExitCode, errors.Wrapf(err, "opening log file for task %q", task.Name())
	}
	defer logf.Close()

	if cmd.Stdout == nil {
		cmd.Stdout = logf
	}
	if cmd.Stderr == nil {
		cmd.Stderr = logf
	}

	// Own process group, so interruption can kill the entire child tree.
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		return failureExitCode, errors.Wrapf(err, "starting task %q", task.Name())
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		s.terminate(cmd, waitCh)
		return failureExitCode, errors.Wrapf(ctx.Err(), "task %q interrupted", task.Name())
	case werr := <-waitCh:
		if werr == nil {
			return 0, nil
		}
		if exitErr, ok := werr.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return failureExitCode, errors.Wrapf(werr, "waiting for task %q", task.Name())
	}
}

// terminate kills the child process group: SIGTERM, a short grace period,
// then SIGKILL. It returns once the child has been reaped.
func (s *taskSupervisor) terminate(cmd *exec.Cmd, waitCh <-chan error) {
	if cmd.Process == nil {
		return
	}
	pgid := -cmd.Process.Pid
	_ = syscall.Kill(pgid, syscall.SIGTERM)
	select {
	case <-waitCh:
		return
	case <-time.After(killGrace):
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-waitCh
}

// finished reports whether the worker has completed, without blocking.
func (s *taskSupervisor) finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// join waits up to d for the worker to complete.
func (s *taskSupervisor) join(d time.Duration) bool {
	select {
	case <-s.done:
		return true
	case <-time.After(d):
		return false
	}
}
