package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"dagweaver/internal/dag"
	"dagweaver/internal/runner"
	"dagweaver/internal/status"
)

// RunResult is what a full CLI execution yields.
type RunResult struct {
	ExitCode int
	RunID    string
	Graph    *dag.Result
}

// Execute runs the canonicalized invocation end to end: load the pipeline,
// materialize per-task script and log files, execute the graph, write the
// run log, and print the summary.
func Execute(ctx context.Context, inv Invocation, log *logrus.Logger, out io.Writer) (RunResult, error) {
	if log == nil {
		log = logrus.New()
	}
	if out == nil {
		out = os.Stdout
	}

	tasks, err := LoadPipeline(inv.PipelinePath)
	if err != nil {
		return RunResult{ExitCode: ExitConfigError}, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}
	graph, err := BuildGraph(tasks)
	if err != nil {
		return RunResult{ExitCode: ExitConfigError}, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}

	if err := materialize(inv, tasks); err != nil {
		return RunResult{ExitCode: ExitConfigError}, &InvocationError{ExitCode: ExitConfigError, Message: err.Error()}
	}

	rec := status.NewRecorder()
	orch := dag.NewOrchestrator(graph, runner.NewTaskRunner(log), func(name string) (string, string) {
		return scriptPath(inv, name), logPath(inv, name)
	})
	orch.Log = log.WithField("run", rec.RunID())
	orch.Status = rec
	orch.PollTimeout = inv.PollTimeout
	orch.Simulate = inv.Simulate
	orch.FailedAreCompleted = inv.FailedAreCompleted

	result, runErr := orch.Run(ctx)

	if inv.StatusPath != "" {
		if werr := rec.Snapshot().WriteFile(inv.StatusPath); werr != nil {
			log.Warnf("run log not written: %v", werr)
		}
	}

	res := RunResult{RunID: rec.RunID(), Graph: result}
	if result != nil {
		printSummary(out, graph, result)
	}

	switch {
	case runErr != nil:
		res.ExitCode = ExitInternalError
		if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
			res.ExitCode = ExitRunFailure
		}
		return res, &InvocationError{ExitCode: res.ExitCode, Message: runErr.Error()}
	case !result.Succeeded():
		res.ExitCode = ExitRunFailure
		return res, nil
	default:
		res.ExitCode = ExitSuccess
		return res, nil
	}
}

// materialize writes each task's script file and creates its empty log file.
// The runtime requires both to exist before submission.
func materialize(inv Invocation, tasks []PipelineTask) error {
	if err := os.MkdirAll(inv.ScriptsDir, 0o755); err != nil {
		return errors.Wrap(err, "creating scripts directory")
	}
	if err := os.MkdirAll(inv.LogsDir, 0o755); err != nil {
		return errors.Wrap(err, "creating logs directory")
	}
	for _, t := range tasks {
		script := scriptPath(inv, t.Name)
		body := "#!/bin/sh\n" + t.Run + "\n"
		if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
			return errors.Wrapf(err, "writing script for task %q", t.Name)
		}
		logf, err := os.OpenFile(logPath(inv, t.Name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return errors.Wrapf(err, "creating log file for task %q", t.Name)
		}
		logf.Close()
	}
	return nil
}

func scriptPath(inv Invocation, name string) string {
	return filepath.Join(inv.ScriptsDir, name+".sh")
}

func logPath(inv Invocation, name string) string {
	return filepath.Join(inv.LogsDir, name+".log")
}

func printSummary(out io.Writer, graph *dag.TaskGraph, result *dag.Result) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	names := graph.Names()
	sort.Strings(names)

	counts := map[dag.TaskState]int{}
	for _, name := range names {
		st := result.FinalState[name]
		counts[st]++

		var mark string
		switch st {
		case dag.StateSucceeded:
			mark = green("ok")
		case dag.StateSkipped:
			mark = yellow("skip")
		default:
			mark = red("fail")
		}
		if exit, ok := result.ExitCodes[name]; ok {
			fmt.Fprintf(out, "%-6s %s (exit %d)\n", mark, name, exit)
		} else {
			fmt.Fprintf(out, "%-6s %s\n", mark, name)
		}
	}
	fmt.Fprintf(out, "%d succeeded, %d failed, %d skipped\n",
		counts[dag.StateSucceeded],
		counts[dag.StateFailed],
		counts[dag.StateSkipped])
}
