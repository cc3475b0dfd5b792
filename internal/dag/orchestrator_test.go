package dag

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"dagweaver/internal/core"
	"dagweaver/internal/runner"
	"dagweaver/internal/status"
)

// memSink collects events; the orchestrator is single-threaded so no lock is
// needed.
type memSink struct {
	events []status.Event
}

func (s *memSink) Record(e status.Event) { s.events = append(s.events, e) }

func (s *memSink) kinds(kind status.EventKind) []string {
	var out []string
	for _, e := range s.events {
		if e.Kind == kind {
			out = append(out, e.Task)
		}
	}
	return out
}

func tmpPaths(t *testing.T) PathResolver {
	t.Helper()
	dir := t.TempDir()
	return func(name string) (string, string) {
		return filepath.Join(dir, name+".sh"), filepath.Join(dir, name+".log")
	}
}

// ranSet tracks which task bodies executed; bodies of parallel tasks run on
// separate goroutines, so access is locked.
type ranSet struct {
	mu sync.Mutex
	m  map[string]bool
}

func newRanSet() *ranSet { return &ranSet{m: map[string]bool{}} }

func (r *ranSet) mark(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[name] = true
}

func (r *ranSet) has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.m[name]
}

func (r *ranSet) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func goUnit(name string, exit int, ran *ranSet) core.UnitTask {
	return core.NewGoTask(name, core.ResourceGrant{Cores: 1}, func(string, string) (int, error) {
		if ran != nil {
			ran.mark(name)
		}
		return exit, nil
	})
}

func newOrchestrator(t *testing.T, g *TaskGraph) (*Orchestrator, *memSink) {
	t.Helper()
	sink := &memSink{}
	o := NewOrchestrator(g, runner.NewTaskRunner(nil), tmpPaths(t))
	o.Status = sink
	o.PollTimeout = 100 * time.Millisecond
	return o, sink
}

func TestOrchestrator_LinearPipelineRunsInOrder(t *testing.T) {
	ran := newRanSet()
	g, err := NewTaskGraph(
		[]core.UnitTask{goUnit("a", 0, ran), goUnit("b", 0, ran), goUnit("c", 0, ran)},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, sink := newOrchestrator(t, g)
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !result.Succeeded() {
		t.Fatalf("expected success, state: %v", result.FinalState)
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(result.SubmissionOrder, want) {
		t.Fatalf("submission order mismatch: got %v want %v", result.SubmissionOrder, want)
	}
	for _, name := range []string{"a", "b", "c"} {
		if !ran.has(name) {
			t.Fatalf("task %q never ran", name)
		}
		if result.ExitCodes[name] != 0 {
			t.Fatalf("task %q exit code: %d", name, result.ExitCodes[name])
		}
	}
	if got := sink.kinds(status.EventTaskSucceeded); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("success events mismatch: %v", got)
	}
}

func TestOrchestrator_FailureSkipsDownstream(t *testing.T) {
	ran := newRanSet()
	g, err := NewTaskGraph(
		[]core.UnitTask{goUnit("a", 1, ran), goUnit("b", 0, ran), goUnit("c", 0, ran), goUnit("x", 0, ran)},
		[]Edge{{From: "a", To: "b"}, {From: "b", To: "c"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, sink := newOrchestrator(t, g)
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := ExecutionState{"a": StateFailed, "b": StateSkipped, "c": StateSkipped, "x": StateSucceeded}
	if !reflect.DeepEqual(result.FinalState, want) {
		t.Fatalf("final state mismatch: got %v want %v", result.FinalState, want)
	}
	if ran.has("b") || ran.has("c") {
		t.Fatal("skipped tasks must never run")
	}
	if result.ExitCodes["a"] != 1 {
		t.Fatalf("exit code of a: %d", result.ExitCodes["a"])
	}
	if _, ok := result.ExitCodes["b"]; ok {
		t.Fatal("skipped task must not report an exit code")
	}
	if got := sink.kinds(status.EventTaskSkipped); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("skip events mismatch: %v", got)
	}
}

func TestOrchestrator_SimulateRunsNothing(t *testing.T) {
	ran := newRanSet()
	g, err := NewTaskGraph(
		[]core.UnitTask{goUnit("a", 1, ran), goUnit("b", 0, ran)},
		[]Edge{{From: "a", To: "b"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, _ := newOrchestrator(t, g)
	o.Simulate = true
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !result.Succeeded() {
		t.Fatalf("simulated run must succeed, state: %v", result.FinalState)
	}
	if ran.size() != 0 {
		t.Fatalf("no body may run under simulate, ran: %v", ran.m)
	}
}

func TestOrchestrator_FailedAreCompletedKeepsPipelineGoing(t *testing.T) {
	ran := newRanSet()
	g, err := NewTaskGraph(
		[]core.UnitTask{goUnit("a", 1, ran), goUnit("b", 0, ran)},
		[]Edge{{From: "a", To: "b"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, _ := newOrchestrator(t, g)
	o.FailedAreCompleted = true
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if !result.Succeeded() {
		t.Fatalf("expected success, state: %v", result.FinalState)
	}
	if !ran.has("b") {
		t.Fatal("downstream task must run when failures count as completed")
	}
	if result.ExitCodes["a"] != 1 {
		t.Fatalf("reported exit code must stay 1, got %d", result.ExitCodes["a"])
	}
}

func TestOrchestrator_SchedulingFailureSkipsDownstream(t *testing.T) {
	reject := &rejectingTask{core.NewGoTask("a", core.ResourceGrant{}, func(string, string) (int, error) {
		return 0, nil
	})}
	g, err := NewTaskGraph(
		[]core.UnitTask{reject, goUnit("b", 0, nil)},
		[]Edge{{From: "a", To: "b"}},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, _ := newOrchestrator(t, g)
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := ExecutionState{"a": StateFailed, "b": StateSkipped}
	if !reflect.DeepEqual(result.FinalState, want) {
		t.Fatalf("final state mismatch: got %v want %v", result.FinalState, want)
	}
}

type rejectingTask struct {
	*core.GoTask
}

func (t *rejectingTask) ApplyResources(core.ResourceGrant) error {
	return errInvalidGrant
}

var errInvalidGrant = invalidf("grant rejected")

func TestOrchestrator_CancelledContextInterruptsTasks(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "a.sh")
	logFile := filepath.Join(dir, "a.log")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 60\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	if err := os.WriteFile(logFile, nil, 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}

	g, err := NewTaskGraph([]core.UnitTask{core.NewShellTask("a", core.ResourceGrant{Cores: 1})}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	o, sink := newOrchestrator(t, g)
	o.Paths = func(string) (string, string) { return script, logFile }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	result, err := o.Run(ctx)
	if err == nil {
		t.Fatal("cancelled run must return an error")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatal("cancellation took too long")
	}
	if result.FinalState["a"] != StateFailed {
		t.Fatalf("cancelled task state: %s", result.FinalState["a"])
	}
	if got := sink.kinds(status.EventTaskCancelled); !reflect.DeepEqual(got, []string{"a"}) {
		t.Fatalf("cancel events mismatch: %v", got)
	}
}
