package runner

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dagweaver/internal/core"
)

func TestNoOpSupervisor_RecordPresetBeforeStart(t *testing.T) {
	task := core.NewShellTask("noop", core.ResourceGrant{})
	info := NewExecutionInfo(1, task, core.ResourceGrant{}, "script", "log")

	sup := newNoOpSupervisor(task, info)

	// Even if observed immediately, the record reads as complete and
	// successful.
	assert.Equal(t, 0, sup.exitCode)
	require.NotNil(t, sup.hookOK)
	assert.True(t, *sup.hookOK)
	assert.Nil(t, sup.err)
}

func TestSupervisor_ExitCodeSentinelUntilObserved(t *testing.T) {
	task := core.NewGoTask("pending", core.ResourceGrant{}, func(string, string) (int, error) {
		return 0, nil
	})
	info := NewExecutionInfo(1, task, core.ResourceGrant{}, "script", "log")

	sup := newFuncSupervisor(task, info)
	assert.Equal(t, exitCodeUnset, sup.exitCode)
	assert.Nil(t, sup.hookOK)
}

func TestCancel_EscalatesWhenSigtermIgnored(t *testing.T) {
	r, _ := newTestRunner(t)

	dir := t.TempDir()
	script := filepath.Join(dir, "stubborn.sh")
	logFile := filepath.Join(dir, "stubborn.log")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntrap '' TERM\nwhile :; do :; done\n"), 0o755))
	require.NoError(t, os.WriteFile(logFile, nil, 0o644))

	task := core.NewShellTask("stubborn", core.ResourceGrant{})
	info := NewExecutionInfo(1, task, core.ResourceGrant{}, script, logFile)
	require.True(t, r.Submit(info, false))

	// Let the shell install its trap before interrupting.
	time.Sleep(100 * time.Millisecond)

	// SIGTERM is ignored; the supervisor escalates to SIGKILL inside the
	// cancellation grace period.
	require.True(t, r.Cancel(info.ID))
	assert.Equal(t, StatusFailedCommand, info.Status)

	got := harvestAll(t, r, false)
	require.Contains(t, got, info.ID)
	assert.Equal(t, 1, got[info.ID].ExitCode)
}

func TestCancel_KillsWholeProcessGroup(t *testing.T) {
	r, _ := newTestRunner(t)

	dir := t.TempDir()
	script := filepath.Join(dir, "parent.sh")
	logFile := filepath.Join(dir, "parent.log")
	// The script forks a child and waits; both live in the task's process
	// group and must die together. A surviving child would write its marker
	// to the log after one second.
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\n(sleep 1; echo child-survived) &\nwait\n"), 0o755))
	require.NoError(t, os.WriteFile(logFile, nil, 0o644))

	task := core.NewShellTask("parent", core.ResourceGrant{})
	info := NewExecutionInfo(1, task, core.ResourceGrant{}, script, logFile)
	require.True(t, r.Submit(info, false))
	time.Sleep(100 * time.Millisecond)

	require.True(t, r.Cancel(info.ID))
	got := harvestAll(t, r, false)
	require.Contains(t, got, info.ID)
	assert.Equal(t, StatusFailedCommand, info.Status)

	// Outlast the child's delay: it must have died with the group.
	time.Sleep(1500 * time.Millisecond)
	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "child-survived")
}
