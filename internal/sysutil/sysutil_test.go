package sysutil

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyscallCapturesExitCodeAndOutput(t *testing.T) {
	code, out, err := Syscall(context.Background(), "echo hello; exit 3", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.Contains(t, out, "hello")
}

func TestSyscallPropagatesCustomEnvironment(t *testing.T) {
	code, out, err := Syscall(context.Background(), "echo $OPTIMUSD_VAR", map[string]string{"OPTIMUSD_VAR": "marker"})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "marker")
}

func TestListProcessesFindsSelf(t *testing.T) {
	entries, err := ListProcesses()
	require.NoError(t, err)

	selfPID := int32(os.Getpid())
	found := false
	for _, e := range entries {
		if e.PID == selfPID {
			found = true
			break
		}
	}
	assert.True(t, found, "own pid should appear among live processes")
}

func TestParsePID(t *testing.T) {
	pid, ok := ParsePID("  1234 \n")
	assert.True(t, ok)
	assert.Equal(t, 1234, pid)

	_, ok = ParsePID("not-a-pid")
	assert.False(t, ok)
}

func TestReadCurrentPIDsIncludesSelf(t *testing.T) {
	pids, err := ReadCurrentPIDs()
	require.NoError(t, err)
	assert.True(t, pids[os.Getpid()])
}
