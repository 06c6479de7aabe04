package sysview

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCPUCountIsPositive(t *testing.T) {
	n, err := CPUCount()
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}

func TestCaptureReturnsASnapshot(t *testing.T) {
	snap, err := Capture(10 * time.Millisecond)
	require.NoError(t, err)
	assert.Greater(t, snap.CPUCount, 0)
	assert.GreaterOrEqual(t, snap.MemoryUsed, 0.0)
	assert.GreaterOrEqual(t, snap.LiveProcesses, 1, "at least this test process should be counted")
}
