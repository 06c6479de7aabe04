package proctune

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAndGetPriorityRoundtrip(t *testing.T) {
	pid := os.Getpid()

	original, err := GetPriority(pid)
	require.NoError(t, err)

	require.NoError(t, SetPriority(pid, original))

	level, err := GetPriority(pid)
	require.NoError(t, err)
	assert.Equal(t, original, level)
}

func TestSetAndGetAffinityRoundtrip(t *testing.T) {
	pid := os.Getpid()

	original, err := GetAffinity(pid)
	require.NoError(t, err)
	require.NotEmpty(t, original)

	require.NoError(t, SetAffinity(pid, original))

	affinity, err := GetAffinity(pid)
	require.NoError(t, err)
	assert.ElementsMatch(t, original, affinity)
}

func TestGetSchedulerReturnsCurrentPolicy(t *testing.T) {
	_, err := GetScheduler(os.Getpid())
	require.NoError(t, err)
}
