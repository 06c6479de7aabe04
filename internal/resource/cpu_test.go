package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeGovernorFiles(t *testing.T, dir string, n int, governor string) string {
	t.Helper()
	for i := 0; i < n; i++ {
		sub := filepath.Join(dir, fmt.Sprintf("cpu%d/cpufreq", i))
		require.NoError(t, os.MkdirAll(sub, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(sub, "scaling_governor"), []byte(governor), 0o644))
	}
	return filepath.Join(dir, "cpu%d/cpufreq/scaling_governor")
}

func TestCPUFrequencyManagerMapAndChangeGovernor(t *testing.T) {
	dir := t.TempDir()
	pattern := writeFakeGovernorFiles(t, dir, 2, "powersave")

	m := NewCPUFrequencyManager(zerolog.Nop(), 2)
	m.governorPattern = pattern

	governors := m.MapCurrentGovernors()
	assert.ElementsMatch(t, []int{0, 1}, governors["powersave"])

	changed := m.ChangeGovernor(GovernorPerformance, nil)
	assert.ElementsMatch(t, []int{0, 1}, changed)

	governors = m.MapCurrentGovernors()
	assert.ElementsMatch(t, []int{0, 1}, governors[GovernorPerformance])
}

func TestCPUFrequencyManagerSaveGovernorsIsMonotonic(t *testing.T) {
	m := NewCPUFrequencyManager(zerolog.Nop(), 2)
	m.SaveGovernors(map[string][]int{"powersave": {0, 1}})
	m.SaveGovernors(map[string][]int{GovernorPerformance: {0, 1}})

	saved := m.GetSavedGovernors()
	assert.ElementsMatch(t, []int{0, 1}, saved["powersave"], "first-observed governor must win")
}

func TestCPUEnergyPolicyManagerCanWork(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "cpu%d/power/energy_perf_bias")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cpu0/power"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu0/power/energy_perf_bias"), []byte("6"), 0o644))

	m := NewCPUEnergyPolicyManager(zerolog.Nop(), 1)
	m.filePattern = pattern

	ok, reason := m.CanWork()
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestCPUEnergyPolicyManagerCanWorkNoCPUs(t *testing.T) {
	m := NewCPUEnergyPolicyManager(zerolog.Nop(), 0)
	ok, reason := m.CanWork()
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestCPUEnergyPolicyManagerStateRoundtrip(t *testing.T) {
	dir := t.TempDir()
	pattern := filepath.Join(dir, "cpu%d/power/energy_perf_bias")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "cpu0/power"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cpu0/power/energy_perf_bias"), []byte("6"), 0o644))

	m := NewCPUEnergyPolicyManager(zerolog.Nop(), 1)
	m.filePattern = pattern

	current := m.MapCurrentState()
	assert.Equal(t, 6, current[0])

	m.SaveState(current)
	assert.Equal(t, 6, m.SavedState()[0])

	results := m.ChangeStates(map[int]int{0: EnergyLevelPerformance})
	assert.True(t, results[0])

	current = m.MapCurrentState()
	assert.Equal(t, EnergyLevelPerformance, current[0])

	m.ClearState()
	assert.Empty(t, m.SavedState())
}

func TestCPUCountNeverNegative(t *testing.T) {
	assert.GreaterOrEqual(t, CPUCount(), 0)
}
