package resource

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

const (
	governorFilePattern  = "/sys/devices/system/cpu/cpu%d/cpufreq/scaling_governor"
	GovernorPerformance  = "performance"
	energyPolicyPattern  = "/sys/devices/system/cpu/cpu%d/power/energy_perf_bias"
	EnergyLevelPerformance = 0
)

// CPUCount reports the number of logical CPUs, falling back to 0 (matching
// get_cpu_count's defensive behaviour) rather than erroring.
func CPUCount() int {
	n := runtime.NumCPU()
	if n < 0 {
		return 0
	}
	return n
}

// CPUFrequencyManager reads and writes the scaling_governor sysfs file per
// CPU, caching the first-observed governor of each cpu so it can be
// restored exactly once.
type CPUFrequencyManager struct {
	log             zerolog.Logger
	governorPattern string
	cpuCount        int

	mu               sync.Mutex
	cachedGovernors  map[int]string
}

func NewCPUFrequencyManager(log zerolog.Logger, cpuCount int) *CPUFrequencyManager {
	return &CPUFrequencyManager{log: log, governorPattern: governorFilePattern, cpuCount: cpuCount, cachedGovernors: map[int]string{}}
}

// Lock exposes the manager's mutex so handler/task code can serialize a
// read-then-write sequence the same way the original awaits self._lock.
func (m *CPUFrequencyManager) Lock() *sync.Mutex { return &m.mu }

// SaveGovernors records the first observed governor per cpu; subsequent
// calls for an already-cached cpu are no-ops (monotonic save semantics).
func (m *CPUFrequencyManager) SaveGovernors(governorCPUs map[string][]int) {
	for gov, cpus := range governorCPUs {
		for _, cpu := range cpus {
			if _, ok := m.cachedGovernors[cpu]; !ok {
				m.cachedGovernors[cpu] = gov
			}
		}
	}
}

// GetSavedGovernors returns the cached governors grouped back by governor
// name, or nil if nothing has been saved yet.
func (m *CPUFrequencyManager) GetSavedGovernors() map[string][]int {
	if len(m.cachedGovernors) == 0 {
		return nil
	}
	out := map[string][]int{}
	for cpu, gov := range m.cachedGovernors {
		out[gov] = append(out[gov], cpu)
	}
	return out
}

// MapCurrentGovernors reads every cpu's current governor from sysfs.
func (m *CPUFrequencyManager) MapCurrentGovernors() map[string][]int {
	governors := map[string][]int{}
	if m.cpuCount <= 0 {
		return governors
	}

	for cpu := 0; cpu < m.cpuCount; cpu++ {
		path := fmt.Sprintf(m.governorPattern, cpu)
		data, err := os.ReadFile(path)
		if err != nil {
			m.log.Warn().Int("cpu", cpu).Str("file", path).Msg("could not read governor file")
			continue
		}
		gov := strings.TrimSpace(string(data))
		governors[gov] = append(governors[gov], cpu)
	}
	return governors
}

func (m *CPUFrequencyManager) writeGovernor(idx int, governor string) bool {
	path := fmt.Sprintf(m.governorPattern, idx)
	return os.WriteFile(path, []byte(governor), 0644) == nil
}

// ChangeGovernor writes governor to every requested cpu concurrently and
// returns the set that actually changed.
func (m *CPUFrequencyManager) ChangeGovernor(governor string, cpuIdxs []int) []int {
	if m.cpuCount == 0 {
		return nil
	}

	targets := cpuIdxs
	if len(targets) == 0 {
		targets = make([]int, m.cpuCount)
		for i := range targets {
			targets[i] = i
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var changed, notChanged []int

	for _, idx := range targets {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			ok := m.writeGovernor(idx, governor)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				changed = append(changed, idx)
			} else {
				notChanged = append(notChanged, idx)
			}
		}(idx)
	}
	wg.Wait()

	if len(notChanged) > 0 {
		m.log.Warn().Ints("cpus", notChanged).Str("governor", governor).Msg("could not change frequency governor")
	}
	if len(changed) > 0 {
		m.log.Info().Ints("cpus", changed).Str("governor", governor).Msg("frequency governor changed")
	}
	return changed
}

// CPUEnergyPolicyManager reads and writes the energy_perf_bias sysfs file
// per CPU, with the same monotonic-save cache as the frequency manager.
type CPUEnergyPolicyManager struct {
	log         zerolog.Logger
	cpus        int
	filePattern string

	mu         sync.Mutex
	stateCache map[int]int
}

func NewCPUEnergyPolicyManager(log zerolog.Logger, cpuCount int) *CPUEnergyPolicyManager {
	return &CPUEnergyPolicyManager{log: log, cpus: cpuCount, filePattern: energyPolicyPattern, stateCache: map[int]int{}}
}

func (m *CPUEnergyPolicyManager) Lock() *sync.Mutex { return &m.mu }

// CanWork reports whether any CPU was detected and the bias file exists
// for cpu 0.
func (m *CPUEnergyPolicyManager) CanWork() (bool, string) {
	if m.cpus <= 0 {
		return false, "it will not be possible to change the CPU energy policy level: no CPU detected"
	}
	path := fmt.Sprintf(m.filePattern, 0)
	if _, err := os.Stat(path); err != nil {
		return false, fmt.Sprintf("it will not be possible to change the CPU energy policy level: file '%s' not found", path)
	}
	return true, ""
}

func (m *CPUEnergyPolicyManager) readState(idx int) (int, bool) {
	path := fmt.Sprintf(m.filePattern, idx)
	data, err := os.ReadFile(path)
	if err != nil {
		m.log.Error().Int("cpu", idx).Str("file", path).Err(err).Msg("could not read CPU energy policy file")
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		m.log.Error().Int("cpu", idx).Str("file", path).Msg("could not cast CPU energy policy level to int")
		return 0, false
	}
	return v, true
}

func (m *CPUEnergyPolicyManager) writeState(idx, state int) bool {
	path := fmt.Sprintf(m.filePattern, idx)
	if err := os.WriteFile(path, []byte(strconv.Itoa(state)), 0644); err != nil {
		m.log.Error().Int("cpu", idx).Int("state", state).Str("file", path).Err(err).Msg("could not write CPU energy policy state")
		return false
	}
	return true
}

// MapCurrentState reads every cpu's current energy policy level.
func (m *CPUEnergyPolicyManager) MapCurrentState() map[int]int {
	if m.cpus <= 0 {
		return nil
	}
	res := map[int]int{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for idx := 0; idx < m.cpus; idx++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if v, ok := m.readState(idx); ok {
				mu.Lock()
				res[idx] = v
				mu.Unlock()
			}
		}(idx)
	}
	wg.Wait()
	if len(res) == 0 {
		return nil
	}
	return res
}

// ChangeStates writes the given per-cpu energy policy level and reports
// which writes succeeded.
func (m *CPUEnergyPolicyManager) ChangeStates(cpuStates map[int]int) map[int]bool {
	if m.cpus <= 0 || len(cpuStates) == 0 {
		return nil
	}
	res := map[int]bool{}
	var wg sync.WaitGroup
	var mu sync.Mutex
	for idx, state := range cpuStates {
		wg.Add(1)
		go func(idx, state int) {
			defer wg.Done()
			ok := m.writeState(idx, state)
			mu.Lock()
			res[idx] = ok
			mu.Unlock()
		}(idx, state)
	}
	wg.Wait()
	return res
}

// SaveState records the first observed energy policy level per cpu.
func (m *CPUEnergyPolicyManager) SaveState(cpuStates map[int]int) {
	for idx, state := range cpuStates {
		if _, ok := m.stateCache[idx]; !ok {
			m.stateCache[idx] = state
		}
	}
}

// SavedState returns a copy of the cached pre-optimization states.
func (m *CPUEnergyPolicyManager) SavedState() map[int]int {
	out := make(map[int]int, len(m.stateCache))
	for k, v := range m.stateCache {
		out[k] = v
	}
	return out
}

// ClearState drops the given cpu keys from the cache, or clears it entirely
// when called with no arguments.
func (m *CPUEnergyPolicyManager) ClearState(keys ...int) {
	if len(keys) == 0 {
		m.stateCache = map[int]int{}
		return
	}
	for _, k := range keys {
		delete(m.stateCache, k)
	}
}
