package postprocess

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewManagerOrdersTasksByTaskOrder(t *testing.T) {
	m := NewManager(newOctx())
	tasks := m.AvailableTasks()

	assert.Len(t, tasks, 8)
	assert.IsType(t, &reEnableWindowCompositor{}, tasks[0])
	assert.IsType(t, &runFinishScripts{}, tasks[len(tasks)-1])
}

func TestManagerRunSkipsTasksThatShouldNotRun(t *testing.T) {
	m := NewManager(newOctx())
	c := &RestoreContext{}

	assert.NotPanics(t, func() {
		m.Run(context.Background(), c)
	})
}

func TestPostStopProcessesShouldRun(t *testing.T) {
	tsk := &postStopProcesses{ctx: newOctx()}
	assert.False(t, tsk.ShouldRun(&RestoreContext{}))
	assert.True(t, tsk.ShouldRun(&RestoreContext{PIDsToStop: map[int]bool{1: true}}))
}

func TestRestoreGPUStateShouldRun(t *testing.T) {
	tsk := &restoreGPUState{ctx: newOctx()}
	assert.False(t, tsk.ShouldRun(&RestoreContext{}))
}

func TestReEnableWindowCompositorRequiresCompositorAndContext(t *testing.T) {
	octx := newOctx()
	tsk := &reEnableWindowCompositor{ctx: octx}

	assert.False(t, tsk.ShouldRun(&RestoreContext{RestoreCompositor: true}), "compositor not yet discovered means nothing to re-enable")
}

func TestRunFinishScriptsShouldRunOnlyWithValidScripts(t *testing.T) {
	tsk := newRunFinishScripts(newOctx())
	assert.False(t, tsk.ShouldRun(&RestoreContext{}))
}

func TestRelaunchStoppedProcessesRequiresUserID(t *testing.T) {
	tsk := newRelaunchStoppedProcesses(newOctx())
	assert.False(t, tsk.ShouldRun(&RestoreContext{StoppedProcesses: [][2]string{{"a", "b"}}}))

	uid := 1000
	assert.True(t, tsk.ShouldRun(&RestoreContext{StoppedProcesses: [][2]string{{"a", "b"}}, UserID: &uid}))
}

func TestRestoreMouseCursorShouldRun(t *testing.T) {
	tsk := &restoreMouseCursor{ctx: newOctx()}
	assert.False(t, tsk.ShouldRun(&RestoreContext{}))
	assert.True(t, tsk.ShouldRun(&RestoreContext{RestoreMouseCursor: true}))
}

func TestRestoreCPUEnergyPolicyShouldRun(t *testing.T) {
	tsk := &restoreCPUEnergyPolicy{ctx: newOctx()}
	assert.False(t, tsk.ShouldRun(&RestoreContext{}))
	assert.True(t, tsk.ShouldRun(&RestoreContext{RestoreCPUEnergyPolicy: true}))
}

func TestIsRootUser(t *testing.T) {
	zero := 0
	nonZero := 1000
	assert.True(t, isRootUser(&zero))
	assert.False(t, isRootUser(&nonZero))
}

func TestRemoveDuplicatesPrefersLargestGovernorGroup(t *testing.T) {
	governorCPUs := map[string]map[int]bool{
		"performance": {0: true, 1: true},
		"powersave":   {0: true},
	}
	cpuGovernors := map[int]map[string]bool{
		0: {"performance": true, "powersave": true},
		1: {"performance": true},
	}

	removeDuplicates(governorCPUs, cpuGovernors)

	assert.True(t, governorCPUs["performance"][0])
	assert.False(t, governorCPUs["powersave"][0])
}

func TestMapGovernorsAggregatesAcrossGroups(t *testing.T) {
	governorCPUs, cpuGovernors := mapGovernors([]map[string]map[int]bool{
		{"performance": {0: true}},
		{"powersave": {1: true}},
	})

	assert.True(t, governorCPUs["performance"][0])
	assert.True(t, governorCPUs["powersave"][1])
	assert.True(t, cpuGovernors[0]["performance"])
	assert.True(t, cpuGovernors[1]["powersave"])
}
