package postprocess

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func TestContextMapperCopiesUserAndPIDsToStop(t *testing.T) {
	uid := 1000
	s := emptySummary()
	s.UserID = &uid
	s.UserEnv = map[string]string{"DISPLAY": ":1"}
	s.PIDsToStop = map[int]bool{100: true}

	c := NewContextMapper().Map(s)

	assert.Equal(t, &uid, c.UserID)
	assert.Equal(t, ":1", c.UserEnv["DISPLAY"])
	assert.True(t, c.PIDsToStop[100])
}

func TestContextMapperCompositorRestoreRespectsKeep(t *testing.T) {
	s := emptySummary()
	s.RestoreCompositor = true
	s.KeepCompositorDisabled = true

	c := NewContextMapper().Map(s)
	assert.False(t, c.RestoreCompositor, "a still-active compositor user must block the restore")
}

func TestContextMapperCPUGovernorsOnlyWhenNotInUse(t *testing.T) {
	state := &model.CPUState{Governors: map[string]map[int]bool{"powersave": {0: true}}}

	inUse := emptySummary()
	inUse.PreviousCPUStates = []*model.CPUState{state}
	inUse.CPUsInUse = true
	assert.Nil(t, NewContextMapper().Map(inUse).RestorableCPUs)

	free := emptySummary()
	free.PreviousCPUStates = []*model.CPUState{state}
	c := NewContextMapper().Map(free)
	assert.Equal(t, []*model.CPUState{state}, c.RestorableCPUs)
}

func TestContextMapperGPUsExcludesStillInUseIDs(t *testing.T) {
	s := emptySummary()
	s.PreviousGPUStates = map[string][]model.GPUState{
		"nvidia": {{ID: "gpu0", Vendor: "nvidia"}, {ID: "gpu1", Vendor: "nvidia"}},
	}
	s.GPUsInUse = map[string]map[string]bool{"nvidia": {"gpu0": true}}

	c := NewContextMapper().Map(s)
	assert.Len(t, c.RestorableGPUs["nvidia"], 1)
	assert.Equal(t, "gpu1", c.RestorableGPUs["nvidia"][0].ID)
}

func TestContextMapperGPUsOmittedWhenAllInUse(t *testing.T) {
	s := emptySummary()
	s.PreviousGPUStates = map[string][]model.GPUState{"nvidia": {{ID: "gpu0", Vendor: "nvidia"}}}
	s.GPUsInUse = map[string]map[string]bool{"nvidia": {"gpu0": true}}

	c := NewContextMapper().Map(s)
	assert.Empty(t, c.RestorableGPUs)
}

func TestContextMapperScriptsSortedByTimestamp(t *testing.T) {
	s := emptySummary()
	first := &model.ScriptSettings{Scripts: []string{"first"}}
	second := &model.ScriptSettings{Scripts: []string{"second"}}
	s.PostScripts = map[float64]*model.ScriptSettings{
		5.0: second,
		1.0: first,
	}

	c := NewContextMapper().Map(s)
	assert.Equal(t, []*model.ScriptSettings{first, second}, c.Scripts)
}

func TestContextMapperStoppedProcessesDedupedAndOrdered(t *testing.T) {
	s := emptySummary()
	s.ProcessesRelaunchByTime = map[float64]map[string]string{
		1.0: {"helper": "/usr/bin/helper"},
		2.0: {"helper": "/usr/bin/helper", "other": ""},
	}

	c := NewContextMapper().Map(s)
	assert.Equal(t, [][2]string{{"helper", "/usr/bin/helper"}}, c.StoppedProcesses)
	assert.Equal(t, map[string]bool{"other": true}, c.NotStoppedProcesses, "other was only ever seen with an empty command and never stopped elsewhere")
}

func TestContextMapperNotStoppedExcludesEntriesThatWereStoppedElsewhere(t *testing.T) {
	s := emptySummary()
	s.ProcessesRelaunchByTime = map[float64]map[string]string{
		1.0: {"helper": ""},
		2.0: {"helper": "/usr/bin/helper"},
	}

	c := NewContextMapper().Map(s)
	assert.Empty(t, c.NotStoppedProcesses)
	assert.Equal(t, [][2]string{{"helper", "/usr/bin/helper"}}, c.StoppedProcesses)
}

func TestContextMapperSkipsEntriesMarkedNotRelaunch(t *testing.T) {
	s := emptySummary()
	s.ProcessesNotRelaunch = map[string]bool{"helper": true}
	s.ProcessesRelaunchByTime = map[float64]map[string]string{
		1.0: {"helper": "/usr/bin/helper"},
	}

	c := NewContextMapper().Map(s)
	assert.Empty(t, c.StoppedProcesses)
}
