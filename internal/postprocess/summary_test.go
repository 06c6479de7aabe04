package postprocess

import (
	"context"
	"reflect"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
)

func newOctx() *task.OptimizationContext {
	return &task.OptimizationContext{Logger: zerolog.Nop()}
}

func TestSummarizerMarksDeadPIDsAndUserState(t *testing.T) {
	uid := 1000
	pid := 100
	req := &model.OptimizationRequest{
		PID:     &pid,
		UserID:  &uid,
		UserEnv: map[string]string{"DISPLAY": ":1"},
	}
	p := model.NewOptimizedProcess(req, nil, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{}, nil, newOctx())

	assert.False(t, p.Alive)
	assert.Equal(t, [][2]int{{0, 100}}, s.DeadPIDIndexes)
	assert.Equal(t, &uid, s.UserID)
	assert.Equal(t, ":1", s.UserEnv["DISPLAY"])
}

func TestSummarizerKeepsAliveProcessesUntouched(t *testing.T) {
	pid := 200
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, nil, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{200: true}, nil, newOctx())

	assert.True(t, p.Alive)
	assert.Empty(t, s.DeadPIDIndexes)
}

func TestSummarizerMouseAndCompositorAliveProcessesAreKept(t *testing.T) {
	hide := true
	profile := &model.OptimizationProfile{HideMouse: &hide, Compositor: &model.CompositorSettings{Off: &hide}}
	pid := 300
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, profile, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{300: true}, nil, newOctx())

	assert.True(t, s.KeepMouseHidden)
	assert.False(t, s.RestoreMouseCursor)
	assert.True(t, s.KeepCompositorDisabled)
}

func TestSummarizerProcessesToStopOnlyIncludesStillAlivePIDs(t *testing.T) {
	pid := 400
	p := model.NewOptimizedProcess(&model.OptimizationRequest{
		PID:         &pid,
		RelatedPIDs: []int{401, 402},
	}, nil, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{401: true}, nil, newOctx())

	assert.True(t, s.PIDsToStop[401])
	assert.False(t, s.PIDsToStop[402])
}

func TestSummarizerCPUGovernorAliveMarksInUse(t *testing.T) {
	pid := 500
	state := &model.CPUState{Governors: map[string]map[int]bool{"performance": {0: true}}}
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, nil, 1.0)
	p.PreviousCPUState = state

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{500: true}, nil, newOctx())

	assert.True(t, s.CPUsInUse)
	assert.Empty(t, s.PreviousCPUStates)
}

func TestSummarizerCPUGovernorDeadCollectsState(t *testing.T) {
	pid := 501
	state := &model.CPUState{Governors: map[string]map[int]bool{"performance": {0: true}}}
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, nil, 1.0)
	p.PreviousCPUState = state

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{}, nil, newOctx())

	assert.Len(t, s.PreviousCPUStates, 1)
	assert.False(t, s.CPUsInUse)
}

func TestSummarizerCPUEnergyPolicyDeadFlagsRestore(t *testing.T) {
	pid := 600
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, nil, 1.0)
	p.CPUEnergyPolicyChanged = true

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{}, nil, newOctx())

	assert.True(t, s.RestoreCPUEnergyPolicy)
	assert.False(t, s.KeepCPUEnergyPolicy)
}

func TestSummarizerGPUStateSplitsInUseFromFree(t *testing.T) {
	pid1, pid2 := 700, 701
	alive := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid1}, nil, 1.0)
	alive.PreviousGPUStates = map[string][]model.GPUState{"nvidia": {{ID: "gpu0", Vendor: "nvidia", PowerMode: "performance"}}}

	dead := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid2}, nil, 1.0)
	dead.PreviousGPUStates = map[string][]model.GPUState{"nvidia": {{ID: "gpu1", Vendor: "nvidia", PowerMode: "powersave"}}}

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{alive, dead}, map[int]bool{700: true}, nil, newOctx())

	assert.True(t, s.GPUsInUse["nvidia"]["gpu0"])
	assert.Len(t, s.PreviousGPUStates["nvidia"], 1)
	assert.Equal(t, "gpu1", s.PreviousGPUStates["nvidia"][0].ID)
}

func TestSummarizerFinishScriptsCollectedOnlyWhenDead(t *testing.T) {
	pid := 800
	scriptSettings := &model.ScriptSettings{Scripts: []string{"echo done"}}
	profile := &model.OptimizationProfile{FinishScripts: scriptSettings}
	p := model.NewOptimizedProcess(&model.OptimizationRequest{PID: &pid}, profile, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{}, nil, newOctx())

	assert.Len(t, s.PostScripts, 1)
	assert.Same(t, scriptSettings, s.PostScripts[p.CreatedAt])
}

func TestSummarizerRelaunchMarksNotRelaunchWhenAlive(t *testing.T) {
	pid := 900
	relaunch := true
	p := model.NewOptimizedProcess(&model.OptimizationRequest{
		PID:                      &pid,
		StoppedProcesses:         map[string]string{"helper": "/usr/bin/helper"},
		RelaunchStoppedProcesses: &relaunch,
	}, nil, 1.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{900: true}, nil, newOctx())

	assert.True(t, s.ProcessesNotRelaunch["helper"])
	assert.Empty(t, s.ProcessesRelaunchByTime)
}

func TestSummarizerRelaunchCollectsDeadProcessesByCreatedAt(t *testing.T) {
	pid := 901
	relaunch := true
	p := model.NewOptimizedProcess(&model.OptimizationRequest{
		PID:                      &pid,
		StoppedProcesses:         map[string]string{"helper": "/usr/bin/helper"},
		RelaunchStoppedProcesses: &relaunch,
	}, nil, 42.0)

	sm := NewSummarizer()
	s := sm.Summarize(context.Background(), []*model.OptimizedProcess{p}, map[int]bool{}, nil, newOctx())

	assert.Equal(t, "/usr/bin/helper", s.ProcessesRelaunchByTime[42.0]["helper"])
}

func TestNewSummarizerOrdersFillersByFillerOrder(t *testing.T) {
	sm := NewSummarizer()
	assert.Equal(t, "postprocess.userIDFiller", reflect.TypeOf(sm.fillers[0]).String())
	assert.Equal(t, "postprocess.processesToRelaunchFiller", reflect.TypeOf(sm.fillers[len(sm.fillers)-1]).String())
}
