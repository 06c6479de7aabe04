package task

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/resource"
)

func newEnvTestContext() *OptimizationContext {
	log := zerolog.Nop()
	return &OptimizationContext{
		Logger:       log,
		CPUFreqMan:   resource.NewCPUFrequencyManager(log, 2),
		CPUEnergyMan: resource.NewCPUEnergyPolicyManager(log, 2),
		GPUMan:       resource.NewGPUManager(log, nil, false),
		MouseMan:     resource.NewMouseCursorManager(log),
		CPUCount:     2,
	}
}

func trueVal() *bool { b := true; return &b }

func TestChangeCPUFrequencyGovernorShouldRunRequiresPerformanceFlag(t *testing.T) {
	octx := newEnvTestContext()
	tsk := NewChangeCPUFrequencyGovernor(octx)

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{CPU: &model.CPUSettings{Performance: trueVal()}}
	assert.True(t, tsk.ShouldRun(p))
}

func TestChangeCPUFrequencyGovernorIsAllowedForSelfRequests(t *testing.T) {
	tsk := NewChangeCPUFrequencyGovernor(newEnvTestContext())
	assert.True(t, tsk.IsAllowedForSelfRequests())
}

func TestChangeCPUFrequencyGovernorIsAvailableNoCPUs(t *testing.T) {
	octx := newEnvTestContext()
	octx.CPUCount = 0
	tsk := NewChangeCPUFrequencyGovernor(octx)

	ok, reason := tsk.IsAvailable(context.Background())
	assert.False(t, ok)
	assert.Contains(t, reason, "no CPU detected")
}

func TestChangeGPUModeToPerformanceShouldRun(t *testing.T) {
	tsk := NewChangeGPUModeToPerformance(newEnvTestContext())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{GPU: &model.GPUSettings{Performance: trueVal()}}
	assert.True(t, tsk.ShouldRun(p))
}

func TestChangeGPUModeToPerformanceIsAvailableWithoutCache(t *testing.T) {
	tsk := NewChangeGPUModeToPerformance(newEnvTestContext())
	ok, _ := tsk.IsAvailable(context.Background())
	assert.True(t, ok, "no GPU caching means availability is assumed")
}

func TestDisableWindowCompositorShouldRunRequiresValidProfile(t *testing.T) {
	tsk := NewDisableWindowCompositor(newEnvTestContext())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))
}

func TestHideMouseCursorShouldRun(t *testing.T) {
	tsk := NewHideMouseCursor(newEnvTestContext())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{HideMouse: trueVal()}
	assert.True(t, tsk.ShouldRun(p))
}

func TestStopProcessesAfterLaunchShouldRun(t *testing.T) {
	tsk := NewStopProcessesAfterLaunch(newEnvTestContext())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{StopAfter: &model.StopProcessSettings{Processes: map[string]bool{"foo": true}}}
	assert.True(t, tsk.ShouldRun(p))
}

func TestRunPostLaunchScriptsShouldRun(t *testing.T) {
	tsk := NewRunPostLaunchScripts(newEnvTestContext())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{AfterScripts: &model.ScriptSettings{Scripts: []string{"echo hi"}}}
	assert.True(t, tsk.ShouldRun(p))
}

func TestChangeCPUEnergyPolicyLevelShouldRunAndSelfAllowed(t *testing.T) {
	tsk := NewChangeCPUEnergyPolicyLevel(newEnvTestContext())
	assert.True(t, tsk.IsAllowedForSelfRequests())

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.False(t, tsk.ShouldRun(p))

	p.Profile = &model.OptimizationProfile{CPU: &model.CPUSettings{Performance: trueVal()}}
	assert.True(t, tsk.ShouldRun(p))
}

func TestParseKillFailuresExtractsPIDs(t *testing.T) {
	out := "kill: (123): No such process\nsome other line\nkill: (456): Operation not permitted"
	failed := parseKillFailures(out)

	assert.True(t, failed[123])
	assert.True(t, failed[456])
	assert.Len(t, failed, 2)
}

func TestParseKillFailuresEmptyOutput(t *testing.T) {
	assert.Empty(t, parseKillFailures(""))
}
