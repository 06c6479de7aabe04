// Package task defines the optimization pipeline's shared runtime context
// and the Task contract environment/process tasks both implement.
package task

import (
	"context"
	"time"

	gotaskflow "github.com/noneback/go-taskflow"
	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/queue"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/resource"
)

// OptimizationContext bundles every shared resource manager a task may
// need, plus the daemon-wide knobs that decide how tasks behave. It is
// built once at startup and handed to every task and to the watcher.
type OptimizationContext struct {
	Logger zerolog.Logger

	GPUMan       *resource.GPUManager
	CPUFreqMan   *resource.CPUFrequencyManager
	CPUEnergyMan *resource.CPUEnergyPolicyManager
	MouseMan     *resource.MouseCursorManager
	Queue        *queue.ProcessingQueue

	// TaskExecutor runs every environment/process task batch as an
	// independent-node taskflow graph, the concurrent analogue of
	// asyncio.gather over each task's coroutine.
	TaskExecutor gotaskflow.Executor

	CPUCount int

	// Compositor is discovered lazily on first DisableWindowCompositor run
	// unless pre-configured, so it starts out nil.
	Compositor resource.WindowCompositor

	AllowRootScripts       bool
	LauncherMappingTimeout float64
	RenicerInterval        time.Duration

	// CompositorDisabledContext holds the wctx DisableWindowCompositor
	// produced, so the restore task can pass it back to Enable.
	CompositorDisabledContext map[string]string
}

// NewOptimizationContext builds the context's taskflow executor with one
// worker per host CPU (minimum 1) and returns an otherwise-empty context
// ready to have its resource managers assigned.
func NewOptimizationContext(log zerolog.Logger, cpuCount int) *OptimizationContext {
	workers := cpuCount
	if workers < 1 {
		workers = 1
	}
	return &OptimizationContext{
		Logger:       log,
		CPUCount:     cpuCount,
		TaskExecutor: gotaskflow.NewExecutor(uint(workers)),
	}
}

// IsMouseCursorHidden reports the last known hidden state the mouse
// manager observed, or nil when no manager is configured.
func (c *OptimizationContext) IsMouseCursorHidden() *bool {
	if c.MouseMan == nil {
		return nil
	}
	return c.MouseMan.IsCursorHidden()
}

// Task is implemented by every environment and process optimization step.
type Task interface {
	IsAvailable(ctx context.Context) (bool, string)
	IsAllowedForSelfRequests() bool
	ShouldRun(process *model.OptimizedProcess) bool
	Run(ctx context.Context, process *model.OptimizedProcess) error
}

// baseTask supplies the IsAllowedForSelfRequests default (false), mirroring
// Task.is_allowed_for_self_requests in the original.
type baseTask struct{}

func (baseTask) IsAllowedForSelfRequests() bool { return false }
