package task

import (
	"context"
	"reflect"
	"strings"
	"sync"

	gotaskflow "github.com/noneback/go-taskflow"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// envOrder and procOrder fix the pipeline's execution order: Go has no
// runtime subclass discovery, so the set of possible tasks is enumerated
// explicitly instead of gathered by reflection over a class hierarchy.
var envOrder = map[string]int{
	"*task.StopProcessesAfterLaunch":   0,
	"*task.RunPostLaunchScripts":       1,
	"*task.DisableWindowCompositor":    2,
	"*task.HideMouseCursor":            3,
	"*task.ChangeCPUFrequencyGovernor": 4,
	"*task.ChangeCPUEnergyPolicyLevel": 5,
	"*task.ChangeGPUModeToPerformance": 6,
}

var procOrder = map[string]int{
	"*task.ReniceProcess":          0,
	"*task.ChangeCPUAffinity":      1,
	"*task.ChangeCPUScalingPolicy": 2,
	"*task.ChangeProcessIOClass":   3,
}

func typeName(t Task) string { return reflect.TypeOf(t).String() }

// TasksManager probes every known task's availability once at startup and
// hands back the runnable subset, in fixed order, for each process.
type TasksManager struct {
	ctx *OptimizationContext

	mu       sync.Mutex
	envTasks []Task
	procTasks []Task
}

func NewTasksManager(c *OptimizationContext) *TasksManager {
	return &TasksManager{ctx: c}
}

func (m *TasksManager) allEnvironmentTasks() []Task {
	return []Task{
		NewStopProcessesAfterLaunch(m.ctx),
		NewRunPostLaunchScripts(m.ctx),
		NewDisableWindowCompositor(m.ctx),
		NewHideMouseCursor(m.ctx),
		NewChangeCPUFrequencyGovernor(m.ctx),
		NewChangeCPUEnergyPolicyLevel(m.ctx),
		NewChangeGPUModeToPerformance(m.ctx),
	}
}

func (m *TasksManager) allProcessTasks() []Task {
	return []Task{
		NewReniceProcess(m.ctx),
		NewChangeCPUAffinity(m.ctx),
		NewChangeCPUScalingPolicy(m.ctx),
		NewChangeProcessIOClass(m.ctx),
	}
}

// CheckAvailability probes every candidate task once, keeping only the
// ones this host can actually run, sorted by their fixed pipeline order.
func (m *TasksManager) CheckAvailability(ctx context.Context) {
	m.ctx.Logger.Debug().Msg("checking available tasks")

	var env, proc []Task

	for _, t := range m.allEnvironmentTasks() {
		if ok, msg := t.IsAvailable(ctx); ok {
			env = append(env, t)
		} else if msg != "" {
			m.ctx.Logger.Warn().Msg(msg)
		}
	}
	for _, t := range m.allProcessTasks() {
		if ok, msg := t.IsAvailable(ctx); ok {
			proc = append(proc, t)
		} else if msg != "" {
			m.ctx.Logger.Warn().Msg(msg)
		}
	}

	sortByOrder(env, envOrder)
	sortByOrder(proc, procOrder)

	if len(proc) > 0 {
		names := make([]string, len(proc))
		for i, t := range proc {
			names[i] = typeName(t)
		}
		m.ctx.Logger.Debug().Strs("tasks", names).Msg("process tasks available")
	}
	if len(env) > 0 {
		names := make([]string, len(env))
		for i, t := range env {
			names[i] = typeName(t)
		}
		m.ctx.Logger.Debug().Strs("tasks", names).Msg("environment tasks available")
	}

	m.mu.Lock()
	m.envTasks = env
	m.procTasks = proc
	m.mu.Unlock()
}

func sortByOrder(tasks []Task, order map[string]int) {
	rank := func(t Task) int {
		if v, ok := order[typeName(t)]; ok {
			return v
		}
		return 999
	}
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && rank(tasks[j]) < rank(tasks[j-1]); j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

// GetAvailableEnvironmentTasks returns the environment tasks that should
// run for this process, in pipeline order.
func (m *TasksManager) GetAvailableEnvironmentTasks(p *model.OptimizedProcess) []Task {
	m.mu.Lock()
	tasks := m.envTasks
	m.mu.Unlock()
	return listRunnableTasks(tasks, p)
}

// GetAvailableProcessTasks returns the process tasks that should run for
// this process, in pipeline order.
func (m *TasksManager) GetAvailableProcessTasks(p *model.OptimizedProcess) []Task {
	m.mu.Lock()
	tasks := m.procTasks
	m.mu.Unlock()
	return listRunnableTasks(tasks, p)
}

func listRunnableTasks(tasks []Task, p *model.OptimizedProcess) []Task {
	if len(tasks) == 0 {
		return nil
	}

	toVerify := tasks
	if p.Request != nil && p.Request.IsSelfRequest() {
		toVerify = nil
		for _, t := range tasks {
			if t.IsAllowedForSelfRequests() {
				toVerify = append(toVerify, t)
			}
		}
	}

	var runnable []Task
	for _, t := range toVerify {
		if t.ShouldRun(p) {
			runnable = append(runnable, t)
		}
	}
	return runnable
}

// RunTasks runs every task against process concurrently, as independent
// nodes of one taskflow graph, the Go analogue of awaiting asyncio.gather
// over each task's run coroutine. Falls back to a plain WaitGroup fan-out
// when the context carries no executor (e.g. in tests that never call
// NewOptimizationContext).
func RunTasks(ctx context.Context, executor gotaskflow.Executor, tasks []Task, p *model.OptimizedProcess, log func(err error)) {
	if len(tasks) == 0 {
		return
	}

	if executor == nil {
		var wg sync.WaitGroup
		for _, t := range tasks {
			wg.Add(1)
			go func(t Task) {
				defer wg.Done()
				if err := t.Run(ctx, p); err != nil && log != nil {
					log(err)
				}
			}(t)
		}
		wg.Wait()
		return
	}

	tf := gotaskflow.NewTaskFlow("optimization-tasks")
	errsByTask := make([]error, len(tasks))
	for i, t := range tasks {
		i, t := i, t
		tf.NewTask(typeName(t), func() {
			errsByTask[i] = t.Run(ctx, p)
		})
	}

	executor.Run(tf).Wait()

	if log != nil {
		for _, err := range errsByTask {
			if err != nil {
				log(err)
			}
		}
	}
}
