package postprocess

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/scripts"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
)

// Task mirrors one PostProcessTask: it decides whether it applies to a
// restore context and, if so, undoes whatever state it owns.
type Task interface {
	ShouldRun(c *RestoreContext) bool
	Run(ctx context.Context, c *RestoreContext) error
}

var taskOrder = map[string]int{
	"*postprocess.reEnableWindowCompositor": 0,
	"*postprocess.postStopProcesses":        1,
	"*postprocess.restoreMouseCursor":       2,
	"*postprocess.restoreGPUState":          3,
	"*postprocess.restoreCPUGovernor":       4,
	"*postprocess.restoreCPUEnergyPolicy":   5,
	"*postprocess.relaunchStoppedProcesses": 6,
	"*postprocess.runFinishScripts":         7,
}

// restoreGPUState puts every GPU that no longer has an optimized process
// using it back to the power mode it had before.
type restoreGPUState struct {
	ctx *task.OptimizationContext
}

func (t *restoreGPUState) ShouldRun(c *RestoreContext) bool { return len(c.RestorableGPUs) > 0 }

func (t *restoreGPUState) restoreDriver(ctx context.Context, driver interface {
	VendorName() string
	Lock() *sync.Mutex
	GetPowerMode(context.Context, map[string]bool, map[string]string) (map[string]any, error)
	SetPowerMode(context.Context, map[string]any, map[string]string) map[string]bool
	DefaultMode() any
}, states []model.GPUState, userEnv map[string]string) {
	driver.Lock().Lock()
	defer driver.Lock().Unlock()

	gpuModes := map[string]map[any]bool{}
	for _, st := range states {
		modes := gpuModes[st.ID]
		if modes == nil {
			modes = map[any]bool{}
			gpuModes[st.ID] = modes
		}
		modes[st.PowerMode] = true
	}

	ids := map[string]bool{}
	for id := range gpuModes {
		ids[id] = true
	}

	currentModes, err := driver.GetPowerMode(ctx, ids, userEnv)
	if err != nil {
		return
	}

	toRestore := map[string]any{}
	for id, modes := range gpuModes {
		var mode any
		if len(modes) == 1 {
			for m := range modes {
				mode = m
			}
		} else {
			mode = driver.DefaultMode()
		}
		current, known := currentModes[id]
		if mode == nil {
			t.ctx.Logger.Error().Str("vendor", driver.VendorName()).Str("gpu", id).Msg("current mode unknown for GPU")
			continue
		}
		if !known || mode != current {
			toRestore[id] = mode
		} else {
			t.ctx.Logger.Info().Str("vendor", driver.VendorName()).Str("gpu", id).Msg("it is not necessary to restore GPU mode")
		}
	}

	if len(toRestore) == 0 {
		return
	}

	changed := driver.SetPowerMode(ctx, toRestore, userEnv)
	var notRestored []string
	for id, ok := range changed {
		if !ok {
			notRestored = append(notRestored, id)
		}
	}
	if len(notRestored) > 0 {
		t.ctx.Logger.Error().Str("vendor", driver.VendorName()).Strs("gpus", notRestored).Msg("could not restore GPU power mode")
	}
}

func (t *restoreGPUState) Run(ctx context.Context, c *RestoreContext) error {
	var wg sync.WaitGroup
	for _, driver := range t.ctx.GPUMan.Drivers() {
		states := c.RestorableGPUs[driver.VendorName()]
		if len(states) == 0 {
			continue
		}
		wg.Add(1)
		go func(driver interface {
			VendorName() string
			Lock() *sync.Mutex
			GetPowerMode(context.Context, map[string]bool, map[string]string) (map[string]any, error)
			SetPowerMode(context.Context, map[string]any, map[string]string) map[string]bool
			DefaultMode() any
		}, states []model.GPUState) {
			defer wg.Done()
			t.restoreDriver(ctx, driver, states, c.UserEnv)
		}(driver, states)
	}
	wg.Wait()
	return nil
}

// restoreCPUGovernor restores every CPU's frequency governor to what it
// was before any optimized process changed it.
type restoreCPUGovernor struct {
	ctx *task.OptimizationContext
}

func (t *restoreCPUGovernor) ShouldRun(c *RestoreContext) bool { return len(c.RestorableCPUs) > 0 }

func mapGovernors(groups []map[string]map[int]bool) (map[string]map[int]bool, map[int]map[string]bool) {
	governorCPUs := map[string]map[int]bool{}
	cpuGovernors := map[int]map[string]bool{}

	for _, govs := range groups {
		for gov, cpus := range govs {
			gc := governorCPUs[gov]
			if gc == nil {
				gc = map[int]bool{}
				governorCPUs[gov] = gc
			}
			for cpu := range cpus {
				gc[cpu] = true
				cg := cpuGovernors[cpu]
				if cg == nil {
					cg = map[string]bool{}
					cpuGovernors[cpu] = cg
				}
				cg[gov] = true
			}
		}
	}
	return governorCPUs, cpuGovernors
}

func (t *restoreCPUGovernor) governors(cpuStates []*model.CPUState) (map[string]map[int]bool, map[int]map[string]bool) {
	var groups []map[string]map[int]bool
	for _, st := range cpuStates {
		if st != nil && len(st.Governors) > 0 {
			groups = append(groups, st.Governors)
		}
	}
	governorCPUs, cpuGovernors := mapGovernors(groups)
	if len(governorCPUs) == 0 {
		if saved := t.ctx.CPUFreqMan.GetSavedGovernors(); len(saved) > 0 {
			converted := map[string]map[int]bool{}
			for gov, cpus := range saved {
				set := map[int]bool{}
				for _, c := range cpus {
					set[c] = true
				}
				converted[gov] = set
			}
			governorCPUs, cpuGovernors = mapGovernors([]map[string]map[int]bool{converted})
		}
	}
	return governorCPUs, cpuGovernors
}

// removeDuplicates drops a CPU from every governor but the one mapped to
// the most CPUs, so a CPU is never restored to two governors at once.
func removeDuplicates(governorCPUs map[string]map[int]bool, cpuGovernors map[int]map[string]bool) {
	type govSize struct {
		gov  string
		size int
	}
	var sizes []govSize
	for gov, cpus := range governorCPUs {
		sizes = append(sizes, govSize{gov, len(cpus)})
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i].size > sizes[j].size })
	priority := map[string]int{}
	for i, gs := range sizes {
		priority[gs.gov] = i
	}

	toRemove := map[string]map[int]bool{}
	for cpu, govs := range cpuGovernors {
		if len(govs) <= 1 {
			continue
		}
		var prefGov string
		prefIdx := -1
		for gov := range govs {
			if prefIdx == -1 || priority[gov] < prefIdx {
				prefIdx = priority[gov]
				prefGov = gov
			}
		}
		for gov := range govs {
			if gov != prefGov {
				if toRemove[gov] == nil {
					toRemove[gov] = map[int]bool{}
				}
				toRemove[gov][cpu] = true
			}
		}
	}

	for gov, cpus := range toRemove {
		for cpu := range cpus {
			delete(governorCPUs[gov], cpu)
		}
	}
}

func cpuSetToSlice(cpus map[int]bool) []int {
	out := make([]int, 0, len(cpus))
	for c := range cpus {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

func (t *restoreCPUGovernor) Run(ctx context.Context, c *RestoreContext) error {
	lock := t.ctx.CPUFreqMan.Lock()
	lock.Lock()
	defer lock.Unlock()

	governorCPUs, cpuGovernors := t.governors(c.RestorableCPUs)

	if len(governorCPUs) == 0 {
		t.ctx.Logger.Warn().Msg("previous CPU governors could not be restored because they are unknown")
		return nil
	}

	if len(governorCPUs) == 1 {
		for governor, cpus := range governorCPUs {
			cpuList := cpuSetToSlice(cpus)
			t.ctx.Logger.Debug().Ints("cpus", cpuList).Str("governor", governor).Msg("restoring CPU governor")
			t.ctx.CPUFreqMan.ChangeGovernor(governor, cpuList)
		}
		return nil
	}

	removeDuplicates(governorCPUs, cpuGovernors)
	for governor, cpus := range governorCPUs {
		if len(cpus) == 0 {
			continue
		}
		cpuList := cpuSetToSlice(cpus)
		t.ctx.Logger.Debug().Ints("cpus", cpuList).Str("governor", governor).Msg("restoring CPU governor")
		t.ctx.CPUFreqMan.ChangeGovernor(governor, cpuList)
	}
	return nil
}

// postStopProcesses kills every pid (and its children) left behind by
// dead optimized processes that requested related processes be stopped.
type postStopProcesses struct {
	ctx *task.OptimizationContext
}

func (t *postStopProcesses) ShouldRun(c *RestoreContext) bool { return len(c.PIDsToStop) > 0 }

func (t *postStopProcesses) Run(ctx context.Context, c *RestoreContext) error {
	t.ctx.Logger.Debug().Msg("finding children of related processes")
	children, err := sysutil.FindChildren(c.PIDsToStop)
	if err != nil || len(children) == 0 {
		t.ctx.Logger.Debug().Msg("no children of related processes found")
		children = nil
	}

	all := make([]string, 0, len(children)+len(c.PIDsToStop))
	for _, pid := range children {
		all = append(all, fmt.Sprintf("%d", pid))
	}
	for pid := range c.PIDsToStop {
		all = append(all, fmt.Sprintf("%d", pid))
	}

	joined := strings.Join(all, " ")
	t.ctx.Logger.Info().Str("pids", joined).Msg("stopping related processes")

	code, _, err := sysutil.Syscall(ctx, "kill -9 "+joined, nil)
	if err != nil || code != 0 {
		t.ctx.Logger.Error().Str("pids", joined).Msg("not all related processes could be stopped")
	}
	return nil
}

// reEnableWindowCompositor turns the compositor back on once it is no
// longer needed for any still-alive optimized process.
type reEnableWindowCompositor struct {
	ctx *task.OptimizationContext
}

func (t *reEnableWindowCompositor) ShouldRun(c *RestoreContext) bool {
	return c.RestoreCompositor && t.ctx.Compositor != nil && t.ctx.CompositorDisabledContext != nil
}

func (t *reEnableWindowCompositor) Run(ctx context.Context, c *RestoreContext) error {
	compositor, wctx := t.ctx.Compositor, t.ctx.CompositorDisabledContext

	lock := compositor.Lock()
	lock.Lock()
	defer lock.Unlock()

	enabled, err := compositor.IsEnabled(ctx, c.UserID, c.UserEnv, wctx)
	if err != nil || enabled == nil {
		t.ctx.Logger.Error().Msg("could not re-enable the window compositor: current state unknown")
		return nil
	}
	if *enabled {
		t.ctx.Logger.Info().Msg("window compositor already enabled")
		t.ctx.CompositorDisabledContext = nil
		return nil
	}

	ok, err := compositor.Enable(ctx, c.UserID, c.UserEnv, wctx)
	if err != nil || !ok {
		t.ctx.Logger.Error().Msg("could not re-enable the window compositor")
		return nil
	}
	t.ctx.Logger.Info().Msg("window compositor re-enabled")
	t.ctx.CompositorDisabledContext = nil
	return nil
}

// runFinishScripts runs every `scripts.finish` group collected from dead
// processes, respecting the same root/non-root rules as launch scripts.
type runFinishScripts struct {
	ctx    *task.OptimizationContext
	runner *scripts.RunScripts
}

func newRunFinishScripts(c *task.OptimizationContext) *runFinishScripts {
	return &runFinishScripts{ctx: c, runner: scripts.New("finish", c.AllowRootScripts, c.Logger)}
}

func (t *runFinishScripts) ShouldRun(c *RestoreContext) bool {
	for _, s := range c.Scripts {
		if s.IsValid() {
			return true
		}
	}
	return false
}

func (t *runFinishScripts) Run(ctx context.Context, c *RestoreContext) error {
	t.runner.Run(ctx, c.Scripts, c.UserID, c.UserEnv)
	return nil
}

// relaunchStoppedProcesses restarts whatever related processes were
// stopped and are flagged for relaunch.
type relaunchStoppedProcesses struct {
	ctx           *task.OptimizationContext
	rePythonCmd   *regexp.Regexp
}

func newRelaunchStoppedProcesses(c *task.OptimizationContext) *relaunchStoppedProcesses {
	return &relaunchStoppedProcesses{ctx: c, rePythonCmd: regexp.MustCompile(`^/.+/python\d*\s+(/.+)$`)}
}

func (t *relaunchStoppedProcesses) ShouldRun(c *RestoreContext) bool {
	return len(c.StoppedProcesses) > 0 && c.UserID != nil
}

func (t *relaunchStoppedProcesses) runCommand(ctx context.Context, name, cmd string) {
	if _, _, err := sysutil.Syscall(ctx, cmd, nil); err != nil {
		t.ctx.Logger.Warn().Str("name", name).Str("cmd", cmd).Err(err).Msg("could not relaunch process")
		return
	}
	t.ctx.Logger.Info().Str("name", name).Str("cmd", cmd).Msg("process relaunched")
}

func (t *relaunchStoppedProcesses) runUserCommand(ctx context.Context, name, cmd string, uid int, env map[string]string) {
	go func() {
		if _, _, err := sysutil.RunUserCommand(context.Background(), cmd, uid, env, false); err != nil {
			t.ctx.Logger.Warn().Str("name", name).Str("cmd", cmd).Int("uid", uid).Err(err).Msg("could not relaunch process")
			return
		}
		t.ctx.Logger.Info().Str("name", name).Str("cmd", cmd).Int("uid", uid).Msg("process relaunched")
	}()
}

func (t *relaunchStoppedProcesses) Run(ctx context.Context, c *RestoreContext) error {
	selfIsRoot := isRootUser(nil)
	rootRequest := isRootUser(c.UserID)

	if !selfIsRoot && rootRequest {
		names := make([]string, len(c.StoppedProcesses))
		for i, p := range c.StoppedProcesses {
			names[i] = p[0]
		}
		t.ctx.Logger.Warn().Strs("processes", names).Msg("it will not be possible to launch these root processes")
		return nil
	}

	cmds := map[string]bool{}
	for _, p := range c.StoppedProcesses {
		cmds[p[1]] = true
	}
	runningCmds := sysutil.FindProcessesByCommand(cmds)

	for _, p := range c.StoppedProcesses {
		name, cmd := p[0], p[1]
		if runningCmds[cmd] {
			t.ctx.Logger.Warn().Str("name", name).Str("cmd", cmd).Msg("process is alive, skipping relaunch")
			continue
		}

		realCmd := cmd
		if m := t.rePythonCmd.FindStringSubmatch(cmd); len(m) > 1 {
			realCmd = m[1]
		}

		if selfIsRoot {
			if rootRequest {
				t.runCommand(ctx, name, realCmd)
			} else {
				t.runUserCommand(ctx, name, realCmd, *c.UserID, c.UserEnv)
			}
		} else {
			t.runCommand(ctx, name, realCmd)
		}
	}
	return nil
}

func isRootUser(uid *int) bool {
	if uid == nil {
		return os.Getuid() == 0
	}
	return *uid == 0
}

// restoreMouseCursor shows the mouse cursor back once no alive optimized
// process still needs it hidden.
type restoreMouseCursor struct {
	ctx *task.OptimizationContext
}

func (t *restoreMouseCursor) ShouldRun(c *RestoreContext) bool { return c.RestoreMouseCursor }

func (t *restoreMouseCursor) Run(ctx context.Context, c *RestoreContext) error {
	t.ctx.MouseMan.ShowCursor(ctx)
	return nil
}

// restoreCPUEnergyPolicy restores every CPU's energy_perf_bias level to
// what it was before any optimized process changed it.
type restoreCPUEnergyPolicy struct {
	ctx *task.OptimizationContext
}

func (t *restoreCPUEnergyPolicy) ShouldRun(c *RestoreContext) bool { return c.RestoreCPUEnergyPolicy }

func (t *restoreCPUEnergyPolicy) Run(ctx context.Context, c *RestoreContext) error {
	lock := t.ctx.CPUEnergyMan.Lock()
	lock.Lock()
	defer lock.Unlock()

	saved := t.ctx.CPUEnergyMan.SavedState()
	if len(saved) == 0 {
		t.ctx.Logger.Info().Msg("no CPU energy policy level saved state to restore")
		return nil
	}

	t.ctx.Logger.Info().Interface("levels", saved).Msg("restoring CPU energy policy levels")
	changed := t.ctx.CPUEnergyMan.ChangeStates(saved)
	if len(changed) == 0 {
		t.ctx.Logger.Error().Msg("could not restore CPU energy policy levels")
		return nil
	}

	var restored, notRestored []int
	for idx, ok := range changed {
		if ok {
			restored = append(restored, idx)
		} else {
			notRestored = append(notRestored, idx)
		}
	}

	if len(notRestored) > 0 {
		sort.Ints(notRestored)
		t.ctx.Logger.Warn().Ints("cpus", notRestored).Msg("could not restore the energy policy level of these CPUs")
	}
	if len(restored) > 0 {
		t.ctx.CPUEnergyMan.ClearState(restored...)
		sort.Ints(restored)
		t.ctx.Logger.Debug().Ints("cpus", restored).Msg("saved CPU energy policy levels cleared")
	}
	return nil
}

// Manager runs the fixed set of restore tasks against a restore context,
// mirroring PostProcessTaskManager.
type Manager struct {
	ctx   *task.OptimizationContext
	tasks []Task
}

func NewManager(c *task.OptimizationContext) *Manager {
	tasks := []Task{
		&reEnableWindowCompositor{ctx: c},
		&postStopProcesses{ctx: c},
		&restoreMouseCursor{ctx: c},
		&restoreGPUState{ctx: c},
		&restoreCPUGovernor{ctx: c},
		&restoreCPUEnergyPolicy{ctx: c},
		newRelaunchStoppedProcesses(c),
		newRunFinishScripts(c),
	}
	sort.SliceStable(tasks, func(i, j int) bool { return taskRank(tasks[i]) < taskRank(tasks[j]) })
	return &Manager{ctx: c, tasks: tasks}
}

func taskRank(t Task) int {
	if v, ok := taskOrder[reflect.TypeOf(t).String()]; ok {
		return v
	}
	return 100
}

func (m *Manager) AvailableTasks() []Task { return append([]Task(nil), m.tasks...) }

// Run runs every task whose ShouldRun matches, concurrently, the Go
// analogue of awaiting asyncio.gather over each task's run coroutine.
func (m *Manager) Run(ctx context.Context, c *RestoreContext) {
	var toRun []Task
	for _, t := range m.tasks {
		if t.ShouldRun(c) {
			toRun = append(toRun, t)
		}
	}
	if len(toRun) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range toRun {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			if err := t.Run(ctx, c); err != nil {
				m.ctx.Logger.Error().Err(err).Msg("restore task failed")
			}
		}(t)
	}
	wg.Wait()
}
