package task

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/resource"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/scripts"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

func isRootUser() bool { return os.Geteuid() == 0 }

func commandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// ChangeCPUFrequencyGovernor flips every CPU not already in the
// "performance" governor, saving the previous one per cpu exactly once.
type ChangeCPUFrequencyGovernor struct {
	baseTask
	ctx              *OptimizationContext
	cpufreqMan       *resource.CPUFrequencyManager
	cpu0GovernorFile string
	cpuCount         int
}

func NewChangeCPUFrequencyGovernor(c *OptimizationContext) *ChangeCPUFrequencyGovernor {
	return &ChangeCPUFrequencyGovernor{
		ctx:              c,
		cpufreqMan:       c.CPUFreqMan,
		cpu0GovernorFile: "/sys/devices/system/cpu/cpu0/cpufreq/scaling_governor",
		cpuCount:         c.CPUCount,
	}
}

func (t *ChangeCPUFrequencyGovernor) IsAvailable(ctx context.Context) (bool, string) {
	if t.cpuCount == 0 {
		return false, "no CPU detected"
	}
	if _, err := os.Stat(t.cpu0GovernorFile); err != nil {
		return false, fmt.Sprintf("it will not be possible to change the CPUs scaling governors: file '%s' not found", t.cpu0GovernorFile)
	}
	if !isRootUser() {
		return false, "it will not be possible to change the CPUs scaling governors: requires root privileges"
	}
	return true, ""
}

func (t *ChangeCPUFrequencyGovernor) IsAllowedForSelfRequests() bool { return true }

func (t *ChangeCPUFrequencyGovernor) ShouldRun(p *model.OptimizedProcess) bool {
	return p.Profile != nil && p.Profile.CPU != nil && p.Profile.CPU.Performance != nil && *p.Profile.CPU.Performance
}

func (t *ChangeCPUFrequencyGovernor) Run(ctx context.Context, p *model.OptimizedProcess) error {
	t.cpufreqMan.Lock().Lock()
	defer t.cpufreqMan.Lock().Unlock()

	current := t.cpufreqMan.MapCurrentGovernors()
	prevGovernors := map[string][]int{}

	for gov, cpus := range current {
		if gov == resource.GovernorPerformance {
			continue
		}
		changed := t.cpufreqMan.ChangeGovernor(resource.GovernorPerformance, cpus)
		if len(changed) > 0 {
			prevGovernors[gov] = changed
		}
	}

	if p.Request == nil || !p.Request.IsSelfRequest() {
		if len(prevGovernors) > 0 {
			t.cpufreqMan.SaveGovernors(prevGovernors)
			p.PreviousCPUState = &model.CPUState{Governors: toGovernorSets(prevGovernors)}
		} else if saved := t.cpufreqMan.GetSavedGovernors(); len(saved) > 0 {
			p.PreviousCPUState = &model.CPUState{Governors: toGovernorSets(saved)}
		}
	}
	return nil
}

func toGovernorSets(m map[string][]int) map[string]map[int]bool {
	out := make(map[string]map[int]bool, len(m))
	for gov, cpus := range m {
		set := make(map[int]bool, len(cpus))
		for _, c := range cpus {
			set[c] = true
		}
		out[gov] = set
	}
	return out
}

// ChangeGPUModeToPerformance flips every manageable GPU to performance
// mode, keeping the prior mode on the process for later restoration.
type ChangeGPUModeToPerformance struct {
	baseTask
	ctx    *OptimizationContext
	gpuMan *resource.GPUManager
}

func NewChangeGPUModeToPerformance(c *OptimizationContext) *ChangeGPUModeToPerformance {
	return &ChangeGPUModeToPerformance{ctx: c, gpuMan: c.GPUMan}
}

func (t *ChangeGPUModeToPerformance) IsAvailable(ctx context.Context) (bool, string) {
	if !t.gpuMan.IsCacheEnabled() {
		return true, ""
	}
	if t.gpuMan.HasManageableGPUs(ctx) {
		return true, ""
	}
	return false, "no manageable GPUs found"
}

func (t *ChangeGPUModeToPerformance) ShouldRun(p *model.OptimizedProcess) bool {
	return p.Profile != nil && p.Profile.GPU != nil && p.Profile.GPU.Performance != nil && *p.Profile.GPU.Performance
}

func (t *ChangeGPUModeToPerformance) Run(ctx context.Context, p *model.OptimizedProcess) error {
	states := t.gpuMan.ActivatePerformance(ctx, p.UserEnv(), nil)
	if len(states) > 0 {
		p.PreviousGPUStates = states
	}
	return nil
}

// DisableWindowCompositor disables the desktop compositor the first time a
// process that needs it runs, caching the detected compositor on the
// shared context for reuse and for the restore task.
type DisableWindowCompositor struct {
	baseTask
	ctx *OptimizationContext
	mu  sync.Mutex

	compositorChecked bool
	manageable        *bool
}

func NewDisableWindowCompositor(c *OptimizationContext) *DisableWindowCompositor {
	return &DisableWindowCompositor{ctx: c}
}

func (t *DisableWindowCompositor) IsAvailable(ctx context.Context) (bool, string) { return true, "" }

func (t *DisableWindowCompositor) ShouldRun(p *model.OptimizedProcess) bool {
	if p.Profile == nil || !p.Profile.Compositor.IsValid() {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Compositor == nil && !t.compositorChecked {
		compositor := resource.DetectWindowCompositor(context.Background(), p.UserID(), p.UserEnv(), t.ctx.Logger)
		if compositor != nil {
			t.ctx.Logger.Info().Str("compositor", compositor.Name()).Msg("window compositor detected")
			t.ctx.Compositor = compositor
		}
		t.compositorChecked = true
	}

	if t.ctx.Compositor != nil && t.manageable == nil {
		ok, msg := t.ctx.Compositor.CanBeManaged()
		t.manageable = &ok
		if !ok {
			reason := ""
			if msg != "" {
				reason = ". Reason: " + msg
			}
			t.ctx.Logger.Warn().Str("compositor", t.ctx.Compositor.Name()).Msgf("compositor cannot be managed%s", reason)
		}
	}

	return t.ctx.Compositor != nil && t.manageable != nil && *t.manageable
}

func (t *DisableWindowCompositor) Run(ctx context.Context, p *model.OptimizedProcess) error {
	t.ctx.Compositor.Lock().Lock()
	defer t.ctx.Compositor.Lock().Unlock()

	wctx := map[string]string{}
	enabled, err := t.ctx.Compositor.IsEnabled(ctx, p.UserID(), p.UserEnv(), wctx)
	if err != nil || enabled == nil {
		t.ctx.Logger.Error().Msg("it will not be possible to disable the window compositor")
		return nil
	}
	if !*enabled {
		t.ctx.Logger.Info().Msg("window compositor is already disabled")
		return nil
	}

	disabled, err := t.ctx.Compositor.Disable(ctx, p.UserID(), p.UserEnv(), wctx)
	if err == nil && disabled {
		t.ctx.Logger.Info().Msg("window compositor disabled")
		t.ctx.CompositorDisabledContext = wctx
	}
	return nil
}

// HideMouseCursor hides the cursor via unclutter when the profile asks it.
type HideMouseCursor struct {
	baseTask
	ctx      *OptimizationContext
	mouseMan *resource.MouseCursorManager
}

func NewHideMouseCursor(c *OptimizationContext) *HideMouseCursor {
	return &HideMouseCursor{ctx: c, mouseMan: c.MouseMan}
}

func (t *HideMouseCursor) IsAvailable(ctx context.Context) (bool, string) { return t.mouseMan.CanWork() }

func (t *HideMouseCursor) ShouldRun(p *model.OptimizedProcess) bool { return p.RequiresMouseHidden() }

func (t *HideMouseCursor) Run(ctx context.Context, p *model.OptimizedProcess) error {
	userRequest := p.Request == nil || !p.Request.IsSelfRequest()
	t.mouseMan.HideCursor(ctx, userRequest, p.UserEnv())
	return nil
}

// StopProcessesAfterLaunch kills the named processes a profile requests be
// stopped once the optimized process starts, tracking which actually died
// so they can be relaunched later.
type StopProcessesAfterLaunch struct {
	baseTask
	ctx *OptimizationContext
}

func NewStopProcessesAfterLaunch(c *OptimizationContext) *StopProcessesAfterLaunch {
	return &StopProcessesAfterLaunch{ctx: c}
}

func (t *StopProcessesAfterLaunch) IsAvailable(ctx context.Context) (bool, string) { return true, "" }

func (t *StopProcessesAfterLaunch) ShouldRun(p *model.OptimizedProcess) bool {
	return p.Profile != nil && p.Profile.StopAfter != nil && p.Profile.StopAfter.IsValid()
}

func (t *StopProcessesAfterLaunch) Run(ctx context.Context, p *model.OptimizedProcess) error {
	names := make([]string, 0, len(p.Profile.StopAfter.Processes))
	for name := range p.Profile.StopAfter.Processes {
		names = append(names, name)
	}

	found := sysutil.FindPIDsByNames(names, false)
	stopped := map[string]string{}
	notStopped := map[string]bool{}

	if len(found) > 0 {
		pids := map[int32]bool{}
		for _, pid := range found {
			pids[pid] = true
		}
		pidCmds := sysutil.FindCommandsByPIDs(pids)

		var pidList []string
		for _, pid := range found {
			pidList = append(pidList, fmt.Sprintf("%d", pid))
		}
		_, killOut, _ := sysutil.Syscall(ctx, "kill -9 "+strings.Join(pidList, " "), nil)
		notKilled := parseKillFailures(killOut)

		for comm, pid := range found {
			if notKilled[pid] {
				notStopped[comm] = true
			} else if cmd, ok := pidCmds[pid]; ok && cmd != "" {
				stopped[comm] = cmd
			}
		}
	}

	if len(stopped) != len(names) {
		for _, name := range names {
			if _, ok := stopped[name]; ok {
				continue
			}
			if notStopped[name] {
				continue
			}
			if commandExists(name) {
				stopped[name] = ""
			}
		}
	}

	if len(stopped) > 0 {
		p.StoppedAfterLaunch = stopped
	}
	return nil
}

// RunPostLaunchScripts executes a profile's after_scripts group once the
// optimized process has been mapped.
type RunPostLaunchScripts struct {
	baseTask
	ctx    *OptimizationContext
	runner *scripts.RunScripts
}

func NewRunPostLaunchScripts(c *OptimizationContext) *RunPostLaunchScripts {
	return &RunPostLaunchScripts{ctx: c, runner: scripts.New("post launch", c.AllowRootScripts, c.Logger)}
}

func (t *RunPostLaunchScripts) IsAvailable(ctx context.Context) (bool, string) { return true, "" }

func (t *RunPostLaunchScripts) ShouldRun(p *model.OptimizedProcess) bool {
	return p.Profile != nil && p.Profile.AfterScripts != nil && p.Profile.AfterScripts.IsValid()
}

func (t *RunPostLaunchScripts) Run(ctx context.Context, p *model.OptimizedProcess) error {
	started := t.runner.Run(ctx, []*model.ScriptSettings{p.Profile.AfterScripts}, p.UserID(), p.UserEnv())
	for pid := range started {
		p.RelatedPIDs[pid] = true
	}
	return nil
}

// ChangeCPUEnergyPolicyLevel pushes every cpu's energy_perf_bias to full
// performance, saving the prior level per cpu exactly once.
type ChangeCPUEnergyPolicyLevel struct {
	baseTask
	ctx *OptimizationContext
	man *resource.CPUEnergyPolicyManager
}

func NewChangeCPUEnergyPolicyLevel(c *OptimizationContext) *ChangeCPUEnergyPolicyLevel {
	return &ChangeCPUEnergyPolicyLevel{ctx: c, man: c.CPUEnergyMan}
}

func (t *ChangeCPUEnergyPolicyLevel) IsAvailable(ctx context.Context) (bool, string) {
	return t.man.CanWork()
}

func (t *ChangeCPUEnergyPolicyLevel) IsAllowedForSelfRequests() bool { return true }

func (t *ChangeCPUEnergyPolicyLevel) ShouldRun(p *model.OptimizedProcess) bool {
	return p.Profile != nil && p.Profile.CPU != nil && p.Profile.CPU.Performance != nil && *p.Profile.CPU.Performance
}

func (t *ChangeCPUEnergyPolicyLevel) Run(ctx context.Context, p *model.OptimizedProcess) error {
	t.man.Lock().Lock()
	defer t.man.Lock().Unlock()

	current := t.man.MapCurrentState()
	if len(current) == 0 {
		t.ctx.Logger.Error().Msg("could not determine the current CPUs energy policy level")
		return nil
	}

	notInPerformance := map[int]int{}
	for idx, state := range current {
		if state != resource.EnergyLevelPerformance {
			notInPerformance[idx] = resource.EnergyLevelPerformance
		}
	}

	if len(notInPerformance) == 0 {
		p.CPUEnergyPolicyChanged = len(t.man.SavedState()) > 0
		return nil
	}

	changedState := t.man.ChangeStates(notInPerformance)
	var changed, notChanged []int
	for idx, ok := range changedState {
		if ok {
			changed = append(changed, idx)
		} else {
			notChanged = append(notChanged, idx)
		}
	}

	if len(notChanged) > 0 {
		sort.Ints(notChanged)
		t.ctx.Logger.Error().Ints("cpus", notChanged).Msg("could not change the energy policy level to full performance")
	}

	if len(changed) > 0 {
		sort.Ints(changed)
		t.ctx.Logger.Info().Ints("cpus", changed).Msg("energy policy level changed to full performance")

		if p.Request == nil || !p.Request.IsSelfRequest() {
			toSave := map[int]int{}
			for _, idx := range changed {
				toSave[idx] = current[idx]
			}
			t.man.SaveState(toSave)
			p.CPUEnergyPolicyChanged = true
		}
	}
	return nil
}

func parseKillFailures(output string) map[int32]bool {
	failed := map[int32]bool{}
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "kill") {
			continue
		}
		var pid int32
		if _, err := fmt.Sscanf(strings.TrimSpace(line), "kill: (%d)", &pid); err == nil && pid != 0 {
			failed[pid] = true
		}
	}
	return failed
}
