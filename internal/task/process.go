package task

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/proctune"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/renicer"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

// ReniceProcess applies and, if requested, continuously monitors a
// process's nice level.
type ReniceProcess struct {
	baseTask
	ctx     *OptimizationContext
	renicer *renicer.Renicer
}

func NewReniceProcess(c *OptimizationContext) *ReniceProcess {
	return &ReniceProcess{ctx: c, renicer: renicer.New(c.Logger, c.RenicerInterval)}
}

func (t *ReniceProcess) IsAvailable(ctx context.Context) (bool, string) { return true, "" }

func (t *ReniceProcess) ShouldRun(p *model.OptimizedProcess) bool {
	nice := p.Profile.Process.Nice
	if nice == nil || nice.Level == nil {
		return false
	}
	if nice.HasValidLevel() {
		return true
	}
	t.ctx.Logger.Warn().Int("level", *nice.Level).Str("profile", p.Profile.LogStr()).Msg("invalid nice level defined, process will not be reniced")
	return false
}

func (t *ReniceProcess) Run(ctx context.Context, p *model.OptimizedProcess) error {
	nice := p.Profile.Process.Nice

	if nice.Delay != nil {
		if *nice.Delay > 0 {
			t.ctx.Logger.Info().Int("pid", *p.PID).Float64("delay", *nice.Delay).Msg("delaying process renicing")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(*nice.Delay * float64(time.Second))):
			}
		} else {
			t.ctx.Logger.Warn().Int("pid", *p.PID).Float64("delay", *nice.Delay).Msg("invalid nice delay defined, must be higher than zero")
		}
	}

	requestPID := 0
	if p.Request != nil && p.Request.PID != nil {
		requestPID = *p.Request.PID
	}
	t.renicer.SetPriority(*p.PID, *nice.Level, requestPID)

	if nice.Watch != nil && *nice.Watch {
		if t.renicer.Add(*p.PID, *nice.Level, requestPID) {
			t.renicer.Watch()
		}
	}
	return nil
}

// ChangeCPUAffinity pins a process to the profile's requested logical CPUs.
type ChangeCPUAffinity struct {
	baseTask
	ctx      *OptimizationContext
	cpuCount int
}

func NewChangeCPUAffinity(c *OptimizationContext) *ChangeCPUAffinity {
	return &ChangeCPUAffinity{ctx: c, cpuCount: c.CPUCount}
}

func (t *ChangeCPUAffinity) IsAvailable(ctx context.Context) (bool, string) {
	if t.cpuCount == 0 {
		return false, "no CPUs detected. It will not be possible to change CPU affinity"
	}
	return true, ""
}

func (t *ChangeCPUAffinity) ShouldRun(p *model.OptimizedProcess) bool {
	if len(p.Profile.Process.CPUAffinity) == 0 {
		return false
	}
	if p.Profile.Process.HasValidCPUAffinity(t.cpuCount) {
		return true
	}
	t.ctx.Logger.Warn().Ints("affinity", p.Profile.Process.CPUAffinity).Str("profile", p.Profile.LogStr()).
		Msgf("invalid CPU affinity defined, it must be a list of integers between 0 and %d", t.cpuCount-1)
	return false
}

func (t *ChangeCPUAffinity) Run(ctx context.Context, p *model.OptimizedProcess) error {
	affinity := p.Profile.Process.CPUAffinity
	if err := proctune.SetAffinity(*p.PID, affinity); err != nil {
		t.ctx.Logger.Error().Int("pid", *p.PID).Ints("affinity", affinity).Err(err).Msg("could not change process CPU affinity")
		return nil
	}
	t.ctx.Logger.Info().Int("pid", *p.PID).Ints("affinity", affinity).Msg("process CPU affinity changed")
	return nil
}

// ChangeCPUScalingPolicy applies the profile's scheduling policy/priority.
type ChangeCPUScalingPolicy struct {
	baseTask
	ctx *OptimizationContext
}

func NewChangeCPUScalingPolicy(c *OptimizationContext) *ChangeCPUScalingPolicy {
	return &ChangeCPUScalingPolicy{ctx: c}
}

func (t *ChangeCPUScalingPolicy) IsAvailable(ctx context.Context) (bool, string) { return true, "" }

func (t *ChangeCPUScalingPolicy) ShouldRun(p *model.OptimizedProcess) bool {
	sched := p.Profile.Process.Scheduling
	if sched == nil || sched.Policy == nil {
		return false
	}

	if sched.Policy.RequiresRoot() && !isRootUser() {
		t.ctx.Logger.Warn().Int("pid", *p.PID).Str("policy", sched.Policy.String()).
			Msg("not possible to change the scheduling policy: requires root privileges")
		return false
	}
	if sched.Policy.RequiresPriority() && sched.Priority != nil && !sched.HasValidPriority() {
		t.ctx.Logger.Warn().Int("priority", *sched.Priority).Str("policy", sched.Policy.String()).
			Str("profile", p.Profile.LogStr()).Msg("invalid priority defined for scheduling policy")
		return false
	}
	return true
}

func (t *ChangeCPUScalingPolicy) Run(ctx context.Context, p *model.OptimizedProcess) error {
	sched := p.Profile.Process.Scheduling

	priority := 0
	if sched.Policy.RequiresPriority() {
		if sched.Priority != nil {
			priority = *sched.Priority
		} else {
			priority = 1
			t.ctx.Logger.Warn().Str("policy", sched.Policy.String()).Str("profile", p.Profile.LogStr()).
				Msgf("no priority set for this policy, %d will be used", priority)
		}
	} else if sched.Priority != nil {
		t.ctx.Logger.Warn().Str("policy", sched.Policy.String()).Int("priority", *sched.Priority).
			Msg("scheduling policy does not require priority, it will be ignored")
	}

	err := proctune.SetScheduler(*p.PID, proctune.SchedParam{Policy: sched.Policy.Value(), Priority: priority})
	if err != nil {
		t.ctx.Logger.Error().Int("pid", *p.PID).Str("policy", sched.Policy.String()).Int("priority", priority).
			Err(err).Msg("could not change process scheduling policy")
		return nil
	}
	t.ctx.Logger.Info().Int("pid", *p.PID).Str("policy", sched.Policy.String()).Int("priority", priority).
		Msg("process scheduling policy changed")
	return nil
}

// ChangeProcessIOClass applies the profile's IO scheduling class/priority
// via `ionice`.
type ChangeProcessIOClass struct {
	baseTask
	ctx *OptimizationContext
}

func NewChangeProcessIOClass(c *OptimizationContext) *ChangeProcessIOClass {
	return &ChangeProcessIOClass{ctx: c}
}

func (t *ChangeProcessIOClass) IsAvailable(ctx context.Context) (bool, string) {
	if commandExists("ionice") {
		return true, ""
	}
	return false, "'ionice' is not installed. It will not be possible to change a process IO scheduling"
}

func (t *ChangeProcessIOClass) ShouldRun(p *model.OptimizedProcess) bool {
	io := p.Profile.Process.IO
	if io == nil || io.Class == nil {
		return false
	}
	if io.Class.SupportsPriority() {
		if io.Nice == nil || io.HasValidPriority() {
			return true
		}
		t.ctx.Logger.Warn().Int("nice", *io.Nice).Str("profile", p.Profile.LogStr()).
			Msg("invalid IO nice level defined, must be a value between 0 and 7. IO class will not be changed")
		return false
	}
	return true
}

func (t *ChangeProcessIOClass) Run(ctx context.Context, p *model.OptimizedProcess) error {
	io := p.Profile.Process.IO

	var priority *int
	if io.Class.SupportsPriority() {
		if io.Nice == nil {
			t.ctx.Logger.Warn().Str("class", io.Class.String()).Str("profile", p.Profile.LogStr()).
				Msg("no nice level defined for this IO class, 0 will be considered")
			zero := 0
			priority = &zero
		} else {
			priority = io.Nice
		}
	}

	cmd := fmt.Sprintf("ionice -p %d -c %d", *p.PID, io.Class.Value())
	if priority != nil {
		cmd = fmt.Sprintf("%s -n %d", cmd, *priority)
	}
	t.ctx.Logger.Info().Int("pid", *p.PID).Str("class", io.Class.String()).Str("cmd", cmd).Msg("changing process IO class")

	code, out, err := sysutil.Syscall(ctx, cmd, nil)
	if err != nil || code != 0 {
		t.ctx.Logger.Error().Int("pid", *p.PID).Str("profile", p.Profile.LogStr()).Str("output", out).Msg("could not change process IO class")
	}
	return nil
}
