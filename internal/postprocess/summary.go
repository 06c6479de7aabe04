// Package postprocess runs once an optimized process dies: it summarizes
// what state was left behind across every still-watched process, folds
// that into a restore context, and runs the tasks that undo it.
package postprocess

import (
	"context"
	"reflect"
	"sort"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
)

// Summary accumulates, across every watched process, everything the
// restore pipeline needs to know about what to undo.
type Summary struct {
	PIDsAlive              map[int]bool
	UserID                 *int
	UserEnv                map[string]string
	RestoreCompositor      bool
	KeepCompositorDisabled bool
	RestoreMouseCursor     bool
	KeepMouseHidden        bool
	RestoreCPUEnergyPolicy bool
	KeepCPUEnergyPolicy    bool

	PreviousCPUStates []*model.CPUState
	CPUsInUse         bool

	PreviousGPUStates map[string][]model.GPUState // vendor -> states
	GPUsInUse         map[string]map[string]bool  // vendor -> gpu ids in use

	PIDsToStop map[int]bool

	// ProcessesRelaunchByTime maps a process's CreatedAt timestamp to the
	// comm->cmd pairs it left behind, ordered by optimization time.
	ProcessesRelaunchByTime map[float64]map[string]string
	ProcessesNotRelaunch    map[string]bool
	ProcessesToRelaunch     map[string]string

	// DeadPIDIndexes holds the index (within the watched slice) of every
	// process found dead this round, paired with its pid.
	DeadPIDIndexes [][2]int

	PostScripts map[float64]*model.ScriptSettings
}

func emptySummary() *Summary {
	return &Summary{}
}

// Filler mirrors one PostProcessSummarizer: it inspects a single watched
// process and folds anything relevant into the running summary.
type Filler interface {
	Fill(s *Summary, p *model.OptimizedProcess, ctx *task.OptimizationContext)
}

var fillerOrder = map[string]int{
	"postprocess.userIDFiller":              0,
	"postprocess.userEnvironmentFiller":     1,
	"postprocess.processesToStopFiller":     2,
	"postprocess.compositorStateFiller":     3,
	"postprocess.finishScriptsFiller":       4,
	"postprocess.cpuGovernorStateFiller":    5,
	"postprocess.cpuEnergyPolicyFiller":     6,
	"postprocess.gpuStateFiller":            7,
	"postprocess.mouseCursorStateFiller":    8,
	"postprocess.processesToRelaunchFiller": 9,
}

type userIDFiller struct{}

func (userIDFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if !p.Alive && p.UserID() != nil {
		s.UserID = p.UserID()
	}
}

type userEnvironmentFiller struct{}

func (userEnvironmentFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if !p.Alive && len(p.UserEnv()) > 0 {
		if s.UserEnv == nil {
			s.UserEnv = map[string]string{}
		}
		for k, v := range p.UserEnv() {
			s.UserEnv[k] = v
		}
	}
}

type processesToStopFiller struct{}

func (processesToStopFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if p.Alive || len(p.RelatedPIDs) == 0 || len(s.PIDsAlive) == 0 {
		return
	}
	if s.PIDsToStop == nil {
		s.PIDsToStop = map[int]bool{}
	}
	for pid := range p.RelatedPIDs {
		if s.PIDsAlive[pid] {
			s.PIDsToStop[pid] = true
		}
	}
}

type mouseCursorStateFiller struct{}

func (mouseCursorStateFiller) Fill(s *Summary, p *model.OptimizedProcess, ctx *task.OptimizationContext) {
	if !p.RequiresMouseHidden() {
		return
	}
	if p.Alive {
		s.KeepMouseHidden = true
		return
	}
	if hidden := ctx.IsMouseCursorHidden(); hidden != nil && *hidden {
		s.RestoreMouseCursor = true
	}
}

type compositorStateFiller struct{}

func (compositorStateFiller) Fill(s *Summary, p *model.OptimizedProcess, ctx *task.OptimizationContext) {
	if !p.RequiresCompositorDisabled() {
		return
	}
	if p.Alive {
		s.KeepCompositorDisabled = true
		return
	}
	if ctx.Compositor != nil && ctx.CompositorDisabledContext != nil {
		s.RestoreCompositor = true
	}
}

type cpuGovernorStateFiller struct{}

func (cpuGovernorStateFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if p.PreviousCPUState == nil {
		return
	}
	if p.Alive {
		s.CPUsInUse = true
		return
	}
	s.PreviousCPUStates = append(s.PreviousCPUStates, p.PreviousCPUState)
}

type cpuEnergyPolicyFiller struct{}

func (cpuEnergyPolicyFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if !p.CPUEnergyPolicyChanged {
		return
	}
	if p.Alive {
		s.KeepCPUEnergyPolicy = true
	} else {
		s.RestoreCPUEnergyPolicy = true
	}
}

type gpuStateFiller struct{}

func (gpuStateFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if len(p.PreviousGPUStates) == 0 {
		return
	}
	if p.Alive {
		if s.GPUsInUse == nil {
			s.GPUsInUse = map[string]map[string]bool{}
		}
		for vendor, states := range p.PreviousGPUStates {
			ids := s.GPUsInUse[vendor]
			if ids == nil {
				ids = map[string]bool{}
				s.GPUsInUse[vendor] = ids
			}
			for _, st := range states {
				ids[st.ID] = true
			}
		}
		return
	}
	if s.PreviousGPUStates == nil {
		s.PreviousGPUStates = map[string][]model.GPUState{}
	}
	for vendor, states := range p.PreviousGPUStates {
		s.PreviousGPUStates[vendor] = append(s.PreviousGPUStates[vendor], states...)
	}
}

type processesToRelaunchFiller struct{}

func (f processesToRelaunchFiller) fillOne(s *Summary, p *model.OptimizedProcess, procs map[string]string, relaunch bool) {
	if p.Alive {
		if s.ProcessesNotRelaunch == nil {
			s.ProcessesNotRelaunch = map[string]bool{}
		}
		for comm := range procs {
			s.ProcessesNotRelaunch[comm] = true
		}
		return
	}

	if s.ProcessesRelaunchByTime == nil {
		s.ProcessesRelaunchByTime = map[float64]map[string]string{}
	}

	if relaunch {
		entry := map[string]string{}
		for comm, cmd := range procs {
			if len(s.ProcessesToRelaunch) > 0 {
				if real, ok := s.ProcessesToRelaunch[comm]; ok {
					entry[comm] = real
					continue
				}
			}
			entry[comm] = cmd
		}
		s.ProcessesRelaunchByTime[p.CreatedAt] = entry
	} else if len(s.ProcessesToRelaunch) > 0 {
		entry := map[string]string{}
		for comm, cmd := range procs {
			if _, ok := s.ProcessesToRelaunch[comm]; ok {
				entry[comm] = cmd
			}
		}
		if len(entry) > 0 {
			s.ProcessesRelaunchByTime[p.CreatedAt] = entry
		}
	}
}

func (f processesToRelaunchFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if len(p.StoppedProcesses()) > 0 {
		f.fillOne(s, p, p.StoppedProcesses(), p.RelaunchStoppedProcesses())
	}
	if len(p.StoppedAfterLaunch) > 0 {
		f.fillOne(s, p, p.StoppedAfterLaunch, p.RelaunchStoppedAfterLaunch())
	}
}

type finishScriptsFiller struct{}

func (finishScriptsFiller) Fill(s *Summary, p *model.OptimizedProcess, _ *task.OptimizationContext) {
	if p.Alive || !p.PostScripts().IsValid() {
		return
	}
	if s.PostScripts == nil {
		s.PostScripts = map[float64]*model.ScriptSettings{}
	}
	s.PostScripts[p.CreatedAt] = p.PostScripts()
}

// Summarizer runs every filler, in fixed order, over every watched process.
type Summarizer struct {
	fillers []Filler
}

func NewSummarizer() *Summarizer {
	fillers := []Filler{
		userIDFiller{},
		userEnvironmentFiller{},
		processesToStopFiller{},
		mouseCursorStateFiller{},
		compositorStateFiller{},
		finishScriptsFiller{},
		cpuGovernorStateFiller{},
		cpuEnergyPolicyFiller{},
		gpuStateFiller{},
		processesToRelaunchFiller{},
	}
	sort.SliceStable(fillers, func(i, j int) bool {
		return fillerRank(fillers[i]) < fillerRank(fillers[j])
	})
	return &Summarizer{fillers: fillers}
}

func fillerRank(f Filler) int {
	if v, ok := fillerOrder[reflect.TypeOf(f).String()]; ok {
		return v
	}
	return 99
}

// Summarize walks every watched process, marking ones no longer among
// pidsAlive as dead, and folds their state into a fresh Summary.
func (sm *Summarizer) Summarize(ctx context.Context, processes []*model.OptimizedProcess, pidsAlive map[int]bool, processesToRelaunch map[string]string, octx *task.OptimizationContext) *Summary {
	s := emptySummary()
	s.ProcessesToRelaunch = processesToRelaunch
	s.PIDsAlive = pidsAlive

	for idx, p := range processes {
		if p.PID == nil {
			continue
		}
		if len(pidsAlive) == 0 || !pidsAlive[*p.PID] {
			p.Alive = false
			s.DeadPIDIndexes = append(s.DeadPIDIndexes, [2]int{idx, *p.PID})
		}
		for _, filler := range sm.fillers {
			filler.Fill(s, p, octx)
		}
	}

	return s
}
