package postprocess

import (
	"sort"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// RestoreContext is the distilled view of a Summary that the restore tasks
// actually consume.
type RestoreContext struct {
	RestorableCPUs         []*model.CPUState
	RestorableGPUs         map[string][]model.GPUState // vendor -> states
	PIDsToStop             map[int]bool
	Scripts                []*model.ScriptSettings
	UserID                 *int
	UserEnv                map[string]string
	RestoreCompositor      bool
	StoppedProcesses       [][2]string // (comm, cmd) pairs, ordered
	NotStoppedProcesses    map[string]bool
	RestoreMouseCursor     bool
	RestoreCPUEnergyPolicy bool
}

// ContextFiller mirrors one PostContextFiller: it derives one slice of the
// restore context from the accumulated summary.
type ContextFiller interface {
	Fill(c *RestoreContext, s *Summary)
}

type restorableCPUGovernorsFiller struct{}

func (restorableCPUGovernorsFiller) Fill(c *RestoreContext, s *Summary) {
	if !s.CPUsInUse && len(s.PreviousCPUStates) > 0 {
		c.RestorableCPUs = s.PreviousCPUStates
	}
}

type restorableCPUEnergyPolicyFiller struct{}

func (restorableCPUEnergyPolicyFiller) Fill(c *RestoreContext, s *Summary) {
	c.RestoreCPUEnergyPolicy = !s.KeepCPUEnergyPolicy && s.RestoreCPUEnergyPolicy
}

type restorableGPUsFiller struct{}

func (restorableGPUsFiller) Fill(c *RestoreContext, s *Summary) {
	if len(s.PreviousGPUStates) == 0 {
		return
	}
	gpus := map[string][]model.GPUState{}
	for vendor, states := range s.PreviousGPUStates {
		gpus[vendor] = append([]model.GPUState(nil), states...)
	}

	if len(s.GPUsInUse) > 0 {
		for vendor := range gpus {
			inUse := s.GPUsInUse[vendor]
			if len(inUse) == 0 {
				continue
			}
			var remaining []model.GPUState
			for _, st := range gpus[vendor] {
				if !inUse[st.ID] {
					remaining = append(remaining, st)
				}
			}
			if len(remaining) > 0 {
				gpus[vendor] = remaining
			} else {
				delete(gpus, vendor)
			}
		}
	}

	if len(gpus) > 0 {
		c.RestorableGPUs = gpus
	}
}

type sortedFinishScriptsFiller struct{}

func (sortedFinishScriptsFiller) Fill(c *RestoreContext, s *Summary) {
	if len(s.PostScripts) == 0 {
		return
	}
	keys := make([]float64, 0, len(s.PostScripts))
	for k := range s.PostScripts {
		keys = append(keys, k)
	}
	sort.Float64s(keys)
	for _, k := range keys {
		c.Scripts = append(c.Scripts, s.PostScripts[k])
	}
}

type sortedProcessesToRelaunchFiller struct{}

func (sortedProcessesToRelaunchFiller) Fill(c *RestoreContext, s *Summary) {
	if len(s.ProcessesRelaunchByTime) == 0 {
		return
	}

	keys := make([]float64, 0, len(s.ProcessesRelaunchByTime))
	for k := range s.ProcessesRelaunchByTime {
		keys = append(keys, k)
	}
	sort.Float64s(keys)

	uniqueProcs := map[[2]string]bool{}
	stoppedNames := map[string]bool{}
	notStoppedNames := map[string]bool{}
	var sortedProcs [][2]string

	for _, k := range keys {
		for comm, cmd := range s.ProcessesRelaunchByTime[k] {
			if s.ProcessesNotRelaunch[comm] {
				continue
			}
			if cmd == "" {
				notStoppedNames[comm] = true
				continue
			}
			proc := [2]string{comm, cmd}
			if !uniqueProcs[proc] {
				stoppedNames[comm] = true
				uniqueProcs[proc] = true
				sortedProcs = append(sortedProcs, proc)
			}
		}
	}

	if len(sortedProcs) > 0 {
		c.StoppedProcesses = sortedProcs
	}

	if len(notStoppedNames) > 0 {
		actuallyNotStopped := map[string]bool{}
		for name := range notStoppedNames {
			if !stoppedNames[name] {
				actuallyNotStopped[name] = true
			}
		}
		if len(actuallyNotStopped) > 0 {
			c.NotStoppedProcesses = actuallyNotStopped
		}
	}
}

// ContextMapper runs every filler over a summary and produces the final
// restore context.
type ContextMapper struct {
	fillers []ContextFiller
}

func NewContextMapper() *ContextMapper {
	return &ContextMapper{fillers: []ContextFiller{
		restorableCPUGovernorsFiller{},
		restorableCPUEnergyPolicyFiller{},
		restorableGPUsFiller{},
		sortedFinishScriptsFiller{},
		sortedProcessesToRelaunchFiller{},
	}}
}

// Map turns a Summary into the RestoreContext the task manager consumes.
func (m *ContextMapper) Map(s *Summary) *RestoreContext {
	c := &RestoreContext{}

	if s.UserID != nil {
		c.UserID = s.UserID
	}
	if len(s.UserEnv) > 0 {
		c.UserEnv = s.UserEnv
	}
	if len(s.PIDsToStop) > 0 {
		c.PIDsToStop = s.PIDsToStop
	}

	c.RestoreCompositor = !s.KeepCompositorDisabled && s.RestoreCompositor
	c.RestoreMouseCursor = !s.KeepMouseHidden && s.RestoreMouseCursor

	for _, filler := range m.fillers {
		filler.Fill(c, s)
	}

	return c
}
