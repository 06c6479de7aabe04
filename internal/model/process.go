package model

// CPUState is the saved snapshot of governors prior to optimization,
// restored verbatim by the CPU restore task.
type CPUState struct {
	Governors map[string]map[int]bool
}

// GPUState is one GPU's power mode prior to optimization, tagged with the
// vendor driver that produced it so the restore task can route it back.
type GPUState struct {
	ID         string
	Vendor     string
	PowerMode  any
}

// OptimizedProcess is the live record the handler builds for every accepted
// request and the watcher tracks until the target pid dies.
type OptimizedProcess struct {
	CreatedAt             float64
	Request                *OptimizationRequest
	Profile                *OptimizationProfile
	PreviousGPUStates      map[string][]GPUState // keyed by vendor name
	PreviousCPUState       *CPUState
	StoppedAfterLaunch     map[string]string
	CPUEnergyPolicyChanged bool
	Alive                  bool
	RelatedPIDs            map[int]bool
	PID                    *int
}

// NewOptimizedProcess mirrors OptimizedProcess.__init__.
func NewOptimizedProcess(req *OptimizationRequest, profile *OptimizationProfile, createdAt float64) *OptimizedProcess {
	p := &OptimizedProcess{
		CreatedAt:   createdAt,
		Request:     req,
		Profile:     profile,
		Alive:       true,
		RelatedPIDs: map[int]bool{},
	}
	if req != nil {
		p.PID = req.PID
		for _, pid := range req.RelatedPIDs {
			p.RelatedPIDs[pid] = true
		}
	}
	return p
}

// ShouldBeWatched mirrors OptimizedProcess.should_be_watched: the watcher
// only needs to track processes that left behind state worth restoring.
func (p *OptimizedProcess) ShouldBeWatched() bool {
	if p == nil || p.PID == nil {
		return false
	}
	return len(p.RelatedPIDs) > 0 ||
		p.PreviousCPUState != nil ||
		len(p.PreviousGPUStates) > 0 ||
		p.PostScripts().IsValid() ||
		p.RequiresCompositorDisabled() ||
		len(p.StoppedProcesses()) > 0 ||
		p.RequiresMouseHidden() ||
		len(p.StoppedAfterLaunch) > 0 ||
		p.CPUEnergyPolicyChanged
}

func (p *OptimizedProcess) SourcePID() *int {
	if p.Request == nil {
		return nil
	}
	return p.Request.PID
}

func (p *OptimizedProcess) UserEnv() map[string]string {
	if p.Request == nil {
		return nil
	}
	return p.Request.UserEnv
}

func (p *OptimizedProcess) UserID() *int {
	if p.Request == nil {
		return nil
	}
	return p.Request.UserID
}

func (p *OptimizedProcess) PostScripts() *ScriptSettings {
	if p.Profile == nil {
		return nil
	}
	return p.Profile.FinishScripts
}

func (p *OptimizedProcess) StoppedProcesses() map[string]string {
	if p.Request == nil {
		return nil
	}
	return p.Request.StoppedProcesses
}

func (p *OptimizedProcess) RelaunchStoppedProcesses() bool {
	return p.Request != nil && p.Request.RelaunchStoppedProcesses != nil && *p.Request.RelaunchStoppedProcesses
}

func (p *OptimizedProcess) RequiresMouseHidden() bool {
	return p.Profile != nil && p.Profile.HideMouse != nil && *p.Profile.HideMouse
}

func (p *OptimizedProcess) RequiresCompositorDisabled() bool {
	return p.Profile != nil && p.Profile.Compositor.IsValid()
}

func (p *OptimizedProcess) RelaunchStoppedAfterLaunch() bool {
	return p.Profile != nil && p.Profile.StopAfter != nil && p.Profile.StopAfter.Relaunch != nil && *p.Profile.StopAfter.Relaunch
}

func (p *OptimizedProcess) GetDisplay() string {
	if p.Request != nil && p.Request.UserEnv != nil {
		if d, ok := p.Request.UserEnv["DISPLAY"]; ok {
			return d
		}
	}
	return ":0"
}

// GetPIDs returns the set of pids this process record is associated with:
// its own tracked pid and the request's original pid (usually identical).
func (p *OptimizedProcess) GetPIDs() map[int]bool {
	if p.Request == nil {
		return nil
	}
	pids := map[int]bool{}
	if p.PID != nil {
		pids[*p.PID] = true
	}
	if p.Request.PID != nil {
		pids[*p.Request.PID] = true
	}
	return pids
}
