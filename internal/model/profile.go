package model

// ProcessSchedulingSettings maps a profile's proc.scheduling.policy[.priority] pair.
type ProcessSchedulingSettings struct {
	Policy   *CPUSchedulingPolicy
	Priority *int
}

func (s *ProcessSchedulingSettings) IsValid() bool {
	return s != nil && s.Policy != nil
}

func (s *ProcessSchedulingSettings) HasValidPriority() bool {
	if !s.IsValid() || !s.Policy.RequiresPriority() {
		return false
	}
	return s.Priority != nil && *s.Priority > 0 && *s.Priority < 100
}

// ProcessNiceSettings maps proc.nice[.delay][.watch].
type ProcessNiceSettings struct {
	Level *int
	Delay *float64
	Watch *bool
}

func (s *ProcessNiceSettings) IsValid() bool {
	return s != nil && s.HasValidLevel()
}

func (s *ProcessNiceSettings) HasValidLevel() bool {
	return s != nil && s.Level != nil && *s.Level > -21 && *s.Level < 20
}

// IOSchedulingSettings maps proc.io.class[.nice].
type IOSchedulingSettings struct {
	Class *IOSchedulingClass
	Nice  *int
}

func (s *IOSchedulingSettings) IsValid() bool {
	return s != nil && s.Class != nil
}

func (s *IOSchedulingSettings) HasValidPriority() bool {
	return s != nil && s.Nice != nil && *s.Nice >= 0 && *s.Nice < 8
}

// ProcessSettings maps the proc.* subtree: affinity, scheduling, nice, io.
type ProcessSettings struct {
	CPUAffinity []int
	Scheduling  *ProcessSchedulingSettings
	Nice        *ProcessNiceSettings
	IO          *IOSchedulingSettings
}

func (s *ProcessSettings) HasValidCPUAffinity(cpuCount int) bool {
	if s == nil || cpuCount <= 0 || len(s.CPUAffinity) == 0 {
		return false
	}
	for _, idx := range s.CPUAffinity {
		if idx < 0 || idx >= cpuCount {
			return false
		}
	}
	return true
}

func (s *ProcessSettings) IsValid() bool {
	if s == nil {
		return false
	}
	if len(s.CPUAffinity) > 0 {
		return true
	}
	return s.Scheduling.IsValid() || s.Nice.IsValid() || s.IO.IsValid()
}

// CPUSettings maps cpu.performance.
type CPUSettings struct {
	Performance *bool
}

func (s *CPUSettings) IsValid() bool { return s != nil && s.Performance != nil }

// GPUSettings maps gpu.performance.
type GPUSettings struct {
	Performance *bool
}

func (s *GPUSettings) IsValid() bool { return s != nil && s.Performance != nil }

// CompositorSettings maps compositor.off.
type CompositorSettings struct {
	Off *bool
}

func (s *CompositorSettings) IsValid() bool { return s != nil && s.Off != nil && *s.Off }

// LauncherSettings maps launcher[.skip_mapping].
type LauncherSettings struct {
	Mapping     map[string][]string
	SkipMapping *bool
}

func (s *LauncherSettings) IsValid() bool {
	return s != nil && (len(s.Mapping) > 0 || s.SkipMapping != nil)
}

// ScriptSettings maps a scripts.<node>[.wait][.timeout][.root] group.
type ScriptSettings struct {
	NodeName     string
	Scripts      []string
	WaitExec     bool
	Timeout      *float64
	RunAsRoot    bool
}

func (s *ScriptSettings) IsValid() bool { return s != nil && len(s.Scripts) > 0 }

func (s *ScriptSettings) HasValidTimeout() bool {
	return s != nil && s.Timeout != nil && *s.Timeout > 0
}

// StopProcessSettings maps stop.after[.relaunch].
type StopProcessSettings struct {
	Processes map[string]bool
	Relaunch  *bool
}

func (s *StopProcessSettings) IsValid() bool { return s != nil && len(s.Processes) > 0 }

// OptimizationProfile is the fully parsed view of a `.profile` file or of
// synthetic boot-time configuration (from_config()==true when Path=="").
type OptimizationProfile struct {
	Path          string
	Name          string
	CPU           *CPUSettings
	Steam         *bool
	GPU           *GPUSettings
	Process       *ProcessSettings
	AfterScripts  *ScriptSettings
	FinishScripts *ScriptSettings
	Compositor    *CompositorSettings
	Launcher      *LauncherSettings
	HideMouse     *bool
	StopAfter     *StopProcessSettings
}

// FromConfig reports whether the profile was synthesized from daemon
// configuration rather than read from a profile file.
func (p *OptimizationProfile) FromConfig() bool {
	return p != nil && p.Path == ""
}

// LogStr mirrors OptimizationProfile.get_log_str.
func (p *OptimizationProfile) LogStr() string {
	if p.FromConfig() {
		return "informed configuration"
	}
	return "profile '" + p.Name + "'"
}

// IsValid reports whether any nested section carries usable settings, or
// hide_mouse/steam was explicitly set (the latter per SPEC_FULL §12).
func (p *OptimizationProfile) IsValid() bool {
	if p == nil {
		return false
	}
	if p.CPU.IsValid() || p.GPU.IsValid() || p.Process.IsValid() || p.Compositor.IsValid() ||
		p.Launcher.IsValid() || p.AfterScripts.IsValid() || p.FinishScripts.IsValid() || p.StopAfter.IsValid() {
		return true
	}
	return p.HideMouse != nil || p.Steam != nil
}

// EmptyProfile returns a profile with every section nil, ready to be filled
// selectively (used for synthetic self-request profiles).
func EmptyProfile(path string) *OptimizationProfile {
	return &OptimizationProfile{Path: path, Name: profileNameFromPath(path)}
}

// RawProfile returns a profile with every section allocated to its zero
// value, ready to be filled from a parsed file (used by the profile reader).
func RawProfile(path string) *OptimizationProfile {
	return &OptimizationProfile{
		Path:    path,
		Name:    profileNameFromPath(path),
		CPU:     &CPUSettings{},
		Process: &ProcessSettings{Scheduling: &ProcessSchedulingSettings{}, Nice: &ProcessNiceSettings{}, IO: &IOSchedulingSettings{}},
		GPU:     &GPUSettings{},
		Compositor: &CompositorSettings{},
		Launcher:   &LauncherSettings{},
		AfterScripts:  &ScriptSettings{NodeName: "scripts.after"},
		FinishScripts: &ScriptSettings{NodeName: "scripts.finish"},
		StopAfter:     &StopProcessSettings{},
	}
}

// FromOptimizerConfig builds the synthetic boot-time profile used for
// self-requests, mirroring OptimizationProfile.from_optimizer_config.
func FromOptimizerConfig(cpuPerformance bool) *OptimizationProfile {
	if !cpuPerformance {
		return nil
	}
	profile := EmptyProfile("")
	perf := true
	profile.CPU = &CPUSettings{Performance: &perf}
	return profile
}

func profileNameFromPath(path string) string {
	if path == "" {
		return ""
	}
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			base = path[i+1:]
			break
		}
	}
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
