package model

// OptimizationRequest is the decoded ingress payload describing what to
// optimize: either a live process (Pid/Command/UserName set) or a
// synthetic self-request issued at daemon boot (all three nil/zero).
type OptimizationRequest struct {
	PID                     *int              `json:"pid,omitempty"`
	Command                 string            `json:"command,omitempty"`
	UserName                string            `json:"user_name,omitempty"`
	Profile                 string            `json:"profile,omitempty"`
	CreatedAt               float64           `json:"created_at,omitempty"`
	Config                  string            `json:"config,omitempty"`
	ProfileConfig           string            `json:"profile_config,omitempty"`
	RelatedPIDs             []int             `json:"related_pids,omitempty"`
	UserEnv                 map[string]string `json:"user_env,omitempty"`
	StoppedProcesses        map[string]string `json:"stopped_processes,omitempty"`
	RelaunchStoppedProcesses *bool            `json:"relaunch_stopped_processes,omitempty"`
	UserID                  *int              `json:"-"`
}

// IsValid mirrors OptimizationRequest.is_valid: a non-self request needs a
// non-negative pid, a command, a resolved user name and uid.
func (r *OptimizationRequest) IsValid() bool {
	if r == nil {
		return false
	}
	return r.PID != nil && *r.PID >= 0 && r.Command != "" && r.UserName != "" && r.UserID != nil
}

// HasFullConfiguration reports an inline daemon-side config override.
func (r *OptimizationRequest) HasFullConfiguration() bool {
	return r != nil && r.Config != ""
}

// IsSelfRequest reports a synthetic boot-time request (no pid/command/user).
func (r *OptimizationRequest) IsSelfRequest() bool {
	return r != nil && r.PID == nil && r.Command == "" && r.UserName == ""
}

// Prepare fills in DISPLAY the way the original service does right after
// decoding a request, before it reaches any task.
func (r *OptimizationRequest) Prepare(defaultDisplay string) {
	if r.UserEnv == nil {
		r.UserEnv = map[string]string{}
	}
	if _, ok := r.UserEnv["DISPLAY"]; !ok {
		r.UserEnv["DISPLAY"] = defaultDisplay
	}
}

// SelfRequest builds the synthetic request issued once at daemon startup.
func SelfRequest(createdAt float64) *OptimizationRequest {
	return &OptimizationRequest{CreatedAt: createdAt}
}
