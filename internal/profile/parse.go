// Package profile resolves and parses `.profile` files into
// model.OptimizationProfile, and caches the result.
package profile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

// parseLines walks a profile's raw text and applies every recognized
// key=value line to a raw (fully-allocated) profile. Unknown keys and
// comment/blank lines are ignored; malformed values are dropped with the
// property left at its default.
func parseLines(profile *model.OptimizationProfile, content string) {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, rawVal, hasVal := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		if hasVal {
			if idx := strings.IndexByte(rawVal, '#'); idx >= 0 {
				rawVal = rawVal[:idx]
			}
			rawVal = strings.TrimSpace(rawVal)
		}

		applyProperty(profile, key, rawVal, hasVal)
	}
}

func applyProperty(p *model.OptimizationProfile, key, val string, hasVal bool) {
	switch key {
	case "cpu.performance":
		p.CPU.Performance = parseBoolProp(val, hasVal, true)
	case "gpu.performance":
		p.GPU.Performance = parseBoolProp(val, hasVal, true)
	case "compositor.off":
		p.Compositor.Off = parseBoolProp(val, hasVal, true)
	case "mouse.hidden":
		p.HideMouse = parseBoolProp(val, hasVal, true)
	case "steam":
		p.Steam = parseBoolProp(val, hasVal, true)

	case "proc.affinity":
		if hasVal {
			p.Process.CPUAffinity = parseIntSet(val)
		}
	case "proc.scheduling.policy":
		if hasVal {
			if policy, ok := model.ParseCPUSchedulingPolicy(val); ok {
				p.Process.Scheduling.Policy = &policy
			}
		}
	case "proc.scheduling.policy.priority":
		if v, ok := parseIntProp(val, hasVal, nil); ok {
			p.Process.Scheduling.Priority = v
		}
	case "proc.nice":
		if v, ok := parseIntProp(val, hasVal, nil); ok {
			p.Process.Nice.Level = v
		}
	case "proc.nice.delay":
		if v, ok := parseFloatProp(val, hasVal, nil); ok {
			p.Process.Nice.Delay = v
		}
	case "proc.nice.watch":
		p.Process.Nice.Watch = parseBoolProp(val, hasVal, true)
	case "proc.io.class":
		if hasVal {
			if class, ok := model.ParseIOSchedulingClass(val); ok {
				p.Process.IO.Class = &class
			}
		}
	case "proc.io.nice":
		if v, ok := parseIntProp(val, hasVal, nil); ok {
			p.Process.IO.Nice = v
		}

	case "launcher":
		if hasVal {
			mergeLauncherMapping(p.Launcher, val)
		}
	case "launcher.skip_mapping":
		p.Launcher.SkipMapping = parseBoolProp(val, hasVal, true)

	case "stop.after":
		if hasVal {
			mergeStringSet(&p.StopAfter.Processes, val)
		}
	case "stop.after.relaunch":
		p.StopAfter.Relaunch = parseBoolProp(val, hasVal, true)

	default:
		applyScriptProperty(p.AfterScripts, "scripts.after", key, val, hasVal)
		applyScriptProperty(p.FinishScripts, "scripts.finish", key, val, hasVal)
	}
}

func applyScriptProperty(s *model.ScriptSettings, node, key, val string, hasVal bool) {
	switch key {
	case node:
		if hasVal {
			s.Scripts = append(s.Scripts, splitCSV(val)...)
		}
	case node + ".wait":
		if b := parseBoolProp(val, hasVal, true); b != nil {
			s.WaitExec = *b
		}
	case node + ".timeout":
		if v, ok := parseFloatProp(val, hasVal, nil); ok {
			s.Timeout = v
		}
	case node + ".root":
		if b := parseBoolProp(val, hasVal, true); b != nil {
			s.RunAsRoot = *b
		}
	}
}

func parseBoolProp(val string, hasVal bool, defaultVal bool) *bool {
	if !hasVal {
		v := defaultVal
		return &v
	}
	switch strings.ToLower(val) {
	case "0", "false":
		v := false
		return &v
	case "1", "true":
		v := true
		return &v
	}
	return nil
}

func parseIntProp(val string, hasVal bool, defaultVal *int) (*int, bool) {
	if !hasVal {
		if defaultVal == nil {
			return nil, false
		}
		return defaultVal, true
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return nil, false
	}
	return &n, true
}

func parseFloatProp(val string, hasVal bool, defaultVal *float64) (*float64, bool) {
	if !hasVal {
		if defaultVal == nil {
			return nil, false
		}
		return defaultVal, true
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

func parseIntSet(val string) []int {
	seen := map[int]bool{}
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			seen[n] = true
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func splitCSV(val string) []string {
	return strings.Split(val, ",")
}

func mergeStringSet(set *map[string]bool, val string) {
	if *set == nil {
		*set = map[string]bool{}
	}
	for _, p := range strings.Split(val, ",") {
		(*set)[p] = true
	}
}

// mergeLauncherMapping applies one `launcher = app: exe1,exe2` line, mirroring
// DictPropertyMapper's "name: value" splitting.
func mergeLauncherMapping(l *model.LauncherSettings, val string) {
	name, rest, ok := strings.Cut(val, ":")
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	if l.Mapping == nil {
		l.Mapping = map[string][]string{}
	}
	if !ok || strings.TrimSpace(rest) == "" {
		l.Mapping[name] = nil
		return
	}
	l.Mapping[name] = splitCSV(strings.TrimSpace(rest))
}
