// Package launcher maps a launched wrapper process (a shell script, Steam,
// Proton) back to the real pid it ultimately starts, so optimization
// applies to the process that actually uses the CPU/GPU.
package launcher

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/steamutil"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

const appName = "optimusd"
const delimiter = "%"

// LauncherSearchMode decides whether a wrapped target is matched against a
// process comm name or its full command line.
type LauncherSearchMode int

const (
	SearchByName LauncherSearchMode = iota
	SearchByCommand
)

func (m LauncherSearchMode) String() string {
	if m == SearchByCommand {
		return "command"
	}
	return "name"
}

func parseSearchMode(s string) (LauncherSearchMode, bool) {
	switch strings.ToLower(s) {
	case "n":
		return SearchByName, true
	case "c":
		return SearchByCommand, true
	default:
		return 0, false
	}
}

func guessSearchMode(s string) LauncherSearchMode {
	if strings.HasPrefix(s, "/") {
		return SearchByCommand
	}
	return SearchByName
}

type launcherTarget struct {
	name string
	mode LauncherSearchMode
}

// mapTarget splits an optional "mode%target" prefix off a mapping value,
// falling back to guessing the mode from the target's shape.
func mapTarget(raw, mappingLog string, log zerolog.Logger) launcherTarget {
	parts := strings.SplitN(raw, delimiter, 2)
	if len(parts) > 1 {
		modeStr := strings.TrimSpace(parts[0])
		mode, ok := parseSearchMode(modeStr)
		target := strings.TrimSpace(parts[1])
		if !ok {
			mode = guessSearchMode(target)
			log.Warn().Str("mapping", mappingLog).Str("mode", modeStr).
				Msgf("invalid launcher target mode, default type '%s' will be considered", mode)
		}
		return launcherTarget{name: target, mode: mode}
	}
	return launcherTarget{name: raw, mode: guessSearchMode(raw)}
}

func mapLaunchersDict(launchers map[string][]string, log zerolog.Logger) map[string]launcherTarget {
	if len(launchers) == 0 {
		return nil
	}
	res := map[string]launcherTarget{}
	for name, targets := range launchers {
		nameStrip := strings.TrimSpace(name)
		if nameStrip == "" || len(targets) == 0 {
			continue
		}
		targetStrip := strings.TrimSpace(targets[0])
		if targetStrip == "" {
			continue
		}
		res[nameStrip] = mapTarget(targetStrip, nameStrip+delimiter+targetStrip, log)
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

func mapLaunchersFile(path string, log zerolog.Logger) (map[string]launcherTarget, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res := map[string]launcherTarget{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.SplitN(line, "#", 2)[0]
		kv := strings.SplitN(line, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		if key == "" {
			continue
		}
		val := strings.TrimSpace(kv[1])
		if val == "" {
			continue
		}
		res[key] = mapTarget(val, line, log)
	}
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}

func possibleLauncherFilePaths(userID *int, userName string) []string {
	var paths []string
	if userID != nil && *userID != 0 && userName != "" {
		paths = append(paths, fmt.Sprintf("/home/%s/.config/%s/launchers", userName, appName))
	}
	paths = append(paths, fmt.Sprintf("/etc/%s/launchers", appName))
	return paths
}

// Mapper resolves the real pid an optimization request ultimately refers
// to, given the profile's launcher configuration.
type Mapper interface {
	MapPID(ctx context.Context, req *model.OptimizationRequest, profile *model.OptimizationProfile) (int, bool)
}

// ExplicitLauncherMapper follows a profile's (or the daemon-wide
// `launchers` file's) declared name/command mappings.
type ExplicitLauncherMapper struct {
	waitTime time.Duration
	log      zerolog.Logger
}

func NewExplicitLauncherMapper(waitTime time.Duration, log zerolog.Logger) *ExplicitLauncherMapper {
	return &ExplicitLauncherMapper{waitTime: waitTime, log: log}
}

func (m *ExplicitLauncherMapper) findWrappedProcess(ctx context.Context, target launcherTarget, launcherName string) (int, bool) {
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(target.name) + "$")
	if strings.Contains(target.name, "*") {
		pattern = regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(target.name), `\*`, ".+") + "$")
	}
	m.log.Debug().Str("mode", target.mode.String()).Str("target", target.name).Str("launcher", launcherName).Msg("looking for mapped process")

	deadline := time.Now().Add(m.waitTime)
	start := time.Now()
	for time.Now().Before(deadline) {
		var pid int32
		var name string
		var found bool
		if target.mode == SearchByCommand {
			pid, name, found = sysutil.FindProcessByCommand([]*regexp.Regexp{pattern}, true)
		} else {
			pid, name, found = sysutil.FindProcessByName(pattern, true)
		}
		if found {
			m.log.Info().Str("name", name).Int32("pid", pid).Dur("elapsed", time.Since(start)).Msg("mapped process found")
			return int(pid), true
		}
		time.Sleep(time.Millisecond)
	}
	m.log.Warn().Str("mode", target.mode.String()).Str("target", target.name).Str("launcher", launcherName).
		Dur("elapsed", time.Since(start)).Msg("could not find mapped process, timed out")
	return 0, false
}

func (m *ExplicitLauncherMapper) MapPID(ctx context.Context, req *model.OptimizationRequest, profile *model.OptimizationProfile) (int, bool) {
	if profile.Launcher != nil && profile.Launcher.SkipMapping != nil && *profile.Launcher.SkipMapping {
		m.log.Info().Str("profile", profile.LogStr()).Msg("skipping launcher mapping")
		return 0, false
	}

	var launchers map[string]launcherTarget
	if profile.Launcher != nil && len(profile.Launcher.Mapping) > 0 {
		launchers = mapLaunchersDict(profile.Launcher.Mapping, m.log)
	} else {
		var userID *int
		var userName string
		if req != nil {
			userID, userName = req.UserID, req.UserName
		}
		for _, path := range possibleLauncherFilePaths(userID, userName) {
			parsed, err := mapLaunchersFile(path, m.log)
			if err == nil {
				launchers = parsed
				break
			}
			if os.IsNotExist(err) {
				m.log.Debug().Str("file", path).Msg("launchers file not found")
				continue
			}
		}
	}

	if len(launchers) == 0 {
		m.log.Debug().Msg("no valid launchers mapped found")
		return 0, false
	}

	fileName := req.Command
	if idx := strings.LastIndex(fileName, "/"); idx >= 0 {
		fileName = fileName[idx+1:]
	}
	fileName = strings.TrimSpace(fileName)

	target, ok := launchers[fileName]
	if !ok {
		for name, t := range launchers {
			if strings.Contains(name, "*") {
				re := regexp.MustCompile("^" + strings.ReplaceAll(regexp.QuoteMeta(name), `\*`, ".*") + "$")
				if re.MatchString(fileName) {
					target, ok = t, true
					break
				}
			}
		}
	}
	if !ok {
		return 0, false
	}
	return m.findWrappedProcess(ctx, target, fileName)
}

// SteamLauncherMapper recognizes the SteamLaunch/Proton wrapper command
// lines and waits for the actual game process to appear.
type SteamLauncherMapper struct {
	waitTime time.Duration
	log      zerolog.Logger
}

func NewSteamLauncherMapper(waitTime time.Duration, log zerolog.Logger) *SteamLauncherMapper {
	return &SteamLauncherMapper{waitTime: waitTime, log: log}
}

func (m *SteamLauncherMapper) MapPID(ctx context.Context, req *model.OptimizationRequest, profile *model.OptimizationProfile) (int, bool) {
	if profile.Steam == nil || !*profile.Steam {
		return 0, false
	}

	steamCmd, ok := steamutil.GetSteamRuntimeCommand(req.Command)
	if !ok {
		m.log.Warn().Str("cmd", req.Command).Msg("command not from Steam")
		return 0, false
	}
	m.log.Debug().Str("cmd", req.Command).Msg("Steam command detected")

	var patterns []*regexp.Regexp
	protonInfo, isProton := steamutil.GetProtonExecNameAndPaths(steamCmd)
	if isProton {
		patterns = []*regexp.Regexp{
			regexp.MustCompile("^" + regexp.QuoteMeta(protonInfo.WinePath) + "$"),
			regexp.MustCompile("^" + regexp.QuoteMeta(protonInfo.NativePath) + "$"),
		}
	} else {
		patterns = []*regexp.Regexp{regexp.MustCompile(`(/bin/\w+\s+)?` + regexp.QuoteMeta(steamCmd))}
	}

	deadline := time.Now().Add(m.waitTime)
	start := time.Now()
	for time.Now().Before(deadline) {
		if pid, name, found := sysutil.FindProcessByCommand(patterns, true); found {
			m.log.Info().Str("name", name).Int32("pid", pid).Dur("elapsed", time.Since(start)).Msg("Steam process found")
			return int(pid), true
		}
		time.Sleep(time.Millisecond)
	}
	m.log.Warn().Dur("elapsed", time.Since(start)).Msg("could not find a Steam process matching command patterns, search timed out")

	var procName string
	if isProton {
		procName = protonInfo.ExeName
	} else {
		procName, _ = steamutil.GetExeName(steamCmd)
	}
	if procName == "" {
		m.log.Warn().Msg("name of launched Steam command could not be determined, no extra search will be performed")
		return 0, false
	}

	m.log.Debug().Str("name", procName).Msg("trying to find Steam process by name")
	start = time.Now()
	pattern := regexp.MustCompile("^" + regexp.QuoteMeta(procName) + "$")
	if pid, name, found := sysutil.FindProcessByName(pattern, true); found {
		m.log.Info().Str("name", name).Int32("pid", pid).Dur("elapsed", time.Since(start)).Msg("Steam process found by name")
		return int(pid), true
	}
	m.log.Warn().Str("name", procName).Msg("could not find a Steam process by name")
	return 0, false
}

// MapperManager tries every sub-mapper in order and returns the first pid
// any of them resolves.
type MapperManager struct {
	subMappers []Mapper
}

func NewMapperManager(waitTime time.Duration, log zerolog.Logger) *MapperManager {
	return &MapperManager{subMappers: []Mapper{
		NewExplicitLauncherMapper(waitTime, log),
		NewSteamLauncherMapper(waitTime, log),
	}}
}

func (m *MapperManager) MapPID(ctx context.Context, req *model.OptimizationRequest, profile *model.OptimizationProfile) (int, bool) {
	for _, sub := range m.subMappers {
		if pid, ok := sub.MapPID(ctx, req, profile); ok {
			return pid, true
		}
	}
	return 0, false
}
