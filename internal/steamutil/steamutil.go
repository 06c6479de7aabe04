// Package steamutil parses Steam/Proton command lines so the launcher
// mapper can recognize a game running under the Steam runtime or Proton.
package steamutil

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reSteamCmd  = regexp.MustCompile(`^.+\s+SteamLaunch\s+AppId\s*=\s*\d+\s+--\s+(.+)`)
	reProtonCmd = regexp.MustCompile(`^.+/proton\s+waitforexitandrun\s+(/.+)$`)
	reExeName   = regexp.MustCompile(`^(.+\.\w+)(\s+.+)?$`)
)

// GetExeName extracts the executable's base name from a full path,
// tolerating trailing arguments appended to the same string.
func GetExeName(path string) (string, bool) {
	m := reExeName.FindStringSubmatch(filepath.Base(path))
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// ProtonExecInfo describes the windows executable a Proton wrapper command
// is launching: its base name, its Wine ("Z:") path and its native path.
type ProtonExecInfo struct {
	ExeName    string
	WinePath   string
	NativePath string
}

// GetProtonExecNameAndPaths extracts the wrapped executable from a
// `proton waitforexitandrun <path>` command line.
func GetProtonExecNameAndPaths(cmd string) (ProtonExecInfo, bool) {
	if cmd == "" {
		return ProtonExecInfo{}, false
	}
	m := reProtonCmd.FindStringSubmatch(cmd)
	if len(m) < 2 {
		return ProtonExecInfo{}, false
	}
	nativePath := m[1]
	exeName, _ := GetExeName(nativePath)
	winePath := "Z:" + strings.ReplaceAll(nativePath, "/", "\\")
	return ProtonExecInfo{ExeName: exeName, WinePath: winePath, NativePath: nativePath}, true
}

// GetSteamRuntimeCommand extracts the wrapped command from a
// `SteamLaunch AppId=... -- <cmd>` command line.
func GetSteamRuntimeCommand(cmd string) (string, bool) {
	if cmd == "" {
		return "", false
	}
	m := reSteamCmd.FindStringSubmatch(cmd)
	if len(m) < 2 {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}
