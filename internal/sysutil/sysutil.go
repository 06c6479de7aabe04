// Package sysutil wraps process enumeration and external-command
// execution: the primitives resource managers, the launcher mapper and the
// restore tasks build on top of.
package sysutil

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// BadUserEnvVars are stripped from any environment handed to a user-level
// command, mirroring guapow.common.system.BAD_USER_ENV_VARS.
var BadUserEnvVars = map[string]bool{"LD_PRELOAD": true}

// Syscall runs cmd through the shell and returns its exit code and combined
// stdout+stderr, the Go equivalent of guapow's async_syscall.
func Syscall(ctx context.Context, cmd string, env map[string]string) (int, string, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	if env != nil {
		c.Env = mapToEnviron(env)
	}

	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out

	err := c.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		return -1, "", err
	}
	return code, out.String(), nil
}

func mapToEnviron(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// ProcessEntry is a single ps-style (pid, name, command) row.
type ProcessEntry struct {
	PID     int32
	Name    string
	Command string
}

// ListProcesses enumerates every live process, the Go analogue of the
// `ps -Ao pid,comm,args` scans the original shells out to.
func ListProcesses() ([]ProcessEntry, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, err
	}

	entries := make([]ProcessEntry, 0, len(procs))
	for _, p := range procs {
		name, _ := p.Name()
		cmd, _ := p.Cmdline()
		entries = append(entries, ProcessEntry{PID: p.Pid, Name: name, Command: cmd})
	}
	return entries, nil
}

// FindProcessByName returns the first (or, with lastMatch, the
// highest-pid) process whose comm matches the pattern.
func FindProcessByName(pattern *regexp.Regexp, lastMatch bool) (int32, string, bool) {
	entries, err := ListProcesses()
	if err != nil {
		return 0, "", false
	}
	return matchEntries(entries, func(e ProcessEntry) string { return e.Name }, pattern, lastMatch)
}

// FindPIDsByNames resolves a set of comm names to pids in one scan.
func FindPIDsByNames(names []string, lastMatch bool) map[string]int32 {
	wanted := map[string]bool{}
	for _, n := range names {
		wanted[n] = true
	}

	entries, err := ListProcesses()
	if err != nil {
		return nil
	}
	if lastMatch {
		sortByPIDDesc(entries)
	}

	matches := map[string]int32{}
	for _, e := range entries {
		if wanted[e.Name] {
			if _, ok := matches[e.Name]; !ok {
				matches[e.Name] = e.PID
			}
		}
	}
	return matches
}

func matchEntries(entries []ProcessEntry, field func(ProcessEntry) string, pattern *regexp.Regexp, lastMatch bool) (int32, string, bool) {
	if lastMatch {
		sortByPIDDesc(entries)
	}
	for _, e := range entries {
		if pattern.MatchString(field(e)) {
			return e.PID, field(e), true
		}
	}
	return 0, "", false
}

func sortByPIDDesc(entries []ProcessEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].PID > entries[j-1].PID; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// FindProcessByCommand returns the first (or, with lastMatch, the
// highest-pid) process whose full command line matches any pattern.
func FindProcessByCommand(patterns []*regexp.Regexp, lastMatch bool) (int32, string, bool) {
	entries, err := ListProcesses()
	if err != nil {
		return 0, "", false
	}
	if lastMatch {
		sortByPIDDesc(entries)
	}
	for _, e := range entries {
		for _, p := range patterns {
			if p.MatchString(e.Command) {
				return e.PID, e.Command, true
			}
		}
	}
	return 0, "", false
}

// FindCommandsByPIDs resolves full command lines for a set of pids.
func FindCommandsByPIDs(pids map[int32]bool) map[int32]string {
	entries, err := ListProcesses()
	if err != nil {
		return nil
	}
	out := map[int32]string{}
	for _, e := range entries {
		if pids[e.PID] {
			out[e.PID] = e.Command
		}
	}
	return out
}

// FindProcessesByCommand reports, for each wanted full command line,
// whether a live process currently runs it.
func FindProcessesByCommand(commands map[string]bool) map[string]bool {
	entries, err := ListProcesses()
	if err != nil {
		return nil
	}
	out := map[string]bool{}
	for _, e := range entries {
		if commands[e.Command] {
			out[e.Command] = true
		}
	}
	return out
}

// ReadCurrentPIDs lists every pid currently present under /proc.
func ReadCurrentPIDs() (map[int]bool, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, err
	}
	pids := make(map[int]bool, len(procs))
	for _, p := range procs {
		pids[int(p.Pid)] = true
	}
	return pids, nil
}

// FindChildren recursively resolves every descendant of the given pids.
func FindChildren(ppids map[int]bool) ([]int, error) {
	byPPID, err := mapPIDsByPPID()
	if err != nil {
		return nil, err
	}
	seen := map[int]bool{}
	var children []int
	frontier := ppids
	for len(frontier) > 0 {
		next := map[int]bool{}
		for pid := range frontier {
			for _, child := range byPPID[pid] {
				if !seen[child] && !ppids[child] {
					seen[child] = true
					next[child] = true
					children = append(children, child)
				}
			}
		}
		frontier = next
	}
	return children, nil
}

func mapPIDsByPPID() (map[int][]int, error) {
	procs, err := gopsprocess.Processes()
	if err != nil {
		return nil, err
	}
	out := map[int][]int{}
	for _, p := range procs {
		ppid, err := p.Ppid()
		if err != nil {
			continue
		}
		out[int(ppid)] = append(out[int(ppid)], int(p.Pid))
	}
	return out, nil
}

// RunUserCommand launches cmd as the given uid, stripping forbidden
// environment variables, mirroring guapow's run_user_command. The child's
// nice level is not reset.
func RunUserCommand(ctx context.Context, cmd string, uid int, env map[string]string, wait bool) (int, string, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	c.SysProcAttr = &syscall.SysProcAttr{Credential: &syscall.Credential{Uid: uint32(uid)}}

	filtered := map[string]string{}
	for k, v := range env {
		if !BadUserEnvVars[k] {
			filtered[k] = v
		}
	}
	c.Env = mapToEnviron(filtered)

	var out bytes.Buffer
	if wait {
		c.Stdout = &out
		c.Stderr = &out
	}

	err := c.Run()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		return 1, err.Error(), nil
	}
	return code, out.String(), nil
}

// ParsePID converts a textual pid, tolerating surrounding whitespace the way
// the original's ps-output scanners do.
func ParsePID(s string) (int, bool) {
	s = strings.TrimSpace(s)
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
