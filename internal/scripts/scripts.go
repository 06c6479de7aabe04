// Package scripts runs a profile's user-defined shell commands, enforcing
// the same root/non-root execution rules as the rest of optimusd.
package scripts

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

// RunScripts executes one named group of a profile's scripts (after/finish),
// honoring run_as_root and the daemon's own privilege level.
type RunScripts struct {
	name        string
	rootAllowed bool
	log         zerolog.Logger
}

func New(name string, rootAllowed bool, log zerolog.Logger) *RunScripts {
	return &RunScripts{name: name, rootAllowed: rootAllowed, log: log}
}

// GetEnviron defaults DISPLAY to :0 when the caller didn't supply one.
func GetEnviron(env map[string]string) map[string]string {
	final := map[string]string{}
	if env != nil {
		for k, v := range env {
			final[k] = v
		}
	} else {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i >= 0 {
				final[kv[:i]] = kv[i+1:]
			}
		}
	}
	if _, ok := final["DISPLAY"]; !ok {
		final["DISPLAY"] = ":0"
	}
	return final
}

func (r *RunScripts) executeScripts(ctx context.Context, settings *model.ScriptSettings, userID *int, userEnv map[string]string) map[int]bool {
	pids := map[int]bool{}
	env := GetEnviron(userEnv)

	validTimeout := settings.HasValidTimeout()
	if !validTimeout && settings.Timeout != nil {
		r.log.Warn().Str("group", r.name).Float64("timeout", *settings.Timeout).Msg("invalid scripts timeout defined, no script will be awaited")
	}

	shouldWait := settings.WaitExec || validTimeout

	for _, cmd := range settings.Scripts {
		verb := "Starting"
		if shouldWait {
			verb = "Waiting"
		}
		r.log.Info().Str("group", r.name).Str("cmd", cmd).Msg(verb + " script")

		var code int
		var out string
		var err error
		if userID != nil {
			code, out, err = sysutil.RunUserCommand(ctx, cmd, *userID, env, shouldWait)
		} else {
			code, out, err = sysutil.Syscall(ctx, cmd, env)
		}
		if err != nil {
			r.log.Error().Str("group", r.name).Str("cmd", cmd).Err(err).Msg("unexpected error running script")
			continue
		}
		if code != 0 {
			r.log.Error().Str("group", r.name).Str("cmd", cmd).Int("exitcode", code).Str("output", out).Msg("script exited with a non-zero status")
		}
	}
	return pids
}

// Run executes every script group, applying the root/non-root rules:
// a root daemon only runs scripts as the target user unless run_as_root is
// set (and only when root execution is allowed); a non-root daemon only
// runs scripts matching its own uid.
func (r *RunScripts) Run(ctx context.Context, groups []*model.ScriptSettings, userID *int, userEnv map[string]string) map[int]bool {
	currentUID := os.Getuid()
	rootDaemon := currentUID == 0

	pids := map[int]bool{}
	for _, settings := range groups {
		if settings == nil || !settings.IsValid() {
			continue
		}

		switch {
		case rootDaemon && !settings.RunAsRoot && userID != nil && *userID != 0:
			for pid := range r.executeScripts(ctx, settings, userID, userEnv) {
				pids[pid] = true
			}
		case rootDaemon:
			if r.rootAllowed {
				for pid := range r.executeScripts(ctx, settings, nil, nil) {
					pids[pid] = true
				}
			} else {
				r.log.Warn().Str("group", r.name).Strs("scripts", settings.Scripts).Msg("scripts are not allowed to run at the root level")
			}
		case settings.RunAsRoot:
			r.log.Warn().Str("group", r.name).Strs("scripts", settings.Scripts).Msg("cannot execute scripts as root user")
		case userID == nil:
			for pid := range r.executeScripts(ctx, settings, nil, nil) {
				pids[pid] = true
			}
		case currentUID == *userID:
			for pid := range r.executeScripts(ctx, settings, nil, userEnv) {
				pids[pid] = true
			}
		default:
			r.log.Warn().Str("group", r.name).Strs("scripts", settings.Scripts).Int("uid", *userID).Msg("cannot execute scripts as this user")
		}
	}
	return pids
}
