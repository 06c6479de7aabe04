// Package resource holds the stateful, lock-guarded managers that mutate
// system-wide resources on behalf of the optimization handler: CPU
// governors, CPU energy policy, GPU power mode, the window compositor and
// the mouse cursor.
package resource

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

// WindowCompositor abstracts enabling/disabling a desktop compositor.
// context carries whatever state is_enabled needs to pass to disable (a
// pid, a metamode name) — the restore task threads it back in unchanged.
type WindowCompositor interface {
	Name() string
	CanBeManaged() (bool, string)
	Lock() *sync.Mutex
	Enable(ctx context.Context, uid *int, userEnv map[string]string, wctx map[string]string) (bool, error)
	Disable(ctx context.Context, uid *int, userEnv map[string]string, wctx map[string]string) (bool, error)
	IsEnabled(ctx context.Context, uid *int, userEnv map[string]string, wctx map[string]string) (*bool, error)
}

func runAsUser(ctx context.Context, cmd string, uid *int, env map[string]string) (int, string, error) {
	if uid == nil {
		return sysutil.Syscall(ctx, cmd, env)
	}
	return sysutil.RunUserCommand(ctx, cmd, *uid, env, true)
}

// cliCompositor drives a compositor through fixed enable/disable/query
// shell commands, the Go analogue of WindowCompositorWithCLI.
type cliCompositor struct {
	name        string
	enableCmd   string
	disableCmd  string
	isEnableCmd string
	log         zerolog.Logger
	mu          sync.Mutex
}

func (c *cliCompositor) Name() string      { return c.name }
func (c *cliCompositor) Lock() *sync.Mutex { return &c.mu }

func (c *cliCompositor) CanBeManaged() (bool, string) {
	for _, cmd := range uniqueFirstWords(c.enableCmd, c.disableCmd, c.isEnableCmd) {
		if !commandExists(cmd) {
			return false, fmt.Sprintf("'%s' is not installed", cmd)
		}
	}
	return true, ""
}

func (c *cliCompositor) Enable(ctx context.Context, uid *int, env map[string]string, _ map[string]string) (bool, error) {
	code, out, err := runAsUser(ctx, c.enableCmd, uid, env)
	if err != nil {
		return false, err
	}
	if code == 0 {
		return true, nil
	}
	c.log.Error().Str("compositor", c.name).Str("output", singleLine(out)).Msg("could not enable compositor")
	return false, nil
}

func (c *cliCompositor) Disable(ctx context.Context, uid *int, env map[string]string, _ map[string]string) (bool, error) {
	code, out, err := runAsUser(ctx, c.disableCmd, uid, env)
	if err != nil {
		return false, err
	}
	if code == 0 {
		return true, nil
	}
	c.log.Error().Str("compositor", c.name).Str("output", singleLine(out)).Msg("could not disable compositor")
	return false, nil
}

func (c *cliCompositor) IsEnabled(ctx context.Context, uid *int, env map[string]string, _ map[string]string) (*bool, error) {
	code, out, err := runAsUser(ctx, c.isEnableCmd, uid, env)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		c.log.Error().Str("compositor", c.name).Int("exitcode", code).Str("output", singleLine(out)).Msg("could not determine compositor state")
		return nil, nil
	}
	state := strings.ToLower(strings.TrimSpace(out))
	switch state {
	case "true":
		v := true
		return &v, nil
	case "false":
		v := false
		return &v, nil
	default:
		c.log.Warn().Str("compositor", c.name).Str("output", singleLine(out)).Msg("unknown compositor state output")
		return nil, nil
	}
}

func uniqueFirstWords(cmds ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range cmds {
		word := strings.SplitN(strings.TrimSpace(c), " ", 2)[0]
		if !seen[word] {
			seen[word] = true
			out = append(out, word)
		}
	}
	return out
}

func singleLine(s string) string { return strings.ReplaceAll(s, "\n", " ") }

// NewKWinCompositor builds the KDE/KWin compositor controller.
func NewKWinCompositor(log zerolog.Logger) WindowCompositor {
	return &cliCompositor{
		name:        "KWin",
		enableCmd:   "qdbus org.kde.KWin /Compositor resume",
		disableCmd:  "qdbus org.kde.KWin /Compositor suspend",
		isEnableCmd: "qdbus org.kde.KWin /Compositor org.kde.kwin.Compositing.active",
		log:         log,
	}
}

// NewXfwm4Compositor builds the Xfce/Xfwm4 compositor controller.
func NewXfwm4Compositor(log zerolog.Logger) WindowCompositor {
	return &cliCompositor{
		name:        "Xfwm4",
		enableCmd:   "xfconf-query --channel=xfwm4 --property=/general/use_compositing --set=true",
		disableCmd:  "xfconf-query --channel=xfwm4 --property=/general/use_compositing --set=false",
		isEnableCmd: "xfconf-query --channel=xfwm4 --property=/general/use_compositing",
		log:         log,
	}
}

// NewMarcoCompositor builds the MATE/Marco compositor controller.
func NewMarcoCompositor(log zerolog.Logger) WindowCompositor {
	return &cliCompositor{
		name:        "Marco",
		enableCmd:   "gsettings set org.mate.Marco.general compositing-manager true",
		disableCmd:  "gsettings set org.mate.Marco.general compositing-manager false",
		isEnableCmd: "gsettings get org.mate.Marco.general compositing-manager",
		log:         log,
	}
}

// noCLICompositor manages a compositor that only exposes itself as a
// running process (Picom, Compiz): enable launches it, disable kills it.
type noCLICompositor struct {
	name        string
	processName string
	log         zerolog.Logger
	mu          sync.Mutex
	namePattern *regexp.Regexp
}

func newNoCLICompositor(name, processName string, log zerolog.Logger) *noCLICompositor {
	return &noCLICompositor{name: name, processName: processName, log: log}
}

func (c *noCLICompositor) Name() string      { return c.name }
func (c *noCLICompositor) Lock() *sync.Mutex { return &c.mu }

func (c *noCLICompositor) CanBeManaged() (bool, string) {
	if !commandExists(c.processName) {
		return false, fmt.Sprintf("'%s' is not installed", c.processName)
	}
	return true, ""
}

func (c *noCLICompositor) Enable(ctx context.Context, uid *int, env map[string]string, wctx map[string]string) (bool, error) {
	cmd := wctx["cmd"]
	if cmd == "" {
		c.log.Error().Str("compositor", c.name).Msg("enable command not available on context")
		return false, nil
	}
	code, out, err := runAsUser(ctx, cmd, uid, env)
	if err != nil {
		return false, err
	}
	if code == 0 {
		return true, nil
	}
	c.log.Error().Str("compositor", c.name).Str("cmd", cmd).Str("output", singleLine(out)).Msg("could not start window compositor")
	return false, nil
}

func (c *noCLICompositor) Disable(ctx context.Context, uid *int, env map[string]string, wctx map[string]string) (bool, error) {
	pid := wctx["pid"]
	if pid == "" {
		c.log.Error().Str("compositor", c.name).Msg("process id not found on context, will not be disabled")
		return false, nil
	}
	code, out, err := sysutil.Syscall(ctx, "kill -9 "+pid, nil)
	if err != nil {
		return false, err
	}
	if code == 0 {
		return true, nil
	}
	c.log.Error().Str("compositor", c.name).Str("pid", pid).Str("output", singleLine(out)).Msg("could not stop window compositor process")
	return false, nil
}

func (c *noCLICompositor) IsEnabled(ctx context.Context, uid *int, env map[string]string, wctx map[string]string) (*bool, error) {
	if c.namePattern == nil {
		c.namePattern = regexp.MustCompile("^" + regexp.QuoteMeta(c.processName) + "$")
	}
	pid, cmd, found := sysutil.FindProcessByName(c.namePattern, false)
	if !found {
		v := false
		return &v, nil
	}
	wctx["pid"] = fmt.Sprintf("%d", pid)
	wctx["cmd"] = cmd
	v := true
	return &v, nil
}

// NewPicomCompositor builds a process-presence compositor controller for
// picom or its predecessor, compton.
func NewPicomCompositor(processName string, log zerolog.Logger) WindowCompositor {
	return newNoCLICompositor(strings.Title(processName), processName, log)
}

// NewCompizCompositor builds the Compiz compositor controller.
func NewCompizCompositor(log zerolog.Logger) WindowCompositor {
	return newNoCLICompositor("Compiz", "compiz", log)
}

// nvidiaCompositor manages the ForceCompositionPipeline/ForceFullCompositionPipeline
// metamode attributes nvidia-settings exposes.
type nvidiaCompositor struct {
	log  zerolog.Logger
	mu   sync.Mutex
	attr *regexp.Regexp
}

// NewNvidiaCompositor builds the Nvidia driver-level compositor controller.
func NewNvidiaCompositor(log zerolog.Logger) WindowCompositor {
	return &nvidiaCompositor{log: log, attr: regexp.MustCompile(`(?i)((Force(Full)?CompositionPipeline)\s*=\s*\w+)`)}
}

func (c *nvidiaCompositor) Name() string      { return "Nvidia" }
func (c *nvidiaCompositor) Lock() *sync.Mutex { return &c.mu }

func (c *nvidiaCompositor) CanBeManaged() (bool, string) {
	if !commandExists("nvidia-settings") {
		return false, "'nvidia-settings' is not installed"
	}
	return true, ""
}

func (c *nvidiaCompositor) assignMode(ctx context.Context, enable bool, env map[string]string, wctx map[string]string) (bool, error) {
	mode := wctx["mode"]
	if mode == "" {
		c.log.Error().Bool("enable", enable).Msg("cannot toggle nvidia compositor: no mode on context")
		return false, nil
	}
	state := "Off"
	if enable {
		state = "On"
	}
	cmd := fmt.Sprintf(`nvidia-settings --assign CurrentMetaMode="nvidia-auto-select +0+0 {%s=%s}"`, mode, state)
	code, out, err := sysutil.Syscall(ctx, cmd, env)
	if err != nil {
		return false, err
	}
	if code == 0 && !strings.Contains(strings.ToLower(out), "error assigning value") {
		return true, nil
	}
	c.log.Error().Bool("enable", enable).Str("output", singleLine(out)).Msg("could not toggle nvidia compositor")
	return false, nil
}

func (c *nvidiaCompositor) Enable(ctx context.Context, _ *int, env map[string]string, wctx map[string]string) (bool, error) {
	return c.assignMode(ctx, true, env, wctx)
}

func (c *nvidiaCompositor) Disable(ctx context.Context, _ *int, env map[string]string, wctx map[string]string) (bool, error) {
	return c.assignMode(ctx, false, env, wctx)
}

func (c *nvidiaCompositor) IsEnabled(ctx context.Context, _ *int, env map[string]string, wctx map[string]string) (*bool, error) {
	code, out, err := sysutil.Syscall(ctx, "nvidia-settings -q /CurrentMetaMode", env)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		c.log.Error().Int("exitcode", code).Str("output", singleLine(out)).Msg("could not check nvidia compositor state")
		return nil, nil
	}
	out = strings.TrimSpace(out)
	if out != "" {
		matches := c.attr.FindAllStringSubmatch(out, -1)
		if len(matches) > 0 {
			seen := map[string]bool{}
			for _, m := range matches {
				seen[strings.ToLower(strings.TrimSpace(m[1]))] = true
			}
			if len(seen) == 2 {
				wctx["mode"] = "ForceFullCompositionPipeline"
			} else {
				wctx["mode"] = "ForceCompositionPipeline"
			}
			v := true
			return &v, nil
		}
	}
	if wctx["mode"] != "" {
		v := false
		return &v, nil
	}
	c.log.Warn().Str("output", singleLine(out)).Msg("could not determine nvidia compositor state")
	return nil, nil
}

// GetWindowCompositorByName resolves a configured/auto-detected desktop
// environment or compositor name to a controller, mirroring
// get_window_compositor_by_name.
func GetWindowCompositorByName(name string, log zerolog.Logger) WindowCompositor {
	clean := strings.ToLower(strings.TrimSpace(name))
	switch {
	case clean == "":
		return nil
	case strings.Contains(clean, "kwin"):
		return NewKWinCompositor(log)
	case strings.Contains(clean, "xfwm4"):
		return NewXfwm4Compositor(log)
	case strings.Contains(clean, "marco"), strings.Contains(clean, "metacity"):
		return NewMarcoCompositor(log)
	case strings.Contains(clean, "compton"):
		return NewPicomCompositor("compton", log)
	case strings.Contains(clean, "picom"):
		return NewPicomCompositor("picom", log)
	case strings.Contains(clean, "compiz"):
		return NewCompizCompositor(log)
	case clean == "nvidia":
		return NewNvidiaCompositor(log)
	default:
		log.Warn().Str("compositor", name).Msg("compositor is currently not supported")
		return nil
	}
}

var reCompositorName = regexp.MustCompile(`compositor\s*:\s*(.+)\s`)

func inxiReadCompositor(ctx context.Context, uid *int, userEnv map[string]string, log zerolog.Logger) string {
	if !commandExists("inxi") {
		return ""
	}
	cmd := "inxi -Gxx -c 0"
	code, out, err := runAsUser(ctx, cmd, uid, userEnv)
	if err != nil || code != 0 {
		log.Error().Str("cmd", cmd).Int("exitcode", code).Str("output", singleLine(out)).Msg("could not read the current window compositor")
		return ""
	}
	m := reCompositorName.FindStringSubmatch(out)
	if len(m) < 2 {
		log.Warn().Str("cmd", cmd).Msg("command did not return the window compositor name")
		return ""
	}
	return strings.ToLower(strings.TrimSpace(m[1]))
}

// DetectWindowCompositor tries to read the active compositor via `inxi`
// first, falling back to guessing from the desktop environment, mirroring
// get_window_compositor.
func DetectWindowCompositor(ctx context.Context, uid *int, userEnv map[string]string, log zerolog.Logger) WindowCompositor {
	name := inxiReadCompositor(ctx, uid, userEnv, log)
	if name == "" {
		name = GuessCompositorForDesktopEnvironment(userEnv, log)
	}
	return GetWindowCompositorByName(name, log)
}

// GuessCompositorForDesktopEnvironment maps XDG_CURRENT_DESKTOP to a
// compositor name when nothing was read from `inxi`.
func GuessCompositorForDesktopEnvironment(userEnv map[string]string, log zerolog.Logger) string {
	desktop := strings.ToLower(userEnv["XDG_CURRENT_DESKTOP"])
	if desktop == "" {
		log.Warn().Msg("could not determine desktop environment: missing XDG_CURRENT_DESKTOP")
		return ""
	}
	switch desktop {
	case "kde":
		return "kwin"
	case "xfce":
		return "xfwm4"
	case "mate":
		return "marco"
	default:
		log.Warn().Str("desktop", desktop).Msg("unknown compositor for desktop environment")
		return ""
	}
}
