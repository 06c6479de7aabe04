package resource

import (
	"context"
	"os"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/proctune"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

// MouseCursorManager hides/shows the mouse pointer via unclutter, tracking
// whether optimusd itself is the one currently hiding it.
type MouseCursorManager struct {
	log         zerolog.Logger
	processName string
	renicing    bool

	mu           sync.Mutex
	cursorHidden *bool
	pattern      *regexp.Regexp
}

func NewMouseCursorManager(log zerolog.Logger) *MouseCursorManager {
	return &MouseCursorManager{log: log, processName: "unclutter", renicing: true}
}

func (m *MouseCursorManager) Lock() *sync.Mutex { return &m.mu }

func (m *MouseCursorManager) CanWork() (bool, string) {
	if !commandExists(m.processName) {
		return false, "'" + m.processName + "' is not installed. It will not be possible to hide the mouse cursor"
	}
	return true, ""
}

func (m *MouseCursorManager) matchPattern() *regexp.Regexp {
	if m.pattern == nil {
		m.pattern = regexp.MustCompile("^" + regexp.QuoteMeta(m.processName) + "$")
	}
	return m.pattern
}

func (m *MouseCursorManager) genEnv(userEnv map[string]string) map[string]string {
	env := map[string]string{}
	if userEnv != nil {
		for k, v := range userEnv {
			env[k] = v
		}
	} else {
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					env[kv[:i]] = kv[i+1:]
					break
				}
			}
		}
	}
	if env["DISPLAY"] == "" {
		env["DISPLAY"] = ":0"
	}
	return env
}

func (m *MouseCursorManager) renice(ctx context.Context) {
	found := sysutil.FindPIDsByNames([]string{m.processName}, true)
	pid, ok := found[m.processName]
	if !ok {
		m.log.Warn().Str("process", m.processName).Msg("could not renice: process not found")
		return
	}
	if err := proctune.SetPriority(int(pid), 1); err != nil {
		m.log.Warn().Str("process", m.processName).Err(err).Msg("could not renice process")
		return
	}
	m.log.Debug().Str("process", m.processName).Msg("reniced to 1")
}

// HideCursor launches unclutter unless already running, mirroring
// MouseCursorManager.hide_cursor.
func (m *MouseCursorManager) HideCursor(ctx context.Context, userRequest bool, userEnv map[string]string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, _, found := sysutil.FindProcessByName(m.matchPattern(), false); found {
		m.log.Warn().Msg("mouse cursor is already hidden")
		if m.cursorHidden == nil {
			hidden := false
			m.cursorHidden = &hidden
		}
		return false
	}

	code, _, err := sysutil.Syscall(ctx, "unclutter --timeout 1 -b", m.genEnv(userEnv))
	if err != nil || code != 0 {
		m.log.Error().Int("exitcode", code).Msg("could not hide the mouse cursor")
		return false
	}

	m.log.Info().Msg("mouse cursor hidden")
	hidden := userRequest
	m.cursorHidden = &hidden
	if m.renicing {
		go m.renice(context.Background())
	}
	return true
}

// IsCursorHidden returns the last known hidden state, nil if unknown.
func (m *MouseCursorManager) IsCursorHidden() *bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursorHidden
}

// ShowCursor kills every unclutter instance found, mirroring show_cursor.
func (m *MouseCursorManager) ShowCursor(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, _, found := sysutil.FindProcessByName(m.matchPattern(), false); !found {
		m.log.Info().Str("process", m.processName).Msg("mouse cursor is already being displayed: process not running")
		m.cursorHidden = nil
		return true
	}

	code, out, err := sysutil.Syscall(ctx, "killall "+m.processName, nil)
	if err != nil || code != 0 {
		m.log.Error().Str("output", singleLine(out)).Msg("could not display mouse cursor: not all instances could be killed")
		return false
	}

	m.log.Info().Msg("displaying mouse cursor")
	m.cursorHidden = nil
	return true
}
