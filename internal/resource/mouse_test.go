package resource

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestMouseCursorManagerCanWorkReflectsBinaryPresence(t *testing.T) {
	m := NewMouseCursorManager(zerolog.Nop())
	ok, reason := m.CanWork()
	assert.False(t, ok, "unclutter is not expected to be installed in a test environment")
	assert.Contains(t, reason, "unclutter")
}

func TestMouseCursorManagerMatchPatternIsAnchored(t *testing.T) {
	m := NewMouseCursorManager(zerolog.Nop())
	pattern := m.matchPattern()

	assert.True(t, pattern.MatchString("unclutter"))
	assert.False(t, pattern.MatchString("unclutter-extra"))
}

func TestMouseCursorManagerGenEnvPrefersUserEnvAndDefaultsDisplay(t *testing.T) {
	m := NewMouseCursorManager(zerolog.Nop())

	env := m.genEnv(map[string]string{"FOO": "bar"})
	assert.Equal(t, "bar", env["FOO"])
	assert.Equal(t, ":0", env["DISPLAY"])

	env = m.genEnv(map[string]string{"DISPLAY": ":7"})
	assert.Equal(t, ":7", env["DISPLAY"])
}

func TestMouseCursorManagerIsCursorHiddenStartsUnknown(t *testing.T) {
	m := NewMouseCursorManager(zerolog.Nop())
	assert.Nil(t, m.IsCursorHidden())
}
