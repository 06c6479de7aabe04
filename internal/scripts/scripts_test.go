package scripts

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func TestGetEnvironDefaultsDisplay(t *testing.T) {
	env := GetEnviron(map[string]string{"FOO": "bar"})
	assert.Equal(t, "bar", env["FOO"])
	assert.Equal(t, ":0", env["DISPLAY"])
}

func TestGetEnvironPreservesExplicitDisplay(t *testing.T) {
	env := GetEnviron(map[string]string{"DISPLAY": ":5"})
	assert.Equal(t, ":5", env["DISPLAY"])
}

func TestGetEnvironFallsBackToProcessEnvironment(t *testing.T) {
	t.Setenv("OPTIMUSD_TEST_MARKER", "present")
	env := GetEnviron(nil)
	assert.Equal(t, "present", env["OPTIMUSD_TEST_MARKER"])
}

func TestRunScriptsUnownedByAnyoneRunsDirectly(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("this path only applies to a non-root daemon")
	}

	r := New("after", false, zerolog.Nop())
	settings := &model.ScriptSettings{Scripts: []string{"true"}, WaitExec: true}

	pids := r.Run(context.Background(), []*model.ScriptSettings{settings}, nil, nil)
	assert.NotNil(t, pids)
}

func TestRunScriptsSkipsInvalidGroups(t *testing.T) {
	r := New("finish", false, zerolog.Nop())
	pids := r.Run(context.Background(), []*model.ScriptSettings{nil, {}}, nil, nil)
	assert.Empty(t, pids)
}
