package launcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func TestGuessSearchMode(t *testing.T) {
	assert.Equal(t, SearchByCommand, guessSearchMode("/usr/bin/game"))
	assert.Equal(t, SearchByName, guessSearchMode("game"))
}

func TestParseSearchMode(t *testing.T) {
	mode, ok := parseSearchMode("n")
	assert.True(t, ok)
	assert.Equal(t, SearchByName, mode)

	mode, ok = parseSearchMode("C")
	assert.True(t, ok)
	assert.Equal(t, SearchByCommand, mode)

	_, ok = parseSearchMode("x")
	assert.False(t, ok)
}

func TestMapTargetWithExplicitMode(t *testing.T) {
	target := mapTarget("c%/usr/bin/game", "launcher%c%/usr/bin/game", zerolog.Nop())
	assert.Equal(t, "/usr/bin/game", target.name)
	assert.Equal(t, SearchByCommand, target.mode)
}

func TestMapTargetFallsBackToGuessedMode(t *testing.T) {
	target := mapTarget("game", "launcher%game", zerolog.Nop())
	assert.Equal(t, "game", target.name)
	assert.Equal(t, SearchByName, target.mode)
}

func TestMapTargetInvalidModePrefixIsGuessed(t *testing.T) {
	target := mapTarget("z%/usr/bin/game", "launcher%z%/usr/bin/game", zerolog.Nop())
	assert.Equal(t, "/usr/bin/game", target.name)
	assert.Equal(t, SearchByCommand, target.mode, "an invalid mode letter falls back to guessing from the target shape")
}

func TestMapLaunchersDictSkipsEmptyEntries(t *testing.T) {
	launchers := mapLaunchersDict(map[string][]string{
		"game.sh":  {"game.bin"},
		"":         {"ignored"},
		"empty.sh": {""},
		"none.sh":  {},
	}, zerolog.Nop())

	assert.Len(t, launchers, 1)
	assert.Equal(t, "game.bin", launchers["game.sh"].name)
}

func TestPossibleLauncherFilePaths(t *testing.T) {
	uid := 1000
	paths := possibleLauncherFilePaths(&uid, "alice")
	assert.Equal(t, []string{"/home/alice/.config/optimusd/launchers", "/etc/optimusd/launchers"}, paths)

	rootUID := 0
	paths = possibleLauncherFilePaths(&rootUID, "root")
	assert.Equal(t, []string{"/etc/optimusd/launchers"}, paths)
}

func TestMapperManagerReturnsFalseWithNoSubMapperMatch(t *testing.T) {
	m := NewMapperManager(0, zerolog.Nop())

	req := &model.OptimizationRequest{Command: "unknown.bin"}
	profile := &model.OptimizationProfile{}

	_, ok := m.MapPID(context.Background(), req, profile)
	assert.False(t, ok)
}

func TestMapLaunchersFileParsesValidLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launchers")
	content := "# a comment\n\ngame.sh=game.bin\nproton.sh=c%/usr/bin/proton # inline comment\nbad-line\n=noKey\nempty=\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	launchers, err := mapLaunchersFile(path, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, launchers, 2)

	assert.Equal(t, "game.bin", launchers["game.sh"].name)
	assert.Equal(t, SearchByName, launchers["game.sh"].mode)

	assert.Equal(t, "/usr/bin/proton", launchers["proton.sh"].name)
	assert.Equal(t, SearchByCommand, launchers["proton.sh"].mode)
}

func TestMapLaunchersFileMissingReturnsError(t *testing.T) {
	_, err := mapLaunchersFile(filepath.Join(t.TempDir(), "missing"), zerolog.Nop())
	assert.True(t, os.IsNotExist(err))
}

func TestMapLaunchersFileEmptyReturnsNil(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launchers")
	require.NoError(t, os.WriteFile(path, []byte("# nothing but comments\n"), 0o644))

	launchers, err := mapLaunchersFile(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, launchers)
}

func TestExplicitLauncherMapperSkipsWhenConfigured(t *testing.T) {
	m := NewExplicitLauncherMapper(0, zerolog.Nop())
	skip := true
	profile := &model.OptimizationProfile{Launcher: &model.LauncherSettings{SkipMapping: &skip}}

	_, ok := m.MapPID(context.Background(), &model.OptimizationRequest{Command: "game.sh"}, profile)
	assert.False(t, ok)
}

func TestExplicitLauncherMapperNoMatchReturnsFalseQuickly(t *testing.T) {
	m := NewExplicitLauncherMapper(0, zerolog.Nop())
	profile := &model.OptimizationProfile{Launcher: &model.LauncherSettings{
		Mapping: map[string][]string{"game.sh": {"game.bin"}},
	}}

	_, ok := m.MapPID(context.Background(), &model.OptimizationRequest{Command: "/usr/bin/other.sh"}, profile)
	assert.False(t, ok)
}

func TestExplicitLauncherMapperWildcardMatchesLauncherName(t *testing.T) {
	m := NewExplicitLauncherMapper(0, zerolog.Nop())
	profile := &model.OptimizationProfile{Launcher: &model.LauncherSettings{
		Mapping: map[string][]string{"game-*.sh": {"n%nonexistent-process-xyz"}},
	}}

	_, ok := m.MapPID(context.Background(), &model.OptimizationRequest{Command: "/opt/game-v2.sh"}, profile)
	assert.False(t, ok, "target never runs in this sandbox, so the wait must time out and report not found")
}

func TestFindWrappedProcessTimesOutWhenAbsent(t *testing.T) {
	m := NewExplicitLauncherMapper(0, zerolog.Nop())
	pid, ok := m.findWrappedProcess(context.Background(), launcherTarget{name: "nonexistent-process-xyz", mode: SearchByName}, "game.sh")
	assert.False(t, ok)
	assert.Zero(t, pid)
}

func TestSteamLauncherMapperSkipsWhenProfileNotSteam(t *testing.T) {
	m := NewSteamLauncherMapper(0, zerolog.Nop())

	_, ok := m.MapPID(context.Background(), &model.OptimizationRequest{Command: "/usr/bin/game"}, &model.OptimizationProfile{})
	assert.False(t, ok)

	steamFalse := false
	_, ok = m.MapPID(context.Background(), &model.OptimizationRequest{Command: "/usr/bin/game"}, &model.OptimizationProfile{Steam: &steamFalse})
	assert.False(t, ok)
}

func TestSteamLauncherMapperRejectsNonSteamCommand(t *testing.T) {
	m := NewSteamLauncherMapper(time.Millisecond, zerolog.Nop())
	steamTrue := true

	_, ok := m.MapPID(context.Background(), &model.OptimizationRequest{Command: "/usr/bin/notsteam"}, &model.OptimizationProfile{Steam: &steamTrue})
	assert.False(t, ok)
}
