package steamutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetExeName(t *testing.T) {
	name, ok := GetExeName("/home/alice/.steam/game.exe --fullscreen")
	assert.True(t, ok)
	assert.Equal(t, "game.exe", name)

	_, ok = GetExeName("/home/alice/.steam/noextension")
	assert.False(t, ok)
}

func TestGetSteamRuntimeCommand(t *testing.T) {
	cmd, ok := GetSteamRuntimeCommand("/usr/bin/steam-runtime SteamLaunch AppId=12345 -- /home/alice/game/game.bin --fullscreen")
	assert.True(t, ok)
	assert.Equal(t, "/home/alice/game/game.bin --fullscreen", cmd)

	_, ok = GetSteamRuntimeCommand("")
	assert.False(t, ok)

	_, ok = GetSteamRuntimeCommand("/usr/bin/game.bin")
	assert.False(t, ok)
}

func TestGetProtonExecNameAndPaths(t *testing.T) {
	info, ok := GetProtonExecNameAndPaths("/home/alice/.steam/proton waitforexitandrun /home/alice/game/game.exe")
	assert.True(t, ok)
	assert.Equal(t, "game.exe", info.ExeName)
	assert.Equal(t, "/home/alice/game/game.exe", info.NativePath)
	assert.Equal(t, `Z:\home\alice\game\game.exe`, info.WinePath)

	_, ok = GetProtonExecNameAndPaths("")
	assert.False(t, ok)

	_, ok = GetProtonExecNameAndPaths("not a proton command")
	assert.False(t, ok)
}
