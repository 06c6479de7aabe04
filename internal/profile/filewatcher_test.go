package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

func TestFileWatcherInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "game.profile")
	require.NoError(t, os.WriteFile(path, []byte("cpu.performance=true"), 0o644))

	cache := NewCache()
	cache.Add(path, &model.OptimizationProfile{Name: "game"}, "")
	require.NotNil(t, cache.Get(path, ""))

	fw, err := NewFileWatcher(cache, zerolog.Nop(), dir)
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, os.WriteFile(path, []byte("cpu.performance=false"), 0o644))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cache.Get(path, "") == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.Nil(t, cache.Get(path, ""), "rewriting the watched .profile file must invalidate its cache entry")
}

func TestFileWatcherIgnoresNonProfileFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	cache := NewCache()
	cache.Add(path, &model.OptimizationProfile{Name: "unrelated"}, "")

	fw, err := NewFileWatcher(cache, zerolog.Nop(), dir)
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, os.WriteFile(path, []byte("hello again"), 0o644))
	time.Sleep(100 * time.Millisecond)

	assert.NotNil(t, cache.Get(path, ""), "a non-.profile file write must not invalidate anything")
}
