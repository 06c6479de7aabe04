package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	bolt "go.etcd.io/bbolt"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

const appName = "optimusd"

// DefaultProfileName is used when a request names no profile and carries
// no inline configuration.
func DefaultProfileName() string { return "default" }

func rootProfilePath(name string) string {
	return fmt.Sprintf("/etc/%s/%s.profile", appName, name)
}

// RootProfileDir is the system-wide profile directory WarmCache globs and
// FileWatcher watches by default.
func RootProfileDir() string {
	return fmt.Sprintf("/etc/%s", appName)
}

func userProfilePath(name, userName string) string {
	return fmt.Sprintf("/home/%s/.config/%s/%s.profile", userName, appName, name)
}

func profileDir(userID *int, userName string) string {
	if isRootUser(userID) {
		return fmt.Sprintf("/etc/%s", appName)
	}
	return fmt.Sprintf("/home/%s/.config/%s", userName, appName)
}

func isRootUser(uid *int) bool {
	if uid == nil {
		return os.Getuid() == 0
	}
	return *uid == 0
}

// PossiblePathsByPriority returns, in lookup order, every path the daemon
// should try for profile `name` for the given requester, mirroring
// get_possible_profile_paths_by_priority: a non-root user checks their own
// config directory first, falling back to the system-wide one.
func PossiblePathsByPriority(name string, userID *int, userName string) []string {
	if !isRootUser(userID) && userName != "" {
		return []string{userProfilePath(name, userName), rootProfilePath(name)}
	}
	return []string{rootProfilePath(name)}
}

// Cache keys parsed profiles by path plus any inline settings merged into
// them, so two requests for the same profile with different add-on
// settings don't collide. An optional Store backs it with a bbolt
// database so the cache survives a daemon restart instead of rebuilding
// from profile files on every boot.
type Cache struct {
	mu    sync.Mutex
	byKey map[string]*model.OptimizationProfile
	store *Store
}

func NewCache() *Cache {
	return &Cache{byKey: map[string]*model.OptimizationProfile{}}
}

// NewCacheWithStore returns a Cache that also persists additions to store
// and falls back to it on a memory miss.
func NewCacheWithStore(store *Store) *Cache {
	return &Cache{byKey: map[string]*model.OptimizationProfile{}, store: store}
}

func cacheKey(path, addSettings string) string {
	if addSettings == "" {
		return path
	}
	return path + "#" + addSettings
}

func (c *Cache) Get(path, addSettings string) *model.OptimizationProfile {
	key := cacheKey(path, addSettings)

	c.mu.Lock()
	p := c.byKey[key]
	c.mu.Unlock()
	if p != nil {
		return p
	}

	if c.store == nil {
		return nil
	}
	p = c.store.Get(key)
	if p == nil {
		return nil
	}

	c.mu.Lock()
	c.byKey[key] = p
	c.mu.Unlock()
	return p
}

func (c *Cache) Add(path string, p *model.OptimizationProfile, addSettings string) {
	if p == nil {
		return
	}
	key := cacheKey(path, addSettings)

	c.mu.Lock()
	c.byKey[key] = p
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Put(key, p); err != nil {
			// Persisting is best-effort: the in-memory entry above is
			// already usable for the rest of this process's lifetime.
			_ = err
		}
	}
}

// Invalidate drops path's entries (all add-settings variants sharing the
// bare path key) from memory and the store, used when a watched profile
// file changes on disk.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	for k := range c.byKey {
		if k == path || strings.HasPrefix(k, path+"#") {
			delete(c.byKey, k)
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		var keys []string
		_ = c.store.db.View(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketProfiles).ForEach(func(k, _ []byte) error {
				if ks := string(k); ks == path || strings.HasPrefix(ks, path+"#") {
					keys = append(keys, ks)
				}
				return nil
			})
		})
		for _, k := range keys {
			_ = c.store.Delete(k)
		}
	}
}

func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

// Reader maps raw profile text into a model.OptimizationProfile and,
// optionally, reads it from disk through an optional cache.
type Reader struct {
	cache *Cache
	log   zerolog.Logger
}

func NewReader(cache *Cache, log zerolog.Logger) *Reader {
	return &Reader{cache: cache, log: log}
}

// Map parses profileStr (with addSettings, if any, appended as extra
// lines) into a fully-allocated profile.
func (r *Reader) Map(profileStr, profilePath, addSettings string) *model.OptimizationProfile {
	p := model.RawProfile(profilePath)

	content := profileStr
	if addSettings != "" {
		content = content + "\n" + addSettings
		r.log.Debug().Str("profile", p.Name).Str("settings", addSettings).Msg("merged inline settings into profile")
	}

	parseLines(p, content)
	resetInvalidNestedMembers(p)
	return p
}

// Read loads a profile file from disk and maps it.
func (r *Reader) Read(profilePath, addSettings string) (*model.OptimizationProfile, error) {
	start := time.Now()

	raw, err := os.ReadFile(profilePath)
	if err != nil {
		return nil, err
	}

	content := strings.TrimSpace(string(raw))
	if content == "" {
		r.log.Warn().Str("path", profilePath).Msg("no properties defined in profile file")
		return nil, nil
	}

	p := r.Map(content, profilePath, addSettings)
	r.log.Debug().Str("path", profilePath).Dur("elapsed", time.Since(start)).Msg("profile file read and mapped")
	return p, nil
}

// ReadValid reads a profile, validates it, and caches it when valid. A
// missing file is treated as "no profile" unless handleNotFound is false.
func (r *Reader) ReadValid(ctx context.Context, profilePath, addSettings string, handleNotFound bool) (*model.OptimizationProfile, error) {
	if r.cache != nil {
		if cached := r.cache.Get(profilePath, addSettings); cached != nil {
			return cached, nil
		}
	}

	p, err := r.Read(profilePath, addSettings)
	if err != nil {
		if os.IsNotExist(err) {
			if handleNotFound {
				r.log.Warn().Str("path", profilePath).Msg("profile file not found")
				return nil, nil
			}
			return nil, err
		}
		return nil, err
	}

	if p == nil {
		return nil, nil
	}

	if !p.IsValid() {
		r.log.Warn().Str("path", profilePath).Msg("invalid profile file")
		return nil, nil
	}

	if r.cache != nil {
		r.cache.Add(profilePath, p, addSettings)
	}
	return p, nil
}

// CachedProfiles reports how many profiles the reader's cache currently holds.
func (r *Reader) CachedProfiles() int {
	if r.cache == nil {
		return 0
	}
	return r.cache.Size()
}

// WarmCache globs every root and per-user profile directory and reads every
// `.profile` file found into the cache concurrently, mirroring
// cache_profiles().
func (r *Reader) WarmCache(ctx context.Context) {
	rootUID := 0
	paths := map[string]bool{}
	for _, dir := range []string{profileDir(&rootUID, "root"), "/home/*/.config/" + appName} {
		matches, _ := filepath.Glob(filepath.Join(dir, "*.profile"))
		for _, m := range matches {
			paths[m] = true
		}
	}

	if len(paths) == 0 {
		return
	}
	r.log.Debug().Int("count", len(paths)).Msg("profiles found on disk")

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("pre-caching profiles"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var wg sync.WaitGroup
	for path := range paths {
		wg.Add(1)
		go func(path string) {
			defer wg.Done()
			if _, err := r.ReadValid(ctx, path, "", true); err != nil {
				r.log.Warn().Str("path", path).Err(err).Msg("failed reading profile during warm-up")
			}
			bar.Add(1)
		}(path)
	}
	wg.Wait()

	r.log.Info().Int("count", r.CachedProfiles()).Msg("valid profiles cached")
}

// resetInvalidNestedMembers clears nested settings blocks that ended up
// carrying no usable value, so callers can rely on a nil check alone.
func resetInvalidNestedMembers(p *model.OptimizationProfile) {
	if !p.CPU.IsValid() {
		p.CPU = nil
	}
	if !p.GPU.IsValid() {
		p.GPU = nil
	}
	if !p.Compositor.IsValid() {
		p.Compositor = nil
	}
	if !p.Launcher.IsValid() {
		p.Launcher = nil
	}
	if !p.AfterScripts.IsValid() {
		p.AfterScripts = nil
	}
	if !p.FinishScripts.IsValid() {
		p.FinishScripts = nil
	}
	if !p.StopAfter.IsValid() {
		p.StopAfter = nil
	}
	if p.Process != nil {
		if !p.Process.Scheduling.IsValid() {
			p.Process.Scheduling = nil
		}
		if !p.Process.Nice.IsValid() {
			p.Process.Nice = nil
		}
		if !p.Process.IO.IsValid() {
			p.Process.IO = nil
		}
		if !p.Process.IsValid() {
			p.Process = nil
		}
	}
}
