package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

// NvidiaPowerMode mirrors nvidia-settings' GpuPowerMizerMode values.
type NvidiaPowerMode int

const (
	NvidiaOnDemand NvidiaPowerMode = iota
	NvidiaPerformance
	NvidiaAuto
)

// GPUDriver abstracts one vendor's mechanism for reading/writing GPU power
// mode. PowerMode values are driver-specific (NvidiaPowerMode for Nvidia,
// a "level:profile" string for AMD) and only ever round-tripped, never
// interpreted outside their owning driver.
type GPUDriver interface {
	VendorName() string
	Lock() *sync.Mutex
	CanWork() (bool, string)
	GetGPUs(ctx context.Context) (map[string]bool, error)
	GetCachedGPUs(ctx context.Context, cacheEnabled bool) (map[string]bool, error)
	GetPowerMode(ctx context.Context, gpuIDs map[string]bool, userEnv map[string]string) (map[string]any, error)
	SetPowerMode(ctx context.Context, idsModes map[string]any, userEnv map[string]string) map[string]bool
	DefaultMode() any
	PerformanceMode() any
}

type driverBase struct {
	log       zerolog.Logger
	mu        sync.Mutex
	cacheMu   sync.Mutex
	cached    bool
	cachedSet map[string]bool
}

func (d *driverBase) Lock() *sync.Mutex { return &d.mu }

func (d *driverBase) getCached(ctx context.Context, cacheEnabled bool, fetch func(context.Context) (map[string]bool, error)) (map[string]bool, error) {
	if !cacheEnabled {
		return fetch(ctx)
	}
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if !d.cached {
		gpus, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		d.cachedSet = gpus
		d.cached = true
	}
	return d.cachedSet, nil
}

// NvidiaGPUDriver drives GPUs via nvidia-smi (discovery) and
// nvidia-settings (power mode read/write).
type NvidiaGPUDriver struct {
	driverBase
	reSetPower *regexp.Regexp
	reGetPower *regexp.Regexp
}

func NewNvidiaGPUDriver(log zerolog.Logger) *NvidiaGPUDriver {
	d := &NvidiaGPUDriver{}
	d.log = log
	d.reSetPower = regexp.MustCompile(`\[gpu:(\d+)].+(\d)\.?`)
	d.reGetPower = regexp.MustCompile(`Attribute\s+.+\[gpu:(\d+)].+:\s+(\d)`)
	return d
}

func (d *NvidiaGPUDriver) VendorName() string { return "Nvidia" }

func (d *NvidiaGPUDriver) CanWork() (bool, string) {
	if !commandExists("nvidia-settings") {
		return false, "'nvidia-settings' is not installed"
	}
	if !commandExists("nvidia-smi") {
		return false, "'nvidia-smi' is not installed"
	}
	return true, ""
}

func (d *NvidiaGPUDriver) GetGPUs(ctx context.Context) (map[string]bool, error) {
	code, out, err := sysutil.Syscall(ctx, "nvidia-smi --query-gpu=index --format=csv,noheader", nil)
	if err != nil {
		return nil, err
	}
	gpus := map[string]bool{}
	if code == 0 {
		for _, line := range strings.Split(out, "\n") {
			idx := strings.TrimSpace(line)
			if idx != "" {
				gpus[idx] = true
			}
		}
	}
	return gpus, nil
}

func (d *NvidiaGPUDriver) GetCachedGPUs(ctx context.Context, cacheEnabled bool) (map[string]bool, error) {
	return d.getCached(ctx, cacheEnabled, d.GetGPUs)
}

func mapEnvVars(env map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range env {
		out[k] = v
	}
	out["LANG"] = "en_US.UTF-8"
	return out
}

func (d *NvidiaGPUDriver) SetPowerMode(ctx context.Context, idsModes map[string]any, userEnv map[string]string) map[string]bool {
	var params []string
	var logParts []string
	for id, m := range idsModes {
		mode := m.(NvidiaPowerMode)
		params = append(params, fmt.Sprintf("-a [gpu:%s]/GpuPowerMizerMode=%d", id, mode))
		logParts = append(logParts, fmt.Sprintf("%s=%d", id, mode))
	}
	cmd := "nvidia-settings " + strings.Join(params, " ")
	d.log.Info().Str("vendor", "Nvidia").Strs("modes", logParts).Str("cmd", cmd).Msg("changing GPUs power mode")

	_, out, err := sysutil.Syscall(ctx, cmd, mapEnvVars(userEnv))
	res := map[string]bool{}
	for id := range idsModes {
		res[id] = false
	}
	if err != nil || out == "" {
		d.log.Error().Str("vendor", "Nvidia").Msg("could not determine changing modes response")
		return res
	}

	matches := d.reSetPower.FindAllStringSubmatch(out, -1)
	for _, m := range matches {
		id := m[1]
		val, convErr := strconv.Atoi(m[2])
		if convErr != nil {
			continue
		}
		if mode, ok := idsModes[id]; ok {
			res[id] = int(mode.(NvidiaPowerMode)) == val
		}
	}
	return res
}

func (d *NvidiaGPUDriver) GetPowerMode(ctx context.Context, gpuIDs map[string]bool, userEnv map[string]string) (map[string]any, error) {
	if len(gpuIDs) == 0 {
		return nil, nil
	}
	var query []string
	for id := range gpuIDs {
		query = append(query, fmt.Sprintf("-q [gpu:%s]/GpuPowerMizerMode", id))
	}
	cmd := "nvidia-settings " + strings.Join(query, " ")
	code, out, err := sysutil.Syscall(ctx, cmd, mapEnvVars(userEnv))
	if err != nil {
		return nil, err
	}
	if code != 0 {
		d.log.Error().Str("vendor", "Nvidia").Int("exitcode", code).Str("output", singleLine(out)).Msg("could not detect GPUs power mode")
		return nil, nil
	}
	if out == "" {
		d.log.Warn().Str("vendor", "Nvidia").Msg("could not detect GPUs power mode: no output")
		return nil, nil
	}

	matches := d.reGetPower.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		d.log.Error().Str("vendor", "Nvidia").Msg("could not detect GPUs power mode: no modes found in output")
		return nil, nil
	}

	res := map[string]any{}
	for _, m := range matches {
		id := m[1]
		val, convErr := strconv.Atoi(m[2])
		if convErr != nil {
			continue
		}
		if gpuIDs[id] {
			res[id] = NvidiaPowerMode(val)
		}
	}
	return res, nil
}

func (d *NvidiaGPUDriver) DefaultMode() any     { return NvidiaAuto }
func (d *NvidiaGPUDriver) PerformanceMode() any { return NvidiaPerformance }

// AMDGPUDriver drives GPUs through the sysfs power_dpm_force_performance_level
// and pp_power_profile_mode files exposed by the amdgpu kernel driver.
type AMDGPUDriver struct {
	driverBase
	gpusPath       string
	rePowerMode    *regexp.Regexp
	reExtractID    *regexp.Regexp
}

const (
	amdPerformanceFile = "power_dpm_force_performance_level"
	amdProfileFile      = "pp_power_profile_mode"
)

func NewAMDGPUDriver(log zerolog.Logger) *AMDGPUDriver {
	d := &AMDGPUDriver{gpusPath: "/sys/class/drm/card%s/device"}
	d.log = log
	d.rePowerMode = regexp.MustCompile(`^\w+\*:?$`)
	d.reExtractID = regexp.MustCompile(`/sys/class/drm/card(\d+)/device`)
	return d
}

func (d *AMDGPUDriver) VendorName() string          { return "AMD" }
func (d *AMDGPUDriver) CanWork() (bool, string)      { return true, "" }
func (d *AMDGPUDriver) DefaultMode() any             { return "auto:3" }
func (d *AMDGPUDriver) PerformanceMode() any         { return "manual:5" }

func (d *AMDGPUDriver) gpuDir(id string) string {
	return fmt.Sprintf(d.gpusPath, id)
}

func (d *AMDGPUDriver) extractGPUID(path string) string {
	m := d.reExtractID.FindStringSubmatch(path)
	if len(m) < 2 {
		d.log.Error().Str("path", path).Msg("could not extract GPU id from path")
		return ""
	}
	return m[1]
}

func (d *AMDGPUDriver) GetGPUs(ctx context.Context) (map[string]bool, error) {
	requiredFiles := map[string]map[string]bool{amdPerformanceFile: {}, amdProfileFile: {}}

	matches, _ := filepath.Glob("/sys/class/drm/card*/device/*")
	for _, path := range matches {
		file := filepath.Base(path)
		if _, ok := requiredFiles[file]; !ok {
			continue
		}
		if canWriteTo(path) {
			requiredFiles[file][filepath.Dir(path)] = true
		} else {
			id := d.extractGPUID(filepath.Dir(path))
			d.log.Warn().Str("file", path).Str("gpu", id).Msg("writing not allowed for GPU performance file")
		}
	}

	allDirs := map[string]bool{}
	for _, dirs := range requiredFiles {
		for dir := range dirs {
			allDirs[dir] = true
		}
	}

	gpus := map[string]bool{}
	for dir := range allDirs {
		missing := []string{}
		for file, dirs := range requiredFiles {
			if !dirs[dir] {
				missing = append(missing, file)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			d.log.Warn().Str("dir", dir).Strs("missing", missing).Msg("not all required files accessible for mounted GPU")
			continue
		}
		if id := d.extractGPUID(dir); id != "" {
			gpus[id] = true
		}
	}
	return gpus, nil
}

func (d *AMDGPUDriver) GetCachedGPUs(ctx context.Context, cacheEnabled bool) (map[string]bool, error) {
	return d.getCached(ctx, cacheEnabled, d.GetGPUs)
}

func (d *AMDGPUDriver) mapPowerProfileOutput(output, path string) string {
	for _, raw := range strings.Split(output, "\n") {
		if !strings.HasPrefix(raw, " ") {
			continue
		}
		fields := strings.Fields(strings.TrimSpace(raw))
		if len(fields) > 1 && isDigits(fields[0]) && d.rePowerMode.MatchString(fields[len(fields)-1]) {
			return fields[0]
		}
	}
	d.log.Warn().Str("file", path).Str("content", singleLine(output)).Msg("could not map power profile")
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (d *AMDGPUDriver) GetPowerMode(ctx context.Context, gpuIDs map[string]bool, userEnv map[string]string) (map[string]any, error) {
	if len(gpuIDs) == 0 {
		return nil, nil
	}
	res := map[string]any{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id := range gpuIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			dir := d.gpuDir(id)
			perfFile := dir + "/" + amdPerformanceFile
			perfData, err := os.ReadFile(perfFile)
			if err != nil {
				return
			}
			perf := strings.TrimSpace(string(perfData))
			if perf == "" {
				return
			}
			profFile := dir + "/" + amdProfileFile
			profData, err := os.ReadFile(profFile)
			if err != nil {
				return
			}
			profile := d.mapPowerProfileOutput(string(profData), profFile)
			if profile == "" {
				return
			}
			mu.Lock()
			res[id] = perf + ":" + profile
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	if len(res) == 0 {
		return nil, nil
	}
	return res, nil
}

func (d *AMDGPUDriver) SetPowerMode(ctx context.Context, idsModes map[string]any, userEnv map[string]string) map[string]bool {
	res := map[string]bool{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for id, m := range idsModes {
		mode := strings.SplitN(m.(string), ":", 2)
		if len(mode) != 2 {
			d.log.Error().Str("gpu", id).Str("mode", m.(string)).Msg("unexpected GPU mode format, expected performance_level:power_profile")
			continue
		}
		wg.Add(1)
		go func(id string, mode []string) {
			defer wg.Done()
			dir := d.gpuDir(id)
			ok1 := os.WriteFile(dir+"/"+amdPerformanceFile, []byte(mode[0]), 0644) == nil
			ok2 := os.WriteFile(dir+"/"+amdProfileFile, []byte(mode[1]), 0644) == nil
			mu.Lock()
			res[id] = ok1 && ok2
			mu.Unlock()
		}(id, mode)
	}
	wg.Wait()
	return res
}

// canWriteTo reports whether the calling process can write the given path.
func canWriteTo(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}

// GPUManager discovers working GPU drivers and flips their GPUs into
// performance mode, caching the prior mode so it can be restored once the
// optimized process dies.
type GPUManager struct {
	log zerolog.Logger

	driversMu sync.Mutex
	drivers   []GPUDriver
	cacheGPUs bool

	stateMu    sync.Mutex
	stateCache map[string]map[string]any // vendor -> gpuID -> mode

	logCacheMu sync.Mutex
	workLogged map[string]bool
}

func NewGPUManager(log zerolog.Logger, drivers []GPUDriver, cacheGPUs bool) *GPUManager {
	return &GPUManager{log: log, drivers: drivers, cacheGPUs: cacheGPUs, stateCache: map[string]map[string]any{}, workLogged: map[string]bool{}}
}

func (m *GPUManager) IsCacheEnabled() bool { return m.cacheGPUs }

// HasManageableGPUs reports whether at least one working driver currently
// reports a GPU it can manage.
func (m *GPUManager) HasManageableGPUs(ctx context.Context) bool {
	return len(m.mapWorkingDriversAndGPUs(ctx)) > 0
}

// Drivers returns the configured GPU drivers, so a restore task can visit
// each one without reaching into the manager's internals.
func (m *GPUManager) Drivers() []GPUDriver {
	m.ensureDrivers()
	return append([]GPUDriver(nil), m.drivers...)
}

func (m *GPUManager) ensureDrivers() {
	m.driversMu.Lock()
	defer m.driversMu.Unlock()
	if m.drivers == nil {
		m.drivers = []GPUDriver{NewNvidiaGPUDriver(m.log), NewAMDGPUDriver(m.log)}
	}
}

func (m *GPUManager) canDriverWork(driver GPUDriver) bool {
	ok, reason := driver.CanWork()
	if ok {
		m.logCacheMu.Lock()
		m.workLogged[driver.VendorName()] = false
		m.logCacheMu.Unlock()
		return true
	}
	m.logCacheMu.Lock()
	logged := m.workLogged[driver.VendorName()]
	if !logged {
		m.log.Warn().Str("vendor", driver.VendorName()).Str("reason", reason).Msg("GPUs cannot be managed")
		m.workLogged[driver.VendorName()] = true
	}
	m.logCacheMu.Unlock()
	return false
}

// driverGPUs pairs a driver with its currently discovered GPU ids.
type driverGPUs struct {
	driver GPUDriver
	gpus   map[string]bool
}

func (m *GPUManager) mapWorkingDriversAndGPUs(ctx context.Context) []driverGPUs {
	m.ensureDrivers()

	var results []driverGPUs
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, driver := range m.drivers {
		wg.Add(1)
		go func(driver GPUDriver) {
			defer wg.Done()
			if !m.canDriverWork(driver) {
				return
			}
			gpus, err := driver.GetCachedGPUs(ctx, m.cacheGPUs)
			if err != nil || len(gpus) == 0 {
				return
			}
			mu.Lock()
			results = append(results, driverGPUs{driver: driver, gpus: gpus})
			mu.Unlock()
		}(driver)
	}
	wg.Wait()
	return results
}

// ActivatePerformance flips every working GPU driver's GPUs (optionally
// restricted to targetGPUIDs) into performance mode and returns the prior
// state per vendor, to be handed to the restore task.
func (m *GPUManager) ActivatePerformance(ctx context.Context, userEnv map[string]string, targetGPUIDs map[string]bool) map[string][]model.GPUState {
	res := map[string][]model.GPUState{}

	for _, dg := range m.mapWorkingDriversAndGPUs(ctx) {
		driver, gpus := dg.driver, dg.gpus
		targets := gpus
		if len(targetGPUIDs) > 0 {
			targets = intersect(gpus, targetGPUIDs)
		}
		if len(targets) == 0 {
			continue
		}

		driver.Lock().Lock()
		func() {
			defer driver.Lock().Unlock()

			modes, err := driver.GetPowerMode(ctx, targets, userEnv)
			if err != nil || len(modes) == 0 {
				return
			}

			performanceMode := driver.PerformanceMode()

			m.stateMu.Lock()
			cached := m.stateCache[driver.VendorName()]
			if cached == nil {
				cached = map[string]any{}
				m.stateCache[driver.VendorName()] = cached
			}

			var driverRes []model.GPUState
			notInPerformance := map[string]bool{}
			for gpu, mode := range modes {
				if mode != performanceMode {
					cached[gpu] = mode
					driverRes = append(driverRes, model.GPUState{ID: gpu, Vendor: driver.VendorName(), PowerMode: mode})
					notInPerformance[gpu] = true
				} else if old, ok := cached[gpu]; ok {
					driverRes = append(driverRes, model.GPUState{ID: gpu, Vendor: driver.VendorName(), PowerMode: old})
				}
			}
			m.stateMu.Unlock()

			if len(notInPerformance) > 0 {
				targetModes := map[string]any{}
				for gpu := range notInPerformance {
					targetModes[gpu] = performanceMode
				}
				changed := driver.SetPowerMode(ctx, targetModes, userEnv)
				var notChanged []string
				for gpu, ok := range changed {
					if !ok {
						notChanged = append(notChanged, gpu)
					}
				}
				if len(notChanged) > 0 {
					m.log.Error().Str("vendor", driver.VendorName()).Strs("gpus", notChanged).Msg("could not change GPU power mode")
				}
			}

			res[driver.VendorName()] = driverRes
		}()
	}

	return res
}

func intersect(a, b map[string]bool) map[string]bool {
	out := map[string]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

// GetDriverByVendor resolves a configured gpu_vendor string to a driver
// factory, mirroring get_driver_by_vendor.
func GetDriverByVendor(vendor string, log zerolog.Logger) GPUDriver {
	norm := strings.ToLower(strings.TrimSpace(vendor))
	switch norm {
	case "nvidia":
		return NewNvidiaGPUDriver(log)
	case "amd":
		return NewAMDGPUDriver(log)
	default:
		return nil
	}
}
