// Package config loads optimusd's daemon configuration: a flat key=value
// file read through viper, with OPTIMUSD_ environment overrides.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/errs"
)

// Optimizer holds every daemon-level setting spec.md §6 documents.
type Optimizer struct {
	Port                   int
	RequestEncrypted       bool
	CheckFinishedInterval  float64
	RenicerInterval        float64
	LauncherMappingTimeout float64
	GPUVendor              string
	GPUCache               bool
	ProfileCache           bool
	ProfileCachePath       string
	ProfileWatch           bool
	PreCacheProfiles       bool
	Compositor             string
	AllowRootScripts       bool
	CPUPerformance         bool
	LogLevel               string
	LogEnabled             bool
	Service                bool
}

// Default mirrors OptimizerConfig's class defaults in the original source.
func Default() Optimizer {
	return Optimizer{
		Port:                   5087,
		RequestEncrypted:       true,
		CheckFinishedInterval:  3,
		RenicerInterval:        5,
		LauncherMappingTimeout: 30,
		GPUCache:               false,
		ProfileCache:           false,
		PreCacheProfiles:       false,
		AllowRootScripts:       false,
		CPUPerformance:         false,
		LogLevel:               "info",
		LogEnabled:             true,
	}
}

// Load reads /etc/optimusd/optimusd.conf (or the given path), applies
// OPTIMUSD_* environment overrides and an optional .env file, and
// validates the result.
func Load(path string) (Optimizer, error) {
	_ = godotenv.Load()

	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("properties")
	v.SetEnvPrefix("OPTIMUSD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if !isNotFound(err) {
			return cfg, fmt.Errorf("%w: %v", errs.ErrConfigInvalid, err)
		}
	}

	v.SetDefault("port", cfg.Port)
	v.SetDefault("request.encrypted", cfg.RequestEncrypted)
	v.SetDefault("check_finished_interval", cfg.CheckFinishedInterval)
	v.SetDefault("renicer_interval", cfg.RenicerInterval)
	v.SetDefault("launcher_mapping_timeout", cfg.LauncherMappingTimeout)
	v.SetDefault("gpu_cache", cfg.GPUCache)
	v.SetDefault("profile_cache", cfg.ProfileCache)
	v.SetDefault("profile_cache_path", cfg.ProfileCachePath)
	v.SetDefault("profile_watch", cfg.ProfileWatch)
	v.SetDefault("pre_cache_profiles", cfg.PreCacheProfiles)
	v.SetDefault("allow_root_scripts", cfg.AllowRootScripts)
	v.SetDefault("cpu.performance", cfg.CPUPerformance)
	v.SetDefault("log.level", cfg.LogLevel)
	v.SetDefault("log.enabled", cfg.LogEnabled)

	cfg.Port = v.GetInt("port")
	cfg.RequestEncrypted = v.GetBool("request.encrypted")
	cfg.CheckFinishedInterval = v.GetFloat64("check_finished_interval")
	cfg.RenicerInterval = v.GetFloat64("renicer_interval")
	cfg.LauncherMappingTimeout = v.GetFloat64("launcher_mapping_timeout")
	cfg.GPUVendor = v.GetString("gpu_vendor")
	cfg.GPUCache = v.GetBool("gpu_cache")
	cfg.ProfileCache = v.GetBool("profile_cache")
	cfg.ProfileCachePath = v.GetString("profile_cache_path")
	cfg.ProfileWatch = v.GetBool("profile_watch")
	cfg.PreCacheProfiles = v.GetBool("pre_cache_profiles")
	cfg.Compositor = v.GetString("compositor")
	cfg.AllowRootScripts = v.GetBool("allow_root_scripts")
	cfg.CPUPerformance = v.GetBool("cpu.performance")
	cfg.LogLevel = v.GetString("log.level")
	cfg.LogEnabled = v.GetBool("log.enabled")

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("%w: port %d out of range", errs.ErrConfigInvalid, cfg.Port)
	}

	return cfg, nil
}

func isNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	return ok
}
