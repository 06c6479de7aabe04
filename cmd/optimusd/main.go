// optimusd applies per-process performance tweaks (CPU governor, GPU mode,
// scheduling, affinity, compositor/mouse state) on request and restores
// everything once the process exits.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/client"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/config"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/crypto"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/handler"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/ingress"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/logging"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/postprocess"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/profile"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/queue"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/resource"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/watcher"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:     "optimusd",
		Short:   "Per-process performance optimizer daemon",
		Version: version,
	}

	var configPath string
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/optimusd/optimusd.conf", "Daemon config file")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		optimizeCmd(&configPath),
		profileCmd(),
		capabilitiesCmd(),
		serviceCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the optimizer daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	started := time.Now()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logging.New(cfg.Service, parseLevel(cfg.LogLevel))
	if !cfg.LogEnabled {
		log = log.Level(zerolog.Disabled)
	}

	log.Debug().Str("user", currentUserName()).Int("pid", os.Getpid()).Msg("initializing")
	log.Info().Float64("interval", cfg.RenicerInterval).Msg("nice levels monitoring interval")
	log.Info().Float64("interval", cfg.CheckFinishedInterval).Msg("finished process checking interval")
	log.Info().Float64("timeout", cfg.LauncherMappingTimeout).Msg("launcher mapping timeout")

	if !cfg.GPUCache {
		log.Warn().Msg("available GPUs cache is disabled, GPUs will be mapped for every request")
	}
	if cfg.AllowRootScripts {
		log.Warn().Msg("scripts are allowed to run at root level")
	}
	if cfg.ProfileCache {
		log.Warn().Msg("profile caching is enabled, changes to files require restarting")
	}

	var compositor resource.WindowCompositor
	if cfg.Compositor != "" {
		compositor = resource.GetWindowCompositorByName(cfg.Compositor, log)
		if compositor != nil {
			log.Info().Str("compositor", compositor.Name()).Msg("pre-defined window compositor")
		}
	}

	var gpuDrivers []resource.GPUDriver
	if cfg.GPUVendor != "" {
		driver := resource.GetDriverByVendor(cfg.GPUVendor, log)
		if driver != nil {
			log.Info().Str("vendor", cfg.GPUVendor).Msg("pre-defined GPU vendor")
			gpuDrivers = []resource.GPUDriver{driver}
		} else {
			log.Warn().Str("vendor", cfg.GPUVendor).Msg("invalid pre-defined GPU vendor")
		}
	}

	cpuCount := resource.CPUCount()

	octx := task.NewOptimizationContext(log, cpuCount)
	octx.GPUMan = resource.NewGPUManager(log, gpuDrivers, cfg.GPUCache)
	octx.CPUFreqMan = resource.NewCPUFrequencyManager(log, cpuCount)
	octx.CPUEnergyMan = resource.NewCPUEnergyPolicyManager(log, cpuCount)
	octx.MouseMan = resource.NewMouseCursorManager(log)
	octx.Queue = queue.New()
	octx.Compositor = compositor
	octx.AllowRootScripts = cfg.AllowRootScripts
	octx.LauncherMappingTimeout = cfg.LauncherMappingTimeout
	octx.RenicerInterval = time.Duration(cfg.RenicerInterval * float64(time.Second))

	restoreMan := postprocess.NewManager(octx)
	watcherMan := watcher.NewManager(time.Duration(cfg.CheckFinishedInterval*float64(time.Second)), restoreMan, octx)

	tasksMan := task.NewTasksManager(octx)
	tasksMan.CheckAvailability(context.Background())

	runSelfOptimization(context.Background(), octx, tasksMan, cfg)

	var cache *profile.Cache
	var store *profile.Store
	if cfg.ProfileCache {
		if cfg.ProfileCachePath != "" {
			var err error
			store, err = profile.OpenStore(cfg.ProfileCachePath)
			if err != nil {
				log.Error().Err(err).Str("path", cfg.ProfileCachePath).Msg("could not open persisted profile cache, falling back to memory-only")
				cache = profile.NewCache()
			} else {
				cache = profile.NewCacheWithStore(store)
			}
		} else {
			cache = profile.NewCache()
		}
	}
	profileReader := profile.NewReader(cache, log)

	if cfg.ProfileCache && cfg.PreCacheProfiles {
		profileReader.WarmCache(context.Background())
	}

	var fileWatcher *profile.FileWatcher
	if cfg.ProfileCache && cfg.ProfileWatch {
		fw, err := profile.NewFileWatcher(cache, log, profile.RootProfileDir())
		if err != nil {
			log.Error().Err(err).Msg("could not start profile file watcher")
		} else {
			fileWatcher = fw
		}
	}

	h := handler.New(octx, tasksMan, watcherMan, profileReader, defaultDisplay())

	machineID := ""
	if cfg.RequestEncrypted {
		id, err := crypto.ReadMachineID()
		if err != nil {
			log.Error().Err(err).Msg("requests encryption requested but machine id could not be read")
		} else {
			machineID = id
		}
	}
	log.Info().Bool("encrypted", machineID != "").Msg("requests encryption")

	srv := ingress.New(h, octx.Queue, log, cfg.Port, cfg.RequestEncrypted, machineID)
	srv.Start()
	log.Info().Int("port", cfg.Port).Dur("boot", time.Since(started)).Msg("ready and attached")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	if fileWatcher != nil {
		if err := fileWatcher.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing profile file watcher")
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing persisted profile cache")
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// runSelfOptimization applies the daemon's own cpu.performance setting, if
// configured, the way the original optimizer pre-optimizes itself at boot.
func runSelfOptimization(ctx context.Context, octx *task.OptimizationContext, tasksMan *task.TasksManager, cfg config.Optimizer) {
	opt := model.FromOptimizerConfig(cfg.CPUPerformance)
	if opt == nil || !opt.IsValid() {
		octx.Logger.Debug().Msg("no initial optimization tasks defined")
		return
	}

	selfReq := model.SelfRequest(nowSeconds())
	selfReq.Prepare(defaultDisplay())
	proc := model.NewOptimizedProcess(selfReq, opt, nowSeconds())

	tasks := tasksMan.GetAvailableEnvironmentTasks(proc)
	if len(tasks) == 0 {
		octx.Logger.Debug().Msg("no initial optimization tasks defined")
		return
	}

	octx.Logger.Debug().Msg("waiting initial optimization tasks to complete")
	task.RunTasks(ctx, octx.TaskExecutor, tasks, proc, func(err error) {
		octx.Logger.Warn().Err(err).Msg("initial optimization task failed")
	})
	octx.Logger.Debug().Msg("initial optimization tasks completed")
}

func optimizeCmd(configPath *string) *cobra.Command {
	var (
		pid     int
		command string
		prof    string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Send an optimization request for a running process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}

			log := logging.New(false, parseLevel(cfg.LogLevel))

			var machineID string
			if cfg.RequestEncrypted {
				machineID, _ = crypto.ReadMachineID()
			}

			req := &model.OptimizationRequest{
				Command:   command,
				UserName:  currentUserName(),
				Profile:   prof,
				CreatedAt: nowSeconds(),
			}
			if pid > 0 {
				req.PID = &pid
			}

			sender := client.New(cfg.Port, cfg.RequestEncrypted, machineID)
			return sender.Send(req, log)
		},
	}

	cmd.Flags().IntVar(&pid, "pid", 0, "Target process id")
	cmd.Flags().StringVar(&command, "command", "", "Target process command")
	cmd.Flags().StringVar(&prof, "profile", "", "Profile name to apply")
	return cmd
}

func profileCmd() *cobra.Command {
	root := &cobra.Command{Use: "profile", Short: "Inspect .profile files"}

	validate := &cobra.Command{
		Use:   "validate <path>",
		Short: "Parse a profile file and report whether it's valid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := profile.NewReader(nil, logging.New(false, zerolog.InfoLevel))
			p, err := reader.Read(args[0], "")
			if err != nil {
				return err
			}
			if p == nil || !p.IsValid() {
				printInvalid(args[0])
				return nil
			}
			printValid(args[0])
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <path>",
		Short: "Parse and print a profile file's effective settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := profile.NewReader(nil, logging.New(false, zerolog.InfoLevel))
			p, err := reader.Read(args[0], "")
			if err != nil {
				return err
			}
			if p == nil {
				printInvalid(args[0])
				return nil
			}
			printProfile(p)
			return nil
		},
	}

	root.AddCommand(validate, show)
	return root
}

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Show host capabilities relevant to optimization",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCapabilities()
		},
	}
}

func serviceCmd() *cobra.Command {
	root := &cobra.Command{Use: "service", Short: "Manage the optimusd systemd unit"}
	root.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Install the optimusd systemd unit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return installService()
			},
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Remove the optimusd systemd unit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return uninstallService()
			},
		},
	)
	return root
}

func parseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func defaultDisplay() string {
	if d := os.Getenv("DISPLAY"); d != "" {
		return d
	}
	return ":0"
}

func currentUserName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}

func nowSeconds() float64 { return float64(time.Now().UnixNano()) / 1e9 }
