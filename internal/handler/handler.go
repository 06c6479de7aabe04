// Package handler runs an accepted optimization request end to end: it
// resolves the profile to apply, fires the environment and process tasks,
// maps a launcher's real pid when needed, and hands the result to the
// watcher if anything needs restoring later.
package handler

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/launcher"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/metrics"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/profile"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/watcher"
)

// nowSeconds is overridden in tests.
var nowSeconds = func() float64 { return float64(time.Now().UnixNano()) / 1e9 }

// Handler is the request-scoped orchestrator wired once at startup and
// reused across every accepted request.
type Handler struct {
	ctx          *task.OptimizationContext
	tasksMan     *task.TasksManager
	watcherMan   *watcher.Manager
	profileReader *profile.Reader
	launcherMan  *launcher.MapperManager

	defaultDisplay string
}

func New(ctx *task.OptimizationContext, tasksMan *task.TasksManager, watcherMan *watcher.Manager, profileReader *profile.Reader, defaultDisplay string) *Handler {
	waitTime := time.Duration(ctx.LauncherMappingTimeout * float64(time.Second))
	return &Handler{
		ctx:            ctx,
		tasksMan:       tasksMan,
		watcherMan:     watcherMan,
		profileReader:  profileReader,
		launcherMan:    launcher.NewMapperManager(waitTime, ctx.Logger),
		defaultDisplay: defaultDisplay,
	}
}

func (h *Handler) loadValidProfile(ctx context.Context, req *model.OptimizationRequest) *model.OptimizationProfile {
	if req.HasFullConfiguration() {
		return h.profileReader.MapValidConfig(req.Config, h.ctx.Logger)
	}
	return h.profileReader.LoadValid(ctx, req, h.ctx.Logger)
}

func (h *Handler) startEnvironmentTasks(ctx context.Context, p *model.OptimizedProcess, done chan<- struct{}) {
	tasks := h.tasksMan.GetAvailableEnvironmentTasks(p)
	if len(tasks) == 0 {
		close(done)
		return
	}
	go func() {
		task.RunTasks(ctx, h.ctx.TaskExecutor, tasks, p, func(err error) {
			metrics.Get().TaskFailuresTotal.WithLabelValues("environment").Inc()
			h.ctx.Logger.Warn().Err(err).Msg("environment task failed")
		})
		close(done)
	}()
}

func (h *Handler) startProcessTasks(ctx context.Context, p *model.OptimizedProcess, done chan<- struct{}) {
	if p.Profile == nil || p.Profile.Process == nil {
		close(done)
		return
	}

	tasks := h.tasksMan.GetAvailableProcessTasks(p)
	if len(tasks) == 0 {
		close(done)
		return
	}

	if mapped, ok := h.launcherMan.MapPID(ctx, p.Request, p.Profile); ok {
		p.PID = &mapped
		h.ctx.Queue.AddPID(mapped)
	}

	go func() {
		task.RunTasks(ctx, h.ctx.TaskExecutor, tasks, p, func(err error) {
			metrics.Get().TaskFailuresTotal.WithLabelValues("process").Inc()
			h.ctx.Logger.Warn().Err(err).Msg("process task failed")
		})
		close(done)
	}()
}

// Handle runs the full pipeline for one accepted request.
func (h *Handler) Handle(ctx context.Context, req *model.OptimizationRequest) {
	req.Prepare(h.defaultDisplay)

	requestKind := "process"
	if req.IsSelfRequest() {
		requestKind = "self"
	}
	timer := prometheus.NewTimer(metrics.Get().RequestDuration.WithLabelValues(requestKind))
	defer timer.ObserveDuration()

	if req.PID != nil {
		if _, err := os.Stat(fmt.Sprintf("/proc/%d", *req.PID)); err != nil {
			h.ctx.Logger.Warn().Int("pid", *req.PID).Msg("process does not exist, no optimization will be applied")
			h.ctx.Queue.RemovePIDs(*req.PID)
			metrics.Get().RequestsTotal.WithLabelValues("process_gone").Inc()
			return
		}
	}

	prof := h.loadValidProfile(ctx, req)

	if prof == nil {
		pid := 0
		if req.PID != nil {
			pid = *req.PID
		}
		h.ctx.Logger.Warn().Int("pid", pid).Msg("no optimizations available for process")
		metrics.Get().RequestsTotal.WithLabelValues("no_profile").Inc()
	} else {
		metrics.Get().RequestsTotal.WithLabelValues("accepted").Inc()
	}

	p := model.NewOptimizedProcess(req, prof, nowSeconds())

	var envDone, procDone chan struct{}

	if prof != nil {
		envDone = make(chan struct{})
		procDone = make(chan struct{})

		h.startEnvironmentTasks(ctx, p, envDone)
		h.startProcessTasks(ctx, p, procDone)

		<-envDone
	}

	shouldWatch := p.ShouldBeWatched()

	if shouldWatch {
		h.watcherMan.Watch(ctx, p)

		if p.PID != nil && p.SourcePID() != nil && *p.PID != *p.SourcePID() {
			h.ctx.Queue.RemovePIDs(*p.SourcePID())
		}
	}

	if procDone != nil {
		<-procDone
	}

	if !shouldWatch {
		if pids := p.GetPIDs(); len(pids) > 0 {
			list := make([]int, 0, len(pids))
			for pid := range pids {
				list = append(list, pid)
			}
			h.ctx.Queue.RemovePIDs(list...)
		}
	}

	elapsed := nowSeconds() - req.CreatedAt
	target := ""
	if p.PID != nil && req.PID != nil && *p.PID != *req.PID {
		target = fmt.Sprintf(" (target_pid=%d)", *p.PID)
	}
	pid := 0
	if req.PID != nil {
		pid = *req.PID
	}
	h.ctx.Logger.Debug().Int("pid", pid).Float64("elapsed", elapsed).Msg("optimization request processed" + target)
}
