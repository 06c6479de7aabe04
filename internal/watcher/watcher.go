// Package watcher polls watched optimized processes until they die, then
// triggers the post-process restore pipeline.
package watcher

import (
	"context"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/postprocess"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/task"
)

// DeadProcessWatcher periodically checks whether any watched process has
// died and, when one has, hands its accumulated state to the restore
// pipeline.
type DeadProcessWatcher struct {
	ctx          *task.OptimizationContext
	restoreMan   *postprocess.Manager
	summarizer   *postprocess.Summarizer
	contextMapper *postprocess.ContextMapper
	checkInterval time.Duration

	mu       sync.Mutex
	toWatch  []*model.OptimizedProcess
	toRelaunch map[string]string

	watchingMu sync.Mutex
	watching   bool
}

func NewDeadProcessWatcher(ctx *task.OptimizationContext, restoreMan *postprocess.Manager, checkInterval time.Duration, toRelaunch map[string]string) *DeadProcessWatcher {
	w := &DeadProcessWatcher{
		ctx:           ctx,
		restoreMan:    restoreMan,
		summarizer:    postprocess.NewSummarizer(),
		contextMapper: postprocess.NewContextMapper(),
		checkInterval: checkInterval,
		toRelaunch:    toRelaunch,
	}
	if w.toRelaunch == nil {
		w.toRelaunch = map[string]string{}
	}
	return w
}

func (w *DeadProcessWatcher) updateToRelaunch(commands map[string]string) {
	for comm, cmd := range commands {
		cached, ok := w.toRelaunch[comm]
		if !ok || len(cached) == 0 || cached[0] != '/' {
			w.toRelaunch[comm] = cmd
		}
	}
}

func (w *DeadProcessWatcher) registerPostCommandsToRelaunch(p *model.OptimizedProcess) {
	if len(p.StoppedProcesses()) > 0 && p.RelaunchStoppedProcesses() {
		w.updateToRelaunch(p.StoppedProcesses())
	}
	if len(p.StoppedAfterLaunch) > 0 && p.RelaunchStoppedAfterLaunch() {
		w.updateToRelaunch(p.StoppedAfterLaunch)
	}
}

// Watch adds a process to the watch list.
func (w *DeadProcessWatcher) Watch(p *model.OptimizedProcess) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.toWatch = append(w.toWatch, p)
	pid := 0
	if p.PID != nil {
		pid = *p.PID
	}
	w.ctx.Logger.Debug().Int("pid", pid).Int("watched", len(w.toWatch)).Msg("watching a new process")
	w.registerPostCommandsToRelaunch(p)
}

// mapContext summarizes the current watch list and returns the restore
// context, pruning any process confirmed dead this round.
func (w *DeadProcessWatcher) mapContext() *postprocess.RestoreContext {
	pidsAlive, err := sysutil.ReadCurrentPIDs()
	if err != nil {
		pidsAlive = nil
	}

	summary := w.summarizer.Summarize(context.Background(), w.toWatch, pidsAlive, w.toRelaunch, w.ctx)

	if len(summary.DeadPIDIndexes) > 0 {
		pids := make([]int, 0, len(summary.DeadPIDIndexes))
		for _, d := range summary.DeadPIDIndexes {
			pids = append(pids, d[1])
		}
		w.ctx.Queue.RemovePIDs(pids...)

		sorted := append([][2]int(nil), summary.DeadPIDIndexes...)
		sortByIndex(sorted)
		for i, d := range sorted {
			idx := d[0] - i
			if idx >= 0 && idx < len(w.toWatch) {
				w.toWatch = append(w.toWatch[:idx], w.toWatch[idx+1:]...)
			}
		}
		w.ctx.Logger.Debug().Int("count", len(sorted)).Msg("process(es) stopped")
	}

	restoreCtx := w.contextMapper.Map(summary)

	if len(w.toRelaunch) > 0 {
		for _, p := range restoreCtx.StoppedProcesses {
			delete(w.toRelaunch, p[0])
		}
		for name := range restoreCtx.NotStoppedProcesses {
			delete(w.toRelaunch, name)
		}
	}

	return restoreCtx
}

func sortByIndex(pairs [][2]int) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j][0] < pairs[j-1][0]; j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}

// tryStart atomically flips watching from false to true and spawns the
// polling loop, the same check-and-mark-under-one-lock pattern
// renicer.Renicer.Watch uses. Returns false if a loop was already running.
func (w *DeadProcessWatcher) tryStart(ctx context.Context) bool {
	w.watchingMu.Lock()
	defer w.watchingMu.Unlock()
	if w.watching {
		return false
	}
	w.watching = true
	go w.startWatching(ctx)
	return true
}

// StartWatching polls watched processes until the list drains, running
// the restore pipeline after every check. Exported for callers (and
// tests) that already know no loop is running; Manager.Watch goes
// through tryStart instead so the check-and-spawn stays atomic.
func (w *DeadProcessWatcher) StartWatching(ctx context.Context) {
	w.watchingMu.Lock()
	w.watching = true
	w.watchingMu.Unlock()
	w.startWatching(ctx)
}

func (w *DeadProcessWatcher) startWatching(ctx context.Context) {
	for {
		w.mu.Lock()
		restoreCtx := w.mapContext()
		w.mu.Unlock()

		w.restoreMan.Run(ctx, restoreCtx)

		w.mu.Lock()
		empty := len(w.toWatch) == 0
		w.mu.Unlock()
		if empty {
			break
		}

		select {
		case <-ctx.Done():
			w.watchingMu.Lock()
			w.watching = false
			w.watchingMu.Unlock()
			return
		case <-time.After(w.checkInterval):
		}
	}

	w.watchingMu.Lock()
	w.watching = false
	w.watchingMu.Unlock()
	w.ctx.Logger.Debug().Msg("no processes to watch, stopped watching")
}

// IsWatching reports whether the polling loop is currently running.
func (w *DeadProcessWatcher) IsWatching() bool {
	w.watchingMu.Lock()
	defer w.watchingMu.Unlock()
	return w.watching
}

// GetWatchedPIDs returns the pids currently being watched.
func (w *DeadProcessWatcher) GetWatchedPIDs() map[int]bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.toWatch) == 0 {
		return nil
	}
	pids := map[int]bool{}
	for _, p := range w.toWatch {
		if p.PID != nil {
			pids[*p.PID] = true
		}
	}
	return pids
}

// Manager owns the single shared watcher and spawns its polling goroutine
// the first time a process needs to be watched.
type Manager struct {
	watcher *DeadProcessWatcher
}

func NewManager(checkInterval time.Duration, restoreMan *postprocess.Manager, ctx *task.OptimizationContext) *Manager {
	return &Manager{watcher: NewDeadProcessWatcher(ctx, restoreMan, checkInterval, map[string]string{})}
}

// Watch registers a process for watching and starts the polling loop if
// it is not already running.
func (m *Manager) Watch(ctx context.Context, p *model.OptimizedProcess) {
	if p == nil {
		return
	}
	m.watcher.Watch(p)
	m.watcher.tryStart(ctx)
}
