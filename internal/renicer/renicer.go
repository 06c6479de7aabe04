// Package renicer keeps a process's nice level pinned over time, in case
// something else on the system resets it after optimusd applies it once.
package renicer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/proctune"
	"github.com/dmitriimaksimovdevelop/optimusd/internal/sysutil"
)

type niceRequest struct {
	level     int
	requestPID int
}

// Renicer watches a set of pids and re-applies their expected nice level
// whenever it drifts, stopping once every watched pid has died.
type Renicer struct {
	log           zerolog.Logger
	watchInterval time.Duration

	mu       sync.Mutex
	pidNice  map[int]niceRequest
	watching bool
}

func New(log zerolog.Logger, watchInterval time.Duration) *Renicer {
	return &Renicer{log: log, watchInterval: watchInterval, pidNice: map[int]niceRequest{}}
}

func (r *Renicer) GetPriority(pid int) (int, bool) {
	v, err := proctune.GetPriority(pid)
	if err != nil {
		return 0, false
	}
	return v, true
}

// SetPriority applies the nice level to pid, logging the outcome tagged
// with the request pid that triggered it.
func (r *Renicer) SetPriority(pid, level, requestPID int) bool {
	if err := proctune.SetPriority(pid, level); err != nil {
		r.log.Error().Int("pid", pid).Int("level", level).Int("request", requestPID).Msg("could not change process nice level")
		return false
	}
	r.log.Info().Int("pid", pid).Int("level", level).Int("request", requestPID).Msg("process nice level changed")
	return true
}

// Add registers pid for continuous monitoring, a no-op if already watched.
func (r *Renicer) Add(pid, level, requestPID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pidNice[pid]; ok {
		r.log.Debug().Int("pid", pid).Int("request", requestPID).Msg("process nice level is already being monitored")
		return false
	}
	r.pidNice[pid] = niceRequest{level: level, requestPID: requestPID}
	r.log.Info().Int("pid", pid).Int("request", requestPID).Msg("process nice level will be monitored")
	return true
}

func (r *Renicer) IsWatching() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.watching
}

func (r *Renicer) watch() {
	for {
		r.mu.Lock()
		if len(r.pidNice) == 0 {
			r.watching = false
			r.mu.Unlock()
			r.log.Debug().Msg("stopped monitoring nice levels")
			return
		}
		snapshot := make(map[int]niceRequest, len(r.pidNice))
		for pid, req := range r.pidNice {
			snapshot[pid] = req
		}
		r.mu.Unlock()

		livePIDs, err := sysutil.ReadCurrentPIDs()
		if err != nil {
			livePIDs = map[int]bool{}
		}
		var dead []int

		for pid, req := range snapshot {
			if !livePIDs[pid] {
				dead = append(dead, pid)
				continue
			}

			current, ok := r.GetPriority(pid)
			if !ok || current != req.level {
				r.log.Debug().Int("pid", pid).Int("current", current).Int("expected", req.level).Int("request", req.requestPID).Msg("nice level drifted")
				r.SetPriority(pid, req.level, req.requestPID)
			}
		}

		if len(dead) > 0 {
			r.mu.Lock()
			for _, pid := range dead {
				delete(r.pidNice, pid)
			}
			r.mu.Unlock()
			r.log.Debug().Ints("pids", dead).Msg("stopped monitoring nice level of dead processes")
		}

		r.mu.Lock()
		empty := len(r.pidNice) == 0
		r.mu.Unlock()
		if empty {
			r.mu.Lock()
			r.watching = false
			r.mu.Unlock()
			return
		}

		if r.watchInterval > 0 {
			time.Sleep(r.watchInterval)
		}
	}
}

// Watch starts the background monitoring goroutine, a no-op if already
// running or nothing is registered.
func (r *Renicer) Watch() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.watching || len(r.pidNice) == 0 {
		return false
	}
	r.watching = true
	go r.watch()
	return true
}
