// Package sysview reports host-level facts the daemon's capabilities/status
// surfaces need (cpu count, per-core load, live process count), built on
// gopsutil's host-level packages the way the pack's own resource-monitoring
// middleware does rather than shelling out to uptime/nproc/ps.
package sysview

import (
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	gopsmem "github.com/shirou/gopsutil/v3/mem"
	gopsprocess "github.com/shirou/gopsutil/v3/process"
)

// CPUCount returns the number of logical cores, the Go analogue of
// multiprocessing.cpu_count().
func CPUCount() (int, error) {
	return cpu.Counts(true)
}

// LoadPercent samples per-core CPU usage over the given window.
func LoadPercent(sample time.Duration) ([]float64, error) {
	return cpu.Percent(sample, true)
}

// MemoryUsedPercent reports the fraction of physical memory in use.
func MemoryUsedPercent() (float64, error) {
	info, err := gopsmem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return info.UsedPercent, nil
}

// LiveProcessCount returns how many processes are currently running.
func LiveProcessCount() (int, error) {
	pids, err := gopsprocess.Pids()
	if err != nil {
		return 0, err
	}
	return len(pids), nil
}

// Snapshot bundles the host facts the capabilities/status CLI prints.
type Snapshot struct {
	CPUCount     int
	LoadPercent  []float64
	MemoryUsed   float64
	LiveProcesses int
}

// Capture takes a single Snapshot, sampling CPU load over sample.
func Capture(sample time.Duration) (Snapshot, error) {
	var snap Snapshot
	var err error

	if snap.CPUCount, err = CPUCount(); err != nil {
		return snap, err
	}
	if snap.LoadPercent, err = LoadPercent(sample); err != nil {
		return snap, err
	}
	if snap.MemoryUsed, err = MemoryUsedPercent(); err != nil {
		return snap, err
	}
	if snap.LiveProcesses, err = LiveProcessCount(); err != nil {
		return snap, err
	}
	return snap, nil
}
