// Package proctune wraps the raw Linux scheduling syscalls the process
// tasks and the renicer issue directly against a pid: nice level,
// scheduling policy/priority, CPU affinity and IO scheduling class.
package proctune

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// SetPriority sets a process's nice level via setpriority(2).
func SetPriority(pid, level int) error {
	return unix.Setpriority(unix.PRIO_PROCESS, pid, level)
}

// GetPriority reads a process's nice level via getpriority(2). The raw
// syscall returns 20-nice, which is converted back to the nice level here.
func GetPriority(pid int) (int, error) {
	prio, err := unix.Getpriority(unix.PRIO_PROCESS, pid)
	if err != nil {
		return 0, err
	}
	return 20 - prio, nil
}

// SchedParam describes a POSIX scheduling policy change.
type SchedParam struct {
	Policy   int
	Priority int
}

// SetScheduler applies a scheduling policy and priority via
// sched_setscheduler(2).
func SetScheduler(pid int, param SchedParam) error {
	return unix.SchedSetscheduler(pid, param.Policy, &unix.SchedParam{Priority: int32(param.Priority)})
}

// GetScheduler reads a process's current scheduling policy.
func GetScheduler(pid int) (int, error) {
	return unix.SchedGetscheduler(pid)
}

// SetAffinity pins a process to the given set of logical CPUs via
// sched_setaffinity(2).
func SetAffinity(pid int, cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(pid, &set)
}

// GetAffinity reads a process's current CPU affinity mask.
func GetAffinity(pid int) ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(pid, &set); err != nil {
		return nil, err
	}
	var cpus []int
	for i := 0; i < unix.CPU_SETSIZE; i++ {
		if set.IsSet(i) {
			cpus = append(cpus, i)
		}
	}
	return cpus, nil
}

// ioprioWhoProcess and the ioprio_set syscall number are not exposed by
// golang.org/x/sys/unix; optimusd shells out to `ionice` instead, the same
// boundary the original external-tooling approach uses for GPU vendor CLIs.
func SetIOPriority(pid, class, level int) error {
	return runIonice(pid, class, level)
}

func runIonice(pid, class, level int) error {
	cmd := fmt.Sprintf("ionice -c %d -n %d -p %d", class, level, pid)
	return shellRun(cmd)
}
