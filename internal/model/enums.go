package model

import "golang.org/x/sys/unix"

// CPUSchedulingPolicy mirrors the Linux scheduling policies a process
// settings block may request.
type CPUSchedulingPolicy int

const (
	SchedRR CPUSchedulingPolicy = iota
	SchedFIFO
	SchedBatch
	SchedOther
	SchedIdle
)

// Value returns the raw SCHED_* constant used by sched_setscheduler(2).
func (p CPUSchedulingPolicy) Value() int {
	switch p {
	case SchedRR:
		return unix.SCHED_RR
	case SchedFIFO:
		return unix.SCHED_FIFO
	case SchedBatch:
		return unix.SCHED_BATCH
	case SchedIdle:
		return unix.SCHED_IDLE
	default:
		return unix.SCHED_OTHER
	}
}

// RequiresPriority reports whether the policy needs an explicit [1,99] priority.
func (p CPUSchedulingPolicy) RequiresPriority() bool {
	return p == SchedRR || p == SchedFIFO
}

// RequiresRoot reports whether changing to this policy needs elevated privileges.
func (p CPUSchedulingPolicy) RequiresRoot() bool {
	return p == SchedRR || p == SchedFIFO
}

func (p CPUSchedulingPolicy) String() string {
	switch p {
	case SchedRR:
		return "rr"
	case SchedFIFO:
		return "fifo"
	case SchedBatch:
		return "batch"
	case SchedIdle:
		return "idle"
	default:
		return "other"
	}
}

// ParseCPUSchedulingPolicy parses a profile value into a policy.
func ParseCPUSchedulingPolicy(s string) (CPUSchedulingPolicy, bool) {
	switch s {
	case "rr":
		return SchedRR, true
	case "fifo":
		return SchedFIFO, true
	case "batch":
		return SchedBatch, true
	case "other":
		return SchedOther, true
	case "idle":
		return SchedIdle, true
	default:
		return 0, false
	}
}

// IOSchedulingClass mirrors ioprio_set(2)'s scheduling classes.
type IOSchedulingClass int

const (
	IOSchedNone IOSchedulingClass = iota
	IOSchedRealtime
	IOSchedBestEffort
	IOSchedIdle
)

// Value returns the numeric class passed to ioprio_set.
func (c IOSchedulingClass) Value() int {
	return int(c)
}

// SupportsPriority reports whether the class accepts a nice-like priority level.
func (c IOSchedulingClass) SupportsPriority() bool {
	return c == IOSchedRealtime || c == IOSchedBestEffort
}

func (c IOSchedulingClass) String() string {
	switch c {
	case IOSchedRealtime:
		return "realtime"
	case IOSchedBestEffort:
		return "best_effort"
	case IOSchedIdle:
		return "idle"
	default:
		return "none"
	}
}

// ParseIOSchedulingClass parses a profile value into an IO class.
func ParseIOSchedulingClass(s string) (IOSchedulingClass, bool) {
	switch s {
	case "none":
		return IOSchedNone, true
	case "realtime":
		return IOSchedRealtime, true
	case "best_effort":
		return IOSchedBestEffort, true
	case "idle":
		return IOSchedIdle, true
	default:
		return 0, false
	}
}
