// Package queue tracks the set of pids currently under optimization so the
// ingress layer can suppress duplicate requests for a pid already in flight.
package queue

import "sync"

// ProcessingQueue is a concurrency-safe set of pids.
type ProcessingQueue struct {
	mu   sync.Mutex
	pids map[int]bool
}

func New() *ProcessingQueue {
	return &ProcessingQueue{pids: map[int]bool{}}
}

// AddPID inserts a single pid.
func (q *ProcessingQueue) AddPID(pid int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pids[pid] = true
}

// RemovePIDs removes any number of pids, ignoring ones not present.
func (q *ProcessingQueue) RemovePIDs(pids ...int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, pid := range pids {
		delete(q.pids, pid)
	}
}

// Contains reports whether pid is currently queued.
func (q *ProcessingQueue) Contains(pid int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pids[pid]
}

// Size returns the current count of queued pids, mostly for metrics.
func (q *ProcessingQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pids)
}
