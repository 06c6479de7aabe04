package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProcessingQueueAddContainsRemove(t *testing.T) {
	q := New()
	assert.False(t, q.Contains(42))
	assert.Equal(t, 0, q.Size())

	q.AddPID(42)
	assert.True(t, q.Contains(42))
	assert.Equal(t, 1, q.Size())

	q.RemovePIDs(42, 7) // removing an absent pid alongside is a no-op
	assert.False(t, q.Contains(42))
	assert.Equal(t, 0, q.Size())
}

func TestProcessingQueueConcurrentAccess(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			q.AddPID(pid)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, q.Size())
}
