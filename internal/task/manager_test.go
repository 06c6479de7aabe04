package task

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitriimaksimovdevelop/optimusd/internal/model"
)

type fakeTask struct {
	baseTask
	name          string
	allowedSelf   bool
	shouldRun     bool
	runErr        error
	runCount      int32
	mu            sync.Mutex
}

func (f *fakeTask) IsAvailable(context.Context) (bool, string)   { return true, "" }
func (f *fakeTask) IsAllowedForSelfRequests() bool               { return f.allowedSelf }
func (f *fakeTask) ShouldRun(*model.OptimizedProcess) bool       { return f.shouldRun }
func (f *fakeTask) Run(context.Context, *model.OptimizedProcess) error {
	f.mu.Lock()
	f.runCount++
	f.mu.Unlock()
	return f.runErr
}

func TestListRunnableTasksFiltersByShouldRun(t *testing.T) {
	runs := &fakeTask{name: "runs", shouldRun: true}
	skips := &fakeTask{name: "skips", shouldRun: false}

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	runnable := listRunnableTasks([]Task{runs, skips}, p)

	assert.Len(t, runnable, 1)
	assert.Same(t, Task(runs), runnable[0])
}

func TestListRunnableTasksRestrictsSelfRequestsToAllowed(t *testing.T) {
	allowed := &fakeTask{name: "allowed", allowedSelf: true, shouldRun: true}
	notAllowed := &fakeTask{name: "not-allowed", allowedSelf: false, shouldRun: true}

	selfProcess := model.NewOptimizedProcess(model.SelfRequest(1.0), nil, 1.0)
	runnable := listRunnableTasks([]Task{allowed, notAllowed}, selfProcess)

	assert.Len(t, runnable, 1)
	assert.Same(t, Task(allowed), runnable[0])
}

func TestListRunnableTasksEmptyInput(t *testing.T) {
	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.Nil(t, listRunnableTasks(nil, p))
}

func TestRunTasksFallsBackToWaitGroupWithoutExecutor(t *testing.T) {
	ok := &fakeTask{name: "ok"}
	failing := &fakeTask{name: "failing", runErr: errors.New("boom")}

	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)

	var mu sync.Mutex
	var logged []error
	RunTasks(context.Background(), nil, []Task{ok, failing}, p, func(err error) {
		mu.Lock()
		logged = append(logged, err)
		mu.Unlock()
	})

	assert.EqualValues(t, 1, ok.runCount)
	assert.EqualValues(t, 1, failing.runCount)
	assert.Len(t, logged, 1)
	assert.EqualError(t, logged[0], "boom")
}

func TestRunTasksNoopOnEmptyTaskList(t *testing.T) {
	p := model.NewOptimizedProcess(&model.OptimizationRequest{}, nil, 1.0)
	assert.NotPanics(t, func() {
		RunTasks(context.Background(), nil, nil, p, func(error) { t.Fatal("should not be called") })
	})
}
