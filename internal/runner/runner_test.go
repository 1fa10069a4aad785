package runner

import (
	"context"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/swarmd/internal/common/config"
	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
)

type fakeOrchestrator struct {
	mu          sync.Mutex
	pending     []*engine.PendingTask
	statuses    map[string]string
	completions []engine.CompletionRequest
	statusErr   error
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{statuses: make(map[string]string)}
}

func (f *fakeOrchestrator) addTask(taskID, workflowID, agentType string, constraints scope.Constraints) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, &engine.PendingTask{
		TaskID:           taskID,
		WorkflowID:       workflowID,
		AgentType:        agentType,
		Prompt:           "do the work",
		ScopeConstraints: constraints,
		CreatedAt:        time.Now().UTC(),
	})
	if _, ok := f.statuses[workflowID]; !ok {
		f.statuses[workflowID] = store.WorkflowActive
	}
}

func (f *fakeOrchestrator) GetPendingTasks(agentType string) *engine.PendingTasksResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := append([]*engine.PendingTask(nil), f.pending...)
	return &engine.PendingTasksResult{Count: len(tasks), Tasks: tasks}
}

func (f *fakeOrchestrator) GetWorkflowStatus(ctx context.Context, workflowID string) (*engine.WorkflowStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.statuses[workflowID]
	if !ok {
		return nil, apperrors.Validation("workflow %s not found", workflowID)
	}
	return &engine.WorkflowStatusResult{
		Workflow: &store.Workflow{ID: workflowID, Status: status},
	}, nil
}

func (f *fakeOrchestrator) SignalCompletion(ctx context.Context, req engine.CompletionRequest) (*engine.CompletionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, req)
	for i, task := range f.pending {
		if task.TaskID == req.AgentID {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return &engine.CompletionResult{Status: store.WorkflowCompleted, WorkflowID: req.WorkflowID, TasksRemoved: 1}, nil
}

func (f *fakeOrchestrator) completed() []engine.CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.CompletionRequest(nil), f.completions...)
}

func requireBinary(t *testing.T, name string) {
	t.Helper()
	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

func newTestRunner(t *testing.T, orch *fakeOrchestrator, workerCommand []string, maxConcurrent int) *Runner {
	t.Helper()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	r, err := New(orch, config.RunnerConfig{
		MaxConcurrent:       maxConcurrent,
		PollIntervalSeconds: 1,
		WorkerCommand:       workerCommand,
		ShutdownGraceSecs:   2,
	}, log)
	require.NoError(t, err)
	t.Cleanup(r.Stop)
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPollSpawnsAndSignalsSuccess(t *testing.T) {
	requireBinary(t, "true")
	orch := newFakeOrchestrator()
	orch.addTask("test-writer-W1", "W1", "test-writer", scope.ConstraintsFor(scope.Simple))
	r := newTestRunner(t, orch, []string{"true"}, 3)

	r.Poll(context.Background())
	waitFor(t, func() bool { return len(orch.completed()) == 1 })

	done := orch.completed()[0]
	assert.Equal(t, "test-writer-W1", done.AgentID)
	assert.Equal(t, "ok", done.Result)
	assert.Empty(t, done.Status)
	assert.Equal(t, 0, r.RunningCount())
}

func TestPollSignalsFailureOnNonZeroExit(t *testing.T) {
	requireBinary(t, "false")
	orch := newFakeOrchestrator()
	orch.addTask("test-writer-W1", "W1", "test-writer", scope.ConstraintsFor(scope.Simple))
	r := newTestRunner(t, orch, []string{"false"}, 3)

	r.Poll(context.Background())
	waitFor(t, func() bool { return len(orch.completed()) == 1 })

	done := orch.completed()[0]
	assert.Equal(t, store.WorkflowFailed, done.Status)
	assert.Contains(t, done.Result, "worker failed")
}

func TestPollSkipsTerminalWorkflows(t *testing.T) {
	requireBinary(t, "true")
	orch := newFakeOrchestrator()
	orch.addTask("a-W1", "W1", "a", scope.ConstraintsFor(scope.Simple))
	orch.statuses["W1"] = store.WorkflowFailed
	r := newTestRunner(t, orch, []string{"true"}, 3)

	r.Poll(context.Background())
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, orch.completed())
	assert.Equal(t, 0, r.RunningCount())
}

func TestPollSkipsMissingWorkflow(t *testing.T) {
	requireBinary(t, "true")
	orch := newFakeOrchestrator()
	orch.addTask("a-W1", "W1", "a", scope.ConstraintsFor(scope.Simple))
	orch.mu.Lock()
	delete(orch.statuses, "W1")
	orch.mu.Unlock()
	r := newTestRunner(t, orch, []string{"true"}, 3)

	r.Poll(context.Background())
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, orch.completed())
}

func TestPollFailsOpenOnStatusError(t *testing.T) {
	requireBinary(t, "true")
	orch := newFakeOrchestrator()
	orch.addTask("a-W1", "W1", "a", scope.ConstraintsFor(scope.Simple))
	orch.statusErr = apperrors.Transient("store unavailable", assert.AnError)
	r := newTestRunner(t, orch, []string{"true"}, 3)

	r.Poll(context.Background())
	waitFor(t, func() bool { return len(orch.completed()) == 1 })
	assert.Equal(t, "ok", orch.completed()[0].Result)
}

func TestConcurrencyCap(t *testing.T) {
	requireBinary(t, "sleep")
	orch := newFakeOrchestrator()
	for _, id := range []string{"W1", "W2", "W3"} {
		orch.addTask("a-"+id, id, "a", scope.ConstraintsFor(scope.Simple))
	}
	r := newTestRunner(t, orch, []string{"sleep", "1"}, 2)

	r.Poll(context.Background())
	assert.Equal(t, 2, r.RunningCount())

	// A second poll while both slots are busy spawns nothing.
	r.Poll(context.Background())
	assert.Equal(t, 2, r.RunningCount())

	waitFor(t, func() bool { return len(orch.completed()) == 2 })
	r.Poll(context.Background())
	waitFor(t, func() bool { return len(orch.completed()) == 3 })
}

func TestDeadlineTerminatesWorker(t *testing.T) {
	requireBinary(t, "sleep")
	orch := newFakeOrchestrator()
	constraints := scope.ConstraintsFor(scope.Simple)
	constraints.MaxExecutionTime = 100 * time.Millisecond
	orch.addTask("a-W1", "W1", "a", constraints)
	r := newTestRunner(t, orch, []string{"sleep", "30"}, 1)

	r.Poll(context.Background())
	waitFor(t, func() bool { return len(orch.completed()) == 1 })

	done := orch.completed()[0]
	assert.Equal(t, store.WorkflowFailed, done.Status)
	assert.Contains(t, done.Result, "max execution time")
}

func TestStopTerminatesWorkers(t *testing.T) {
	requireBinary(t, "sleep")
	orch := newFakeOrchestrator()
	orch.addTask("a-W1", "W1", "a", scope.ConstraintsFor(scope.Complex))
	r := newTestRunner(t, orch, []string{"sleep", "30"}, 1)

	r.Poll(context.Background())
	require.Equal(t, 1, r.RunningCount())

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 0, r.RunningCount())
}
