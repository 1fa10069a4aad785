package hooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/store"
)

type fakeEngine struct {
	mu        sync.Mutex
	handoffs  []*store.Handoff
	statuses  map[string]string
	launches  []engine.LaunchRequest
	cleanups  []string
	drains    int
	workflows map[string]*store.Workflow
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		statuses:  make(map[string]string),
		workflows: make(map[string]*store.Workflow),
	}
}

func (f *fakeEngine) CreateHandoff(ctx context.Context, from, to, workflowID, handoffType, taskDetails string) (*store.Handoff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &store.Handoff{ID: "h", FromAgent: from, ToAgent: to, WorkflowID: workflowID, Type: handoffType, TaskDetails: taskDetails}
	f.handoffs = append(f.handoffs, h)
	return h, nil
}

func (f *fakeEngine) UpdateWorkflowStatus(ctx context.Context, workflowID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[workflowID] = status
	return nil
}

func (f *fakeEngine) LaunchAgent(ctx context.Context, req engine.LaunchRequest) (*engine.LaunchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches = append(f.launches, req)
	return &engine.LaunchResult{Status: engine.StatusQueued, WorkflowID: req.WorkflowID}, nil
}

func (f *fakeEngine) GetWorkflowStatus(ctx context.Context, workflowID string) (*engine.WorkflowStatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[workflowID]
	if !ok {
		wf = &store.Workflow{ID: workflowID, Status: store.WorkflowActive}
	}
	return &engine.WorkflowStatusResult{Workflow: wf}, nil
}

func (f *fakeEngine) ScheduleWorkspaceCleanup(ctx context.Context, workflowID string, delay time.Duration) (*store.CleanupEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups = append(f.cleanups, workflowID)
	return &store.CleanupEntry{ID: "c", WorkflowID: workflowID, ScheduledFor: time.Now().Add(delay)}, nil
}

func (f *fakeEngine) ProcessPendingEvents(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drains++
	return nil
}

func newTestDispatcher(eng Engine) *Dispatcher {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return New(eng, 15*time.Minute, log)
}

func TestDetect(t *testing.T) {
	output := "working on it\nTask Assignment\nimplement the parser\nwith tests\nApproved for Integration\ndone"
	detections := Detect(output)
	require.Len(t, detections, 2)
	assert.Equal(t, MarkerTaskAssignment, detections[0].Marker)
	assert.Equal(t, "implement the parser\nwith tests", detections[0].Details)
	assert.Equal(t, MarkerApproved, detections[1].Marker)
	assert.Equal(t, "done", detections[1].Details)
}

func TestDetectNoMarkers(t *testing.T) {
	assert.Empty(t, Detect("just some regular output\nno markers here"))
}

func TestCounterpartRole(t *testing.T) {
	assert.Equal(t, "team-associate", CounterpartRole("team-manager"))
	assert.Equal(t, "team-manager", CounterpartRole("team-associate"))
	assert.Equal(t, "backend-developer-associate", CounterpartRole("backend-developer"))
}

func TestTaskAssignmentLaunchesAssociate(t *testing.T) {
	eng := newFakeEngine()
	eng.workflows["W1"] = &store.Workflow{ID: "W1", Specifications: "Fix the calculator with tests"}
	d := newTestDispatcher(eng)

	err := d.HandleAgentOutput(context.Background(), "W1", "team-manager",
		"Task Assignment\nimplement the calculator fix")
	require.NoError(t, err)

	require.Len(t, eng.handoffs, 1)
	assert.Equal(t, store.HandoffTaskAssignment, eng.handoffs[0].Type)
	assert.Equal(t, "team-associate", eng.handoffs[0].ToAgent)
	assert.Equal(t, store.WorkflowDelegation, eng.statuses["W1"])

	require.Len(t, eng.launches, 1)
	assert.Equal(t, "team-associate", eng.launches[0].AgentType)
	assert.Contains(t, eng.launches[0].Specifications, "implement the calculator fix")
	assert.Contains(t, eng.launches[0].Specifications, "Fix the calculator with tests")
	assert.Equal(t, 1, eng.drains)
}

func TestImplementationCompleteLaunchesManagerReview(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDispatcher(eng)

	err := d.HandleAgentOutput(context.Background(), "W1", "team-associate",
		"Implementation Complete\nadded parser and tests")
	require.NoError(t, err)

	require.Len(t, eng.handoffs, 1)
	assert.Equal(t, store.HandoffReviewRequest, eng.handoffs[0].Type)
	assert.Equal(t, store.WorkflowAwaitingApproval, eng.statuses["W1"])
	require.Len(t, eng.launches, 1)
	assert.Equal(t, "team-manager", eng.launches[0].AgentType)
}

func TestReviewRequiredLaunchesAssociate(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDispatcher(eng)

	err := d.HandleAgentOutput(context.Background(), "W1", "team-manager",
		"Review Required\nthe edge cases are not covered")
	require.NoError(t, err)

	require.Len(t, eng.handoffs, 1)
	assert.Equal(t, store.HandoffRevisionRequest, eng.handoffs[0].Type)
	assert.Equal(t, store.WorkflowRevisionRequired, eng.statuses["W1"])
	require.Len(t, eng.launches, 1)
	assert.Equal(t, "team-associate", eng.launches[0].AgentType)
}

func TestApprovedSchedulesCleanup(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDispatcher(eng)

	err := d.HandleAgentOutput(context.Background(), "W2", "team-manager",
		"Approved for Integration")
	require.NoError(t, err)

	require.Len(t, eng.handoffs, 1)
	assert.Equal(t, store.HandoffIntegrationReady, eng.handoffs[0].Type)
	assert.Equal(t, store.WorkflowApproved, eng.statuses["W2"])
	assert.Equal(t, []string{"W2"}, eng.cleanups)
	assert.Empty(t, eng.launches)
}

func TestNoMarkersNoSideEffects(t *testing.T) {
	eng := newFakeEngine()
	d := newTestDispatcher(eng)

	err := d.HandleAgentOutput(context.Background(), "W1", "team-manager", "nothing to see")
	require.NoError(t, err)
	assert.Empty(t, eng.handoffs)
	assert.Equal(t, 0, eng.drains)
}
