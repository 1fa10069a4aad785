package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAndGetWorkflow(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	wf := &Workflow{
		Name:           "backend-developer-W1",
		Status:         WorkflowActive,
		AgentType:      "backend-developer",
		AgentRole:      "associate",
		Specifications: "Fix the rounding function with tests",
	}
	require.NoError(t, s.UpsertWorkflow(ctx, wf))
	require.NotEmpty(t, wf.ID)
	created := wf.CreatedAt

	got, err := s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowActive, got.Status)
	assert.Equal(t, "backend-developer", got.AgentType)

	// Re-upsert replaces fields but preserves created_at.
	wf.Status = WorkflowCompleted
	require.NoError(t, s.UpsertWorkflow(ctx, wf))
	got, err = s.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, got.Status)
	assert.Equal(t, created, got.CreatedAt)
	assert.False(t, got.UpdatedAt.Before(created))
}

func TestUpsertWorkflowPreservesProvidedUpdatedAt(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	aged := time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{
		ID:        "W1",
		Status:    WorkflowActive,
		CreatedAt: aged,
		UpdatedAt: aged,
	}))

	got, err := s.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, aged, got.UpdatedAt)

	// A zero updated_at still defaults to now.
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W2", Status: WorkflowActive}))
	got, err = s.GetWorkflow(ctx, "W2")
	require.NoError(t, err)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestGetWorkflowNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetWorkflow(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "missing")
}

func TestListWorkflowsFilterAndOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, spec := range []struct {
		id, status, agentType string
	}{
		{"W1", WorkflowActive, "backend-developer"},
		{"W2", WorkflowCompleted, "backend-developer"},
		{"W3", WorkflowActive, "test-writer"},
	} {
		require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{
			ID:        spec.id,
			Status:    spec.status,
			AgentType: spec.agentType,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListWorkflows(ctx, WorkflowFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "W3", all[0].ID)
	assert.Equal(t, "W1", all[2].ID)

	active, err := s.ListWorkflows(ctx, WorkflowFilter{Status: WorkflowActive})
	require.NoError(t, err)
	require.Len(t, active, 2)

	backend, err := s.ListWorkflows(ctx, WorkflowFilter{AgentType: "backend-developer"})
	require.NoError(t, err)
	require.Len(t, backend, 2)

	paged, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, "W2", paged[0].ID)

	past, err := s.ListWorkflows(ctx, WorkflowFilter{Limit: 10, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past)
}

func TestUpdateWorkflowStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W1", Status: WorkflowActive}))
	require.NoError(t, s.UpdateWorkflowStatus(ctx, "W1", WorkflowAwaitingApproval))

	got, err := s.GetWorkflow(ctx, "W1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowAwaitingApproval, got.Status)

	err = s.UpdateWorkflowStatus(ctx, "missing", WorkflowFailed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountWorkflowsByStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W1", Status: WorkflowActive}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W2", Status: WorkflowActive}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W3", Status: WorkflowStale}))

	counts, err := s.CountWorkflowsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[WorkflowActive])
	assert.Equal(t, 1, counts[WorkflowStale])
}

func TestMarkStaleWorkflows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	aged := time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W1", Status: WorkflowActive, UpdatedAt: aged}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W2", Status: WorkflowActive, UpdatedAt: aged}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W3", Status: WorkflowCompleted, UpdatedAt: aged}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W4", Status: WorkflowActive}))

	// Active and older than the threshold: W1 and W2. W3 is terminal and
	// W4 was just touched.
	ids, err := s.MarkStaleWorkflows(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2"}, ids)

	for _, id := range ids {
		wf, err := s.GetWorkflow(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, WorkflowStale, wf.Status)
	}
	wf, err := s.GetWorkflow(ctx, "W3")
	require.NoError(t, err)
	assert.Equal(t, WorkflowCompleted, wf.Status)

	// Second sweep finds nothing left to mark.
	ids, err = s.MarkStaleWorkflows(ctx, 2*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestDeleteStaleWorkflows(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	aged := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W1", Status: WorkflowStale, UpdatedAt: aged}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W2", Status: WorkflowStale}))
	require.NoError(t, s.UpsertWorkflow(ctx, &Workflow{ID: "W3", Status: WorkflowActive, UpdatedAt: aged}))

	// Only stale workflows outside the retention window are purged.
	n, err := s.DeleteStaleWorkflows(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetWorkflow(ctx, "W1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandoffLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	first := &Handoff{
		FromAgent:   "backend-developer-manager",
		ToAgent:     "backend-developer-associate",
		WorkflowID:  "W1",
		Type:        HandoffTaskAssignment,
		TaskDetails: "Implement the endpoint",
		CreatedAt:   base,
	}
	second := &Handoff{
		FromAgent:  "backend-developer-associate",
		ToAgent:    "backend-developer-manager",
		WorkflowID: "W1",
		Type:       HandoffReviewRequest,
		CreatedAt:  base.Add(time.Minute),
	}
	other := &Handoff{
		FromAgent:  "test-writer-manager",
		ToAgent:    "test-writer-associate",
		WorkflowID: "W2",
		Type:       HandoffTaskAssignment,
		CreatedAt:  base.Add(2 * time.Minute),
	}
	require.NoError(t, s.CreateHandoff(ctx, first))
	require.NoError(t, s.CreateHandoff(ctx, second))
	require.NoError(t, s.CreateHandoff(ctx, other))
	require.NotEmpty(t, first.ID)

	unprocessed, err := s.ListUnprocessedHandoffs(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 3)
	// Oldest first.
	assert.Equal(t, first.ID, unprocessed[0].ID)

	require.NoError(t, s.MarkHandoffProcessed(ctx, first.ID))

	unprocessed, err = s.ListUnprocessedHandoffs(ctx)
	require.NoError(t, err)
	require.Len(t, unprocessed, 2)
	assert.Equal(t, second.ID, unprocessed[0].ID)

	// By-workflow listing honors includeProcessed.
	history, err := s.ListHandoffsByWorkflow(ctx, "W1", true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.True(t, history[0].Processed)

	open, err := s.ListHandoffsByWorkflow(ctx, "W1", false)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, second.ID, open[0].ID)

	err = s.MarkHandoffProcessed(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoriesTagFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.InsertMemory(ctx, &MemoryRecord{
		Content:    "Implement the parser",
		Type:       "specifications",
		Tags:       []string{"W1", "backend-developer"},
		WorkflowID: "W1",
		CreatedAt:  base,
	}))
	require.NoError(t, s.InsertMemory(ctx, &MemoryRecord{
		Content:    "Parser implemented, all tests green",
		Type:       "completion",
		Tags:       []string{"W1"},
		WorkflowID: "W1",
		CreatedAt:  base.Add(time.Minute),
	}))
	require.NoError(t, s.InsertMemory(ctx, &MemoryRecord{
		Content:    "Write fixtures",
		Type:       "specifications",
		Tags:       []string{"W2", "test-writer"},
		WorkflowID: "W2",
		CreatedAt:  base.Add(2 * time.Minute),
	}))

	specs, err := s.ListMemories(ctx, MemoryFilter{Type: "specifications"})
	require.NoError(t, err)
	require.Len(t, specs, 2)
	// Newest first.
	assert.Equal(t, "Write fixtures", specs[0].Content)

	byWorkflow, err := s.ListMemories(ctx, MemoryFilter{WorkflowID: "W1"})
	require.NoError(t, err)
	assert.Len(t, byWorkflow, 2)

	// Tag filter requires every tag to be present.
	tagged, err := s.ListMemories(ctx, MemoryFilter{Tags: []string{"W1", "backend-developer"}})
	require.NoError(t, err)
	require.Len(t, tagged, 1)
	assert.Equal(t, "Implement the parser", tagged[0].Content)

	limited, err := s.ListMemories(ctx, MemoryFilter{WorkflowID: "W1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "completion", limited[0].Type)
}

func TestCleanupSchedule(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	due := &CleanupEntry{WorkflowID: "W1", ScheduledFor: now.Add(-time.Minute)}
	future := &CleanupEntry{WorkflowID: "W2", ScheduledFor: now.Add(time.Hour)}
	require.NoError(t, s.ScheduleCleanup(ctx, due))
	require.NoError(t, s.ScheduleCleanup(ctx, future))
	require.NotEmpty(t, due.ID)

	entries, err := s.DueCleanups(ctx, now)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "W1", entries[0].WorkflowID)

	// Entries scheduled exactly at now are due.
	entries, err = s.DueCleanups(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "W1", entries[0].WorkflowID)

	require.NoError(t, s.MarkCleanupProcessed(ctx, due.ID))
	entries, err = s.DueCleanups(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Marking an unknown entry is a no-op.
	require.NoError(t, s.MarkCleanupProcessed(ctx, "missing"))
}

func TestRecordToolUsage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.RecordToolUsage(ctx, "launch_agent", "session-1"))
	require.NoError(t, s.RecordToolUsage(ctx, "get_pending_tasks", "session-1"))

	assert.Equal(t, []string{"launch_agent", "get_pending_tasks"}, s.ToolCalls())
}
