// Package store persists workflows, handoffs, memories, cleanup schedules
// and tool usage. Two implementations exist: a SQL repository (SQLite or
// PostgreSQL through the shared pool) and an in-memory store for tests.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store is the persistence contract consumed by the engine and memory service.
type Store interface {
	// Workflows
	UpsertWorkflow(ctx context.Context, wf *Workflow) error
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*Workflow, error)
	UpdateWorkflowStatus(ctx context.Context, id, status string) error
	CountWorkflowsByStatus(ctx context.Context) (map[string]int, error)
	// MarkStaleWorkflows marks active workflows older than the threshold as
	// stale and returns their ids.
	MarkStaleWorkflows(ctx context.Context, threshold time.Duration) ([]string, error)
	// DeleteStaleWorkflows removes stale workflows whose updated_at is older
	// than the retention window, returning the number deleted.
	DeleteStaleWorkflows(ctx context.Context, retention time.Duration) (int, error)

	// Handoffs
	CreateHandoff(ctx context.Context, h *Handoff) error
	ListUnprocessedHandoffs(ctx context.Context) ([]*Handoff, error)
	ListHandoffsByWorkflow(ctx context.Context, workflowID string, includeProcessed bool) ([]*Handoff, error)
	MarkHandoffProcessed(ctx context.Context, id string) error

	// Memories
	InsertMemory(ctx context.Context, m *MemoryRecord) error
	ListMemories(ctx context.Context, filter MemoryFilter) ([]*MemoryRecord, error)

	// Cleanup schedule
	ScheduleCleanup(ctx context.Context, e *CleanupEntry) error
	DueCleanups(ctx context.Context, now time.Time) ([]*CleanupEntry, error)
	MarkCleanupProcessed(ctx context.Context, id string) error

	// Tool usage
	RecordToolUsage(ctx context.Context, toolName, sessionID string) error

	Close() error
}
