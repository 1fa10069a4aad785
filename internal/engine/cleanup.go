package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/events"
	"github.com/swarmd/swarmd/internal/store"
	"github.com/swarmd/swarmd/internal/workspace"
)

// ScheduleWorkspaceCleanup records a deferred workspace cleanup for every
// agent of a workflow, to run after the given delay.
func (e *Engine) ScheduleWorkspaceCleanup(ctx context.Context, workflowID string, delay time.Duration) (*store.CleanupEntry, error) {
	if workflowID == "" {
		return nil, apperrors.Validation("workflow_id is required")
	}
	if delay <= 0 {
		delay = e.cfg.ApprovedCleanupDelayDuration()
	}

	entry := &store.CleanupEntry{
		ID:           uuid.New().String(),
		WorkflowID:   workflowID,
		ScheduledFor: time.Now().UTC().Add(delay),
	}
	if err := e.store.ScheduleCleanup(ctx, entry); err != nil {
		return nil, apperrors.Transient("failed to schedule cleanup", err)
	}

	e.logger.Info("workspace cleanup scheduled",
		zap.String("workflow_id", workflowID),
		zap.Time("scheduled_for", entry.ScheduledFor))
	return entry, nil
}

// ProcessScheduledCleanups sweeps due cleanup rows. Each row is marked
// processed regardless of individual workspace failures; failures are
// logged, never re-raised.
func (e *Engine) ProcessScheduledCleanups(ctx context.Context) {
	due, err := e.store.DueCleanups(ctx, time.Now().UTC())
	if err != nil {
		e.logger.Error("failed to list due cleanups", zap.Error(err))
		return
	}

	for _, entry := range due {
		for _, agentID := range e.workflowAgentIDs(ctx, entry.WorkflowID) {
			if e.workspaces == nil {
				break
			}
			result, err := e.workspaces.Cleanup(ctx, agentID, false)
			if err != nil {
				e.logger.Warn("scheduled workspace cleanup failed",
					zap.String("workflow_id", entry.WorkflowID),
					zap.String("agent_id", agentID),
					zap.Error(err))
				continue
			}
			if result.Status == workspace.StatusCleaned {
				e.emit(ctx, events.WorkspaceCleaned, map[string]interface{}{
					"workflow_id": entry.WorkflowID,
					"agent_id":    agentID,
				})
			}
		}
		if err := e.store.MarkCleanupProcessed(ctx, entry.ID); err != nil {
			e.logger.Error("failed to mark cleanup processed",
				zap.String("cleanup_id", entry.ID),
				zap.Error(err))
		}
	}
}

// workflowAgentIDs collects the workspace keys touched by a workflow: the
// originating role plus every handoff participant.
func (e *Engine) workflowAgentIDs(ctx context.Context, workflowID string) []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(agentType string) {
		if agentType == "" {
			return
		}
		id := agentType + "-" + workflowID
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if wf, err := e.store.GetWorkflow(ctx, workflowID); err == nil {
		add(wf.AgentType)
	}
	if handoffs, err := e.store.ListHandoffsByWorkflow(ctx, workflowID, true); err == nil {
		for _, h := range handoffs {
			add(h.FromAgent)
			add(h.ToAgent)
		}
	}
	for _, role := range e.activeRoles(workflowID) {
		add(role)
	}
	return ids
}

// DetectAndMarkStaleWorkflows marks active workflows whose updated_at is
// older than the threshold as stale and releases their role registries.
func (e *Engine) DetectAndMarkStaleWorkflows(ctx context.Context, thresholdMinutes int) ([]string, error) {
	if thresholdMinutes <= 0 {
		thresholdMinutes = e.cfg.StaleThresholdMinutes
	}
	threshold := time.Duration(thresholdMinutes) * time.Minute

	ids, err := e.store.MarkStaleWorkflows(ctx, threshold)
	if err != nil {
		return nil, apperrors.Transient("failed to mark stale workflows", err)
	}

	for _, id := range ids {
		e.dropWorkflowRoles(id)
		e.emit(ctx, events.WorkflowStale, map[string]interface{}{"workflow_id": id})
	}
	if len(ids) > 0 {
		e.logger.Info("marked stale workflows", zap.Int("count", len(ids)))
	}
	return ids, nil
}

// CleanupOldStaleWorkflows deletes stale workflows older than the
// retention window and returns the number removed.
func (e *Engine) CleanupOldStaleWorkflows(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		retentionDays = e.cfg.RetentionDays
	}
	retention := time.Duration(retentionDays) * 24 * time.Hour

	deleted, err := e.store.DeleteStaleWorkflows(ctx, retention)
	if err != nil {
		return 0, apperrors.Transient("failed to delete stale workflows", err)
	}
	if deleted > 0 {
		e.logger.Info("purged stale workflows", zap.Int("deleted", deleted))
	}
	return deleted, nil
}
