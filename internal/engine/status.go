package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/events"
	"github.com/swarmd/swarmd/internal/store"
)

// GetWorkflowStatus returns one workflow with its full handoff history.
func (e *Engine) GetWorkflowStatus(ctx context.Context, workflowID string) (*WorkflowStatusResult, error) {
	if workflowID == "" {
		return nil, apperrors.Validation("workflow_id is required")
	}

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperrors.Validation("workflow %s not found", workflowID)
		}
		return nil, apperrors.Transient("failed to load workflow", err)
	}

	handoffs, err := e.store.ListHandoffsByWorkflow(ctx, workflowID, true)
	if err != nil {
		return nil, apperrors.Transient("failed to load handoff history", err)
	}

	return &WorkflowStatusResult{Workflow: wf, HandoffHistory: handoffs}, nil
}

// ListWorkflows returns workflows matching the filter.
func (e *Engine) ListWorkflows(ctx context.Context, filter store.WorkflowFilter) ([]*store.Workflow, error) {
	workflows, err := e.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, apperrors.Transient("failed to list workflows", err)
	}
	return workflows, nil
}

// UpdateWorkflowStatus transitions a workflow and emits the status change.
func (e *Engine) UpdateWorkflowStatus(ctx context.Context, workflowID, status string) error {
	if workflowID == "" || status == "" {
		return apperrors.Validation("workflow_id and status are required")
	}

	if err := e.store.UpdateWorkflowStatus(ctx, workflowID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.Validation("workflow %s not found", workflowID)
		}
		return apperrors.Transient("failed to update workflow status", err)
	}

	e.emit(ctx, events.WorkflowStatusChanged, map[string]interface{}{
		"workflow_id": workflowID,
		"status":      status,
	})
	return nil
}

// GetSystemStatus reports workflow counts, queue depth and optional
// metrics and health probes.
func (e *Engine) GetSystemStatus(ctx context.Context, includeMetrics, includeHealthChecks bool) (*SystemStatus, error) {
	counts, err := e.store.CountWorkflowsByStatus(ctx)
	if err != nil {
		return nil, apperrors.Transient("failed to count workflows", err)
	}

	status := &SystemStatus{
		Workflows:    counts,
		PendingTasks: e.pendingCount(),
		ActiveScopes: e.scope.ActiveCount(),
		Timestamp:    time.Now().UTC(),
	}

	if includeMetrics {
		e.rolesMu.Lock()
		workflowsWithRoles := len(e.roles)
		e.rolesMu.Unlock()
		status.Metrics = map[string]interface{}{
			"workflows_with_active_roles": workflowsWithRoles,
			"max_workflows":               e.cfg.MaxWorkflows,
		}
	}

	if includeHealthChecks {
		dbCheck := HealthCheck{Name: "database", Healthy: true}
		if _, err := e.store.CountWorkflowsByStatus(ctx); err != nil {
			dbCheck.Healthy = false
			dbCheck.Detail = err.Error()
		}
		busCheck := HealthCheck{Name: "event_bus", Healthy: e.bus != nil && e.bus.IsConnected()}
		status.HealthChecks = []HealthCheck{dbCheck, busCheck}
		for _, check := range status.HealthChecks {
			if !check.Healthy {
				e.logger.Warn("health check failed", zap.String("check", check.Name))
			}
		}
	}

	return status, nil
}
