package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/retry"
	"github.com/swarmd/swarmd/internal/events"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
	"github.com/swarmd/swarmd/internal/workspace"
)

// LaunchAgent admits, persists and queues one agent task. Scope refusals
// and duplicate roles come back as structured statuses, not errors.
func (e *Engine) LaunchAgent(ctx context.Context, req LaunchRequest) (*LaunchResult, error) {
	if req.AgentType == "" {
		return nil, apperrors.Validation("agent_type is required")
	}

	workflowID := req.WorkflowID
	newWorkflow := workflowID == ""
	if newWorkflow {
		workflowID = uuid.New().String()
	}
	taskID := req.AgentType + "-" + workflowID

	// Admission runs before the duplicate-role check.
	registration := e.scope.RegisterTask(taskID, workflowID, req.AgentType, req.Specifications)
	if len(registration.Violations) > 0 {
		e.emit(ctx, events.ScopeViolations, map[string]interface{}{
			"task_id":     taskID,
			"workflow_id": workflowID,
			"violations":  registration.Violations,
		})
	}
	if !registration.Admitted {
		return &LaunchResult{
			Status:           StatusBlocked,
			AgentType:        req.AgentType,
			WorkflowID:       workflowID,
			Reason:           "scope admission refused",
			Violations:       registration.Violations,
			ScopeConstraints: &registration.Constraints,
		}, nil
	}

	if ok, existing := e.registerRole(workflowID, req.AgentType); !ok {
		e.scope.CompleteTask(taskID)
		return &LaunchResult{
			Status:        StatusDuplicateBlocked,
			AgentType:     req.AgentType,
			WorkflowID:    workflowID,
			Reason:        fmt.Sprintf("role %s already active for workflow %s", req.AgentType, workflowID),
			ExistingRoles: existing,
		}, nil
	}

	// Everything past here rolls back the role and scope on failure.
	rollback := func() {
		e.releaseRole(workflowID, req.AgentType)
		e.scope.CompleteTask(taskID)
	}

	if newWorkflow && e.cfg.MaxWorkflows > 0 {
		counts, err := e.store.CountWorkflowsByStatus(ctx)
		if err != nil {
			rollback()
			return nil, apperrors.Transient("failed to count workflows", err)
		}
		if counts[store.WorkflowActive] >= e.cfg.MaxWorkflows {
			rollback()
			return &LaunchResult{
				Status:     StatusBlocked,
				AgentType:  req.AgentType,
				WorkflowID: workflowID,
				Reason:     fmt.Sprintf("workflow capacity reached (%d active)", counts[store.WorkflowActive]),
			}, nil
		}
	}

	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:             workflowID,
		Name:           taskID,
		Status:         store.WorkflowActive,
		AgentType:      req.AgentType,
		AgentRole:      roleOf(req.AgentType),
		Specifications: req.Specifications,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	// The workflow row must exist before the task is queued; a transient
	// write failure here is retried before the launch is abandoned.
	if err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		return e.store.UpsertWorkflow(ctx, wf)
	}); err != nil {
		rollback()
		return nil, apperrors.Transient("failed to persist workflow", err)
	}

	// Memory failures are non-fatal at launch.
	if e.memory != nil {
		_, err := e.memory.Store(ctx, memory.StoreRequest{
			Content:    req.Specifications,
			Type:       memory.TypeSpecifications,
			Tags:       []string{workflowID, req.AgentType},
			WorkflowID: workflowID,
		})
		if err != nil {
			e.logger.WithWorkflowID(workflowID).Warn("failed to store specifications memory", zap.Error(err))
		}
	}

	var workspacePath string
	if req.WorkspaceConfig != nil {
		if e.workspaces == nil {
			rollback()
			return nil, apperrors.Validation("workspace creation requested but no workspace manager is configured")
		}
		created, err := e.workspaces.Create(ctx, workspace.CreateRequest{
			AgentID: taskID,
			BaseRef: req.WorkspaceConfig.BaseRef,
		})
		if err != nil {
			// Creation failure is fatal for the launch.
			rollback()
			return nil, err
		}
		workspacePath = created.WorkspacePath
	}

	scopedSpecs := scope.ScopedSpecifications(req.Specifications, registration.Constraints)
	prompt, err := e.prompts.Render(req.AgentType, scopedSpecs)
	if err != nil {
		rollback()
		return nil, apperrors.Wrap(err, "failed to render task prompt")
	}

	e.appendPending(&PendingTask{
		TaskID:           taskID,
		WorkflowID:       workflowID,
		AgentType:        req.AgentType,
		Prompt:           prompt,
		ScopeConstraints: registration.Constraints,
		CreatedAt:        now,
	})

	e.emit(ctx, events.AgentLaunched, map[string]interface{}{
		"task_id":     taskID,
		"workflow_id": workflowID,
		"agent_type":  req.AgentType,
	})

	e.logger.Info("agent queued",
		zap.String("task_id", taskID),
		zap.String("workflow_id", workflowID),
		zap.String("agent_type", req.AgentType))

	return &LaunchResult{
		Status:           StatusQueued,
		WorkflowID:       workflowID,
		TaskID:           taskID,
		AgentType:        req.AgentType,
		ScopeConstraints: &registration.Constraints,
		Violations:       registration.Violations,
		PromptPreview:    preview(prompt),
		WorkspacePath:    workspacePath,
	}, nil
}

// GetPendingTasks returns queued tasks in append order, optionally
// filtered by agent type.
func (e *Engine) GetPendingTasks(agentType string) *PendingTasksResult {
	tasks := e.pendingSnapshot(agentType)
	return &PendingTasksResult{Count: len(tasks), Tasks: tasks}
}

// SignalCompletion records a worker's exit: removes the pending entry,
// marks the workflow terminal, releases the role and writes a completion
// memory. Memory failures are logged, never surfaced.
func (e *Engine) SignalCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if req.AgentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		// Pending entries are keyed task_id = agent_type + "-" + workflow_id.
		e.pendingMu.Lock()
		for _, task := range e.pending {
			if task.TaskID == req.AgentID {
				workflowID = task.WorkflowID
				break
			}
		}
		e.pendingMu.Unlock()
	}
	if workflowID == "" {
		return nil, apperrors.Validation("workflow_id is required when agent %q has no pending task", req.AgentID)
	}

	agentType := strings.TrimSuffix(req.AgentID, "-"+workflowID)
	_, removed := e.removePending(workflowID, agentType)

	terminal := req.Status
	if terminal == "" {
		terminal = store.WorkflowCompleted
	}
	if err := e.store.UpdateWorkflowStatus(ctx, workflowID, terminal); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.Transient("failed to update workflow status", err)
	}

	e.releaseRole(workflowID, agentType)
	e.scope.CompleteTask(agentType + "-" + workflowID)

	if e.memory != nil {
		metadata := map[string]string{
			"agent_id":     req.AgentID,
			"completed_at": time.Now().UTC().Format(time.RFC3339),
		}
		if len(req.Artifacts) > 0 {
			metadata["artifacts"] = strings.Join(req.Artifacts, ",")
		}
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		_, err := e.memory.Store(ctx, memory.StoreRequest{
			Content:    req.Result,
			Type:       memory.TypeCompletion,
			Tags:       []string{workflowID, agentType},
			WorkflowID: workflowID,
			Metadata:   metadata,
		})
		if err != nil {
			e.logger.WithWorkflowID(workflowID).Warn("failed to store completion memory", zap.Error(err))
		}
	}

	e.emit(ctx, events.AgentCompleted, map[string]interface{}{
		"agent_id":    req.AgentID,
		"workflow_id": workflowID,
		"status":      terminal,
	})

	return &CompletionResult{Status: terminal, WorkflowID: workflowID, TasksRemoved: removed}, nil
}

func roleOf(agentType string) string {
	lower := strings.ToLower(agentType)
	if strings.Contains(lower, "manager") || strings.Contains(lower, "lead") {
		return "manager"
	}
	return "associate"
}

func preview(prompt string) string {
	if len(prompt) <= promptPreviewLen {
		return prompt
	}
	return prompt[:promptPreviewLen]
}
