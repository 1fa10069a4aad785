package engine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/retry"
	"github.com/swarmd/swarmd/internal/events"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/store"
)

// CreateHandoff records a control transition between agent roles.
func (e *Engine) CreateHandoff(ctx context.Context, from, to, workflowID, handoffType, taskDetails string) (*store.Handoff, error) {
	if from == "" || to == "" || workflowID == "" {
		return nil, apperrors.Validation("from, to and workflow_id are required")
	}

	handoff := &store.Handoff{
		ID:          uuid.New().String(),
		FromAgent:   from,
		ToAgent:     to,
		WorkflowID:  workflowID,
		Type:        handoffType,
		TaskDetails: taskDetails,
		CreatedAt:   time.Now().UTC(),
	}
	// A lost handoff row breaks the delegation chain, so the insert is
	// retried before failing the call.
	if err := retry.Do(ctx, retry.DefaultPolicy, func(ctx context.Context) error {
		return e.store.CreateHandoff(ctx, handoff)
	}); err != nil {
		return nil, apperrors.Transient("failed to persist handoff", err)
	}

	e.emit(ctx, events.HandoffCreated, map[string]interface{}{
		"handoff_id":  handoff.ID,
		"workflow_id": workflowID,
		"from":        from,
		"to":          to,
		"type":        handoffType,
	})
	return handoff, nil
}

// GetWorkflowHandoffs lists a workflow's handoffs in creation order.
func (e *Engine) GetWorkflowHandoffs(ctx context.Context, workflowID string, includeProcessed bool) ([]*store.Handoff, error) {
	if workflowID == "" {
		return nil, apperrors.Validation("workflow_id is required")
	}
	handoffs, err := e.store.ListHandoffsByWorkflow(ctx, workflowID, includeProcessed)
	if err != nil {
		return nil, apperrors.Transient("failed to list handoffs", err)
	}
	return handoffs, nil
}

// ProcessPendingEvents drains unprocessed handoffs in creation order. A
// task_assignment to an associate auto-launches the receiving role before
// the handoff is marked processed; on launch infrastructure failure the
// handoff stays unprocessed and is retried next tick. Replays are safe
// because the duplicate-role check rejects a second launch.
func (e *Engine) ProcessPendingEvents(ctx context.Context) error {
	handoffs, err := e.store.ListUnprocessedHandoffs(ctx)
	if err != nil {
		return apperrors.Transient("failed to list unprocessed handoffs", err)
	}

	for _, handoff := range handoffs {
		if handoff.Type == store.HandoffTaskAssignment && strings.Contains(handoff.ToAgent, "associate") {
			if err := e.launchHandoffRecipient(ctx, handoff); err != nil {
				e.logger.WithHandoffID(handoff.ID).Warn("handoff launch failed, will retry", zap.Error(err))
				continue
			}
		}

		if err := e.store.MarkHandoffProcessed(ctx, handoff.ID); err != nil {
			e.logger.WithHandoffID(handoff.ID).Error("failed to mark handoff processed", zap.Error(err))
			continue
		}
		e.emit(ctx, events.HandoffProcessed, map[string]interface{}{
			"handoff_id":  handoff.ID,
			"workflow_id": handoff.WorkflowID,
			"to":          handoff.ToAgent,
		})
	}
	return nil
}

// launchHandoffRecipient launches the handoff's receiving role with the
// workflow's stored specifications. Blocked and duplicate outcomes count
// as handled; only infrastructure errors propagate.
func (e *Engine) launchHandoffRecipient(ctx context.Context, handoff *store.Handoff) error {
	specs, err := e.workflowSpecifications(ctx, handoff.WorkflowID)
	if err != nil {
		return err
	}
	if handoff.TaskDetails != "" {
		specs = handoff.TaskDetails + "\n\n" + specs
	}

	result, err := e.LaunchAgent(ctx, LaunchRequest{
		AgentType:      handoff.ToAgent,
		Specifications: specs,
		WorkflowID:     handoff.WorkflowID,
	})
	if err != nil {
		return err
	}
	if result.Status != StatusQueued {
		e.logger.WithHandoffID(handoff.ID).Info("handoff launch refused",
			zap.String("status", result.Status),
			zap.String("reason", result.Reason))
	}
	return nil
}

// workflowSpecifications retrieves the stored specifications for a
// workflow, preferring the memory store and falling back to the workflow
// row.
func (e *Engine) workflowSpecifications(ctx context.Context, workflowID string) (string, error) {
	if e.memory != nil {
		retrieved, err := e.memory.Retrieve(ctx, memory.RetrieveRequest{
			Query:      workflowID,
			Type:       memory.TypeSpecifications,
			WorkflowID: workflowID,
			SearchMode: memory.SearchText,
			Limit:      1,
		})
		if err == nil && len(retrieved.Results) > 0 {
			return retrieved.Results[0].Record.Content, nil
		}
		if err != nil {
			e.logger.Debug("memory retrieval failed, falling back to workflow row",
				zap.String("workflow_id", workflowID),
				zap.Error(err))
		}
	}

	wf, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperrors.Validation("workflow %s not found", workflowID)
		}
		return "", apperrors.Transient("failed to load workflow", err)
	}
	return wf.Specifications, nil
}
