// Package hooks turns completion markers found in worker output into
// handoffs, workflow status transitions and follow-up launches.
package hooks

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/store"
)

// Completion markers emitted by workers.
const (
	MarkerTaskAssignment     = "Task Assignment"
	MarkerImplementationDone = "Implementation Complete"
	MarkerReviewRequired     = "Review Required"
	MarkerApproved           = "Approved for Integration"
)

// Engine is the orchestration contract the dispatcher consumes.
type Engine interface {
	CreateHandoff(ctx context.Context, from, to, workflowID, handoffType, taskDetails string) (*store.Handoff, error)
	UpdateWorkflowStatus(ctx context.Context, workflowID, status string) error
	LaunchAgent(ctx context.Context, req engine.LaunchRequest) (*engine.LaunchResult, error)
	GetWorkflowStatus(ctx context.Context, workflowID string) (*engine.WorkflowStatusResult, error)
	ScheduleWorkspaceCleanup(ctx context.Context, workflowID string, delay time.Duration) (*store.CleanupEntry, error)
	ProcessPendingEvents(ctx context.Context) error
}

// Detection is one recognized marker with the text that followed it.
type Detection struct {
	Marker  string
	Details string
}

// Dispatcher reads worker transcripts and drives the handoff protocol.
type Dispatcher struct {
	engine       Engine
	cleanupDelay time.Duration
	logger       *logger.Logger
}

// New creates a dispatcher. cleanupDelay is the wait between approval and
// the scheduled workspace cleanup.
func New(eng Engine, cleanupDelay time.Duration, log *logger.Logger) *Dispatcher {
	if cleanupDelay <= 0 {
		cleanupDelay = 15 * time.Minute
	}
	return &Dispatcher{
		engine:       eng,
		cleanupDelay: cleanupDelay,
		logger:       log.WithComponent("hooks"),
	}
}

// Detect scans transcript text for completion markers in line order. The
// details of a detection run from the marker line to the next marker.
func Detect(output string) []Detection {
	lines := strings.Split(output, "\n")
	markers := []string{MarkerTaskAssignment, MarkerImplementationDone, MarkerReviewRequired, MarkerApproved}

	var detections []Detection
	for i, line := range lines {
		for _, marker := range markers {
			if !strings.Contains(line, marker) {
				continue
			}
			var details []string
			for _, next := range lines[i+1:] {
				if isMarkerLine(next) {
					break
				}
				details = append(details, next)
			}
			detections = append(detections, Detection{
				Marker:  marker,
				Details: strings.TrimSpace(strings.Join(details, "\n")),
			})
			break
		}
	}
	return detections
}

func isMarkerLine(line string) bool {
	for _, marker := range []string{MarkerTaskAssignment, MarkerImplementationDone, MarkerReviewRequired, MarkerApproved} {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// CounterpartRole derives the opposite role name by manager/associate
// substitution.
func CounterpartRole(agentType string) string {
	switch {
	case strings.Contains(agentType, "manager"):
		return strings.ReplaceAll(agentType, "manager", "associate")
	case strings.Contains(agentType, "associate"):
		return strings.ReplaceAll(agentType, "associate", "manager")
	default:
		return agentType + "-associate"
	}
}

// HandleAgentOutput processes every marker found in one worker's output,
// then drains pending events.
func (d *Dispatcher) HandleAgentOutput(ctx context.Context, workflowID, agentType, output string) error {
	detections := Detect(output)
	if len(detections) == 0 {
		return nil
	}

	for _, detection := range detections {
		if err := d.dispatch(ctx, workflowID, agentType, detection); err != nil {
			d.logger.Error("marker dispatch failed",
				zap.String("workflow_id", workflowID),
				zap.String("marker", detection.Marker),
				zap.Error(err))
			return err
		}
	}

	return d.engine.ProcessPendingEvents(ctx)
}

func (d *Dispatcher) dispatch(ctx context.Context, workflowID, agentType string, detection Detection) error {
	counterpart := CounterpartRole(agentType)

	switch detection.Marker {
	case MarkerTaskAssignment:
		_, err := d.engine.CreateHandoff(ctx, agentType, counterpart, workflowID,
			store.HandoffTaskAssignment, detection.Details)
		if err != nil {
			return err
		}
		if err := d.engine.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowDelegation); err != nil {
			return err
		}
		return d.launchWithStoredSpecs(ctx, workflowID, counterpart, detection.Details)

	case MarkerImplementationDone:
		_, err := d.engine.CreateHandoff(ctx, agentType, counterpart, workflowID,
			store.HandoffReviewRequest, detection.Details)
		if err != nil {
			return err
		}
		if err := d.engine.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowAwaitingApproval); err != nil {
			return err
		}
		// The manager reviews the completed work.
		return d.launchWithStoredSpecs(ctx, workflowID, counterpart, detection.Details)

	case MarkerReviewRequired:
		_, err := d.engine.CreateHandoff(ctx, agentType, counterpart, workflowID,
			store.HandoffRevisionRequest, detection.Details)
		if err != nil {
			return err
		}
		if err := d.engine.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowRevisionRequired); err != nil {
			return err
		}
		return d.launchWithStoredSpecs(ctx, workflowID, counterpart, detection.Details)

	case MarkerApproved:
		_, err := d.engine.CreateHandoff(ctx, agentType, counterpart, workflowID,
			store.HandoffIntegrationReady, detection.Details)
		if err != nil {
			return err
		}
		if err := d.engine.UpdateWorkflowStatus(ctx, workflowID, store.WorkflowApproved); err != nil {
			return err
		}
		_, err = d.engine.ScheduleWorkspaceCleanup(ctx, workflowID, d.cleanupDelay)
		return err

	default:
		return apperrors.Validation("unknown marker %q", detection.Marker)
	}
}

// launchWithStoredSpecs launches the recipient role using the workflow's
// stored specifications, prefixed with the marker details. Refusals
// (blocked, duplicate) are logged, not errors.
func (d *Dispatcher) launchWithStoredSpecs(ctx context.Context, workflowID, agentType, details string) error {
	specs := details
	if status, err := d.engine.GetWorkflowStatus(ctx, workflowID); err == nil {
		if specs == "" {
			specs = status.Workflow.Specifications
		} else {
			specs = specs + "\n\n" + status.Workflow.Specifications
		}
	} else {
		d.logger.Warn("failed to load workflow specifications",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}

	result, err := d.engine.LaunchAgent(ctx, engine.LaunchRequest{
		AgentType:      agentType,
		Specifications: specs,
		WorkflowID:     workflowID,
	})
	if err != nil {
		return err
	}
	if result.Status != engine.StatusQueued {
		d.logger.Info("hook launch refused",
			zap.String("workflow_id", workflowID),
			zap.String("agent_type", agentType),
			zap.String("status", result.Status))
	}
	return nil
}
