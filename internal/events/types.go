// Package events provides event types and utilities for the swarmd event system.
package events

// Event types for agents
const (
	AgentLaunched  = "agent.launched"
	AgentCompleted = "agent.completed"
)

// Event types for workflows
const (
	WorkflowStatusChanged = "workflow.status_changed"
	WorkflowStale         = "workflow.stale"
)

// Event types for handoffs
const (
	HandoffCreated   = "handoff.created"
	HandoffProcessed = "handoff.processed"
)

// Event types for scope enforcement
const (
	ScopeViolations = "scope.violations"
	ScopeAutoStop   = "scope.auto_stop"
)

// Event types for workspaces
const (
	WorkspaceCreated = "workspace.created"
	WorkspaceCleaned = "workspace.cleaned"
)
