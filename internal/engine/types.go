package engine

import (
	"time"

	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
)

// Launch statuses.
const (
	StatusQueued           = "queued"
	StatusBlocked          = "blocked"
	StatusDuplicateBlocked = "duplicate_blocked"
)

const promptPreviewLen = 200

// WorkspaceOptions requests workspace creation during launch.
type WorkspaceOptions struct {
	BaseRef string `json:"base_ref,omitempty"`
}

// LaunchRequest asks the engine to queue one agent task.
type LaunchRequest struct {
	AgentType       string            `json:"agent_type"`
	Specifications  string            `json:"specifications"`
	WorkflowID      string            `json:"workflow_id,omitempty"`
	WorkspaceConfig *WorkspaceOptions `json:"workspace_config,omitempty"`
}

// LaunchResult reports the launch outcome. Blocked and duplicate_blocked
// outcomes are structured refusals, not errors.
type LaunchResult struct {
	Status           string            `json:"status"`
	WorkflowID       string            `json:"workflow_id,omitempty"`
	TaskID           string            `json:"task_id,omitempty"`
	AgentType        string            `json:"agent_type"`
	ScopeConstraints *scope.Constraints `json:"scope_constraints,omitempty"`
	Violations       []scope.Violation `json:"violations,omitempty"`
	PromptPreview    string            `json:"prompt_preview,omitempty"`
	WorkspacePath    string            `json:"workspace_path,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	ExistingRoles    []string          `json:"existing_roles,omitempty"`
}

// PendingTask is an in-memory request to spawn a worker subprocess.
type PendingTask struct {
	TaskID           string            `json:"task_id"`
	WorkflowID       string            `json:"workflow_id"`
	AgentType        string            `json:"agent_type"`
	Prompt           string            `json:"prompt"`
	ScopeConstraints scope.Constraints `json:"scope_constraints"`
	CreatedAt        time.Time         `json:"created_at"`
}

// PendingTasksResult lists queued tasks in FIFO order.
type PendingTasksResult struct {
	Count int            `json:"count"`
	Tasks []*PendingTask `json:"tasks"`
}

// CompletionRequest reports that a worker finished.
type CompletionRequest struct {
	AgentID    string            `json:"agent_id"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Result     string            `json:"result"`
	Artifacts  []string          `json:"artifacts,omitempty"`
	Status     string            `json:"status,omitempty"` // terminal workflow status, default completed
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// CompletionResult reports the recorded completion.
type CompletionResult struct {
	Status       string `json:"status"`
	WorkflowID   string `json:"workflow_id"`
	TasksRemoved int    `json:"tasks_removed"`
}

// WorkflowStatusResult pairs a workflow with its handoff history.
type WorkflowStatusResult struct {
	Workflow       *store.Workflow  `json:"workflow"`
	HandoffHistory []*store.Handoff `json:"handoff_history"`
}

// HealthCheck is one named component probe.
type HealthCheck struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// SystemStatus is the get_system_status response.
type SystemStatus struct {
	Workflows    map[string]int         `json:"workflows"`
	PendingTasks int                    `json:"pending_tasks"`
	ActiveScopes int                    `json:"active_scopes"`
	Timestamp    time.Time              `json:"timestamp"`
	Metrics      map[string]interface{} `json:"metrics,omitempty"`
	HealthChecks []HealthCheck          `json:"health_checks,omitempty"`
}
