package store

import "time"

// Workflow statuses. Transitions happen only through engine methods.
const (
	WorkflowInitialized      = "initialized"
	WorkflowActive           = "active"
	WorkflowDelegation       = "delegation"
	WorkflowAwaitingApproval = "awaiting_approval"
	WorkflowRevisionRequired = "revision_required"
	WorkflowApproved         = "approved"
	WorkflowCompleted        = "completed"
	WorkflowFailed           = "failed"
	WorkflowStale            = "stale"
)

// Handoff types.
const (
	HandoffTaskAssignment   = "task_assignment"
	HandoffReviewRequest    = "review_request"
	HandoffIntegrationReady = "integration_ready"
	HandoffRevisionRequest  = "revision_request"
)

// Workflow is a named, persisted unit of work attributed to an agent role.
type Workflow struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Status         string    `json:"status"`
	AgentType      string    `json:"agent_type"`
	AgentRole      string    `json:"agent_role"` // manager, associate, specialist
	Specifications string    `json:"specifications"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Handoff records an intent to transition control between agent roles
// within a workflow. Processed is monotonic false to true.
type Handoff struct {
	ID          string    `json:"id"`
	FromAgent   string    `json:"from_agent"`
	ToAgent     string    `json:"to_agent"`
	WorkflowID  string    `json:"workflow_id"`
	Type        string    `json:"type"`
	TaskDetails string    `json:"task_details"`
	CreatedAt   time.Time `json:"created_at"`
	Processed   bool      `json:"processed"`
}

// MemoryRecord is an opaque stored memory with optional embedding.
type MemoryRecord struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Type       string            `json:"type"`
	Tags       []string          `json:"tags,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Embedding  []float32         `json:"-"`
	CreatedAt  time.Time         `json:"created_at"`
}

// CleanupEntry schedules a deferred workspace cleanup for a workflow.
type CleanupEntry struct {
	ID           string    `json:"id"`
	WorkflowID   string    `json:"workflow_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
	Processed    bool      `json:"processed"`
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	Status    string
	AgentType string
	Limit     int
	Offset    int
}

// MemoryFilter narrows ListMemories.
type MemoryFilter struct {
	Type       string
	WorkflowID string
	Tags       []string
	Limit      int
}
