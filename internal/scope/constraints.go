package scope

import "time"

// Complexity classifies a task's expected size.
type Complexity string

const (
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
)

// Violation severities.
const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
	SeverityBlocking = "blocking"
)

// Violation types.
const (
	ViolationSpecLength         = "specification_length"
	ViolationProhibitedKeywords = "prohibited_keywords"
	ViolationCompletionCriteria = "completion_criteria"
	ViolationWorkspaceSize      = "workspace_size"
	ViolationExecutionTime      = "execution_time"
	ViolationFileCount          = "file_count"
	ViolationInfraComplexity    = "infrastructure_complexity"
	ViolationComponentCount     = "component_count"
)

// Violation describes a scope rule breach. Violations are structured
// refusal data, not errors.
type Violation struct {
	Type     string   `json:"type"`
	Severity string   `json:"severity"`
	Message  string   `json:"message"`
	Matches  []string `json:"matches,omitempty"`
}

const mib = 1 << 20

// Constraints are the hard limits attached to a task at admission.
// Immutable once issued.
type Constraints struct {
	Complexity                Complexity    `json:"complexity"`
	MaxWorkspaceSize          int64         `json:"max_workspace_size"` // bytes
	MaxExecutionTime          time.Duration `json:"max_execution_time"`
	MaxAgentCount             int           `json:"max_agent_count"`
	MaxFileCount              int           `json:"max_file_count"`
	MaxTeamSize               int           `json:"max_team_size"`
	MaxDirectoryDepth         int           `json:"max_directory_depth"`
	MaxSpecLength             int           `json:"max_spec_length"`
	MaxDelegationDepth        int           `json:"max_delegation_depth"`
	MaxConcurrentTasks        int           `json:"max_concurrent_tasks"`
	RequiresApproval          bool          `json:"requires_approval"`
	AutoStopOnOverengineering bool          `json:"auto_stop_on_overengineering"`
}

// ConstraintsFor returns the constraint set issued for a complexity class.
func ConstraintsFor(c Complexity) Constraints {
	base := Constraints{
		Complexity:                c,
		MaxDirectoryDepth:         4,
		MaxSpecLength:             2000,
		MaxDelegationDepth:        2,
		MaxConcurrentTasks:        2,
		AutoStopOnOverengineering: true,
	}
	switch c {
	case Simple:
		base.MaxWorkspaceSize = 1 * mib
		base.MaxExecutionTime = 5 * time.Minute
		base.MaxAgentCount = 1
		base.MaxFileCount = 10
		base.MaxTeamSize = 1
	case Complex:
		base.MaxWorkspaceSize = 15 * mib
		base.MaxExecutionTime = 20 * time.Minute
		base.MaxAgentCount = 4
		base.MaxFileCount = 75
		base.MaxTeamSize = 4
		base.RequiresApproval = true
	default: // Moderate
		base.MaxWorkspaceSize = 5 * mib
		base.MaxExecutionTime = 10 * time.Minute
		base.MaxAgentCount = 2
		base.MaxFileCount = 25
		base.MaxTeamSize = 2
	}
	return base
}

// simpleKeywords hint at small, bounded work.
var simpleKeywords = []string{
	"fix", "update", "add comment", "rename", "format", "lint",
	"single file", "quick", "minor", "small change", "typo",
}

// complexKeywords hint at system-scale work.
var complexKeywords = []string{
	"system", "architecture", "framework", "database", "api", "auth",
	"complete", "full", "comprehensive", "enterprise", "scalable",
	"microservice", "distributed", "production", "deployment",
}

// prohibitedKeywords always produce a critical violation when present.
var prohibitedKeywords = []string{
	"comprehensive", "enterprise-grade", "production-ready", "scalable",
	"microservices", "distributed", "full-stack", "complete system",
	"authentication system", "user management", "advanced features",
}

// infrastructureIndicators signal runaway infrastructure building when they
// pile up in agent output.
var infrastructureIndicators = []string{
	"framework", "architecture", "microservice", "api gateway",
	"load balancer", "database schema", "authentication system",
	"user management", "role-based access", "middleware",
}

// completionCriteriaHints: specifications mentioning none of these get a
// completion-criteria warning.
var completionCriteriaHints = []string{
	"deliverable", "specific", "bounded", "tests", "function", "component", "for the",
}
