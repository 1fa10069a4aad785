// Package scope implements pre-launch admission and runtime guarding
// against runaway agent work: complexity classification, constraint
// issuance, specification validation, resource monitoring, over-engineering
// detection and the auto-stop decision.
package scope

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmd/swarmd/internal/common/logger"
)

// TaskScope tracks one admitted task for resource and time accounting.
type TaskScope struct {
	ID              string
	WorkflowID      string
	AgentType       string
	Specifications  string
	Constraints     Constraints
	StartTime       time.Time
	SuccessCriteria []string
	Boundaries      []string
}

// Usage is a resource snapshot for an active task's workspace.
type Usage struct {
	TotalSize      int64
	FileCount      int
	DirectoryDepth int
}

// Registration is the admission outcome for a task.
type Registration struct {
	Admitted    bool
	TaskScope   *TaskScope
	Violations  []Violation
	Constraints Constraints
}

// AutoStopDecision reports whether a task should be stopped and why.
type AutoStopDecision struct {
	ShouldStop bool   `json:"should_stop"`
	Reason     string `json:"reason,omitempty"`
}

var (
	managerRolePattern = regexp.MustCompile(`manager|lead`)

	componentInflationPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)created? \d+ (components?|files?|modules?)`),
		regexp.MustCompile(`(?i)implementing \d+ (features?|endpoints?|services?)`),
		regexp.MustCompile(`(?i)building (complete|full|comprehensive) (system|solution)`),
	}
)

// Control is the in-memory scope state machine. It holds no outward
// references; callers surface its violation events.
type Control struct {
	mu      sync.Mutex
	tasks   map[string]*TaskScope
	history map[string][]Violation // violations per task id, kept after completion
	logger  *logger.Logger
}

// NewControl creates an empty scope controller.
func NewControl(log *logger.Logger) *Control {
	return &Control{
		tasks:   make(map[string]*TaskScope),
		history: make(map[string][]Violation),
		logger:  log,
	}
}

// AnalyzeComplexity classifies specifications into simple, moderate or
// complex. Manager and lead roles bias to complex.
func (c *Control) AnalyzeComplexity(specs, agentType string) Complexity {
	if managerRolePattern.MatchString(strings.ToLower(agentType)) {
		return Complex
	}

	lower := strings.ToLower(specs)
	complexCount := 0
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			complexCount++
		}
	}
	simpleHit := false
	for _, kw := range simpleKeywords {
		if strings.Contains(lower, kw) {
			simpleHit = true
			break
		}
	}

	if simpleHit && complexCount == 0 {
		return Simple
	}
	if complexCount >= 2 {
		return Complex
	}
	return Moderate
}

// ValidateSpecifications checks specification text against a constraint set.
func (c *Control) ValidateSpecifications(specs string, constraints Constraints) []Violation {
	var violations []Violation

	if len(specs) > constraints.MaxSpecLength {
		violations = append(violations, Violation{
			Type:     ViolationSpecLength,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("specifications length %d exceeds limit %d", len(specs), constraints.MaxSpecLength),
		})
	}

	lower := strings.ToLower(specs)
	var prohibited []string
	for _, kw := range prohibitedKeywords {
		if strings.Contains(lower, kw) {
			prohibited = append(prohibited, kw)
		}
	}
	if len(prohibited) > 0 {
		violations = append(violations, Violation{
			Type:     ViolationProhibitedKeywords,
			Severity: SeverityCritical,
			Message:  "specifications contain prohibited scope keywords",
			Matches:  prohibited,
		})
	}

	hasHint := false
	for _, hint := range completionCriteriaHints {
		if strings.Contains(lower, hint) {
			hasHint = true
			break
		}
	}
	if !hasHint {
		violations = append(violations, Violation{
			Type:     ViolationCompletionCriteria,
			Severity: SeverityWarning,
			Message:  "specifications lack concrete completion criteria",
		})
	}

	return violations
}

// RegisterTask classifies and validates a task, stores its TaskScope, and
// returns the admission outcome. Admission is refused only for blocking
// violations (none are emitted by default rules).
func (c *Control) RegisterTask(taskID, workflowID, agentType, specs string) Registration {
	complexity := c.AnalyzeComplexity(specs, agentType)
	constraints := ConstraintsFor(complexity)
	violations := c.ValidateSpecifications(specs, constraints)

	admitted := true
	for _, v := range violations {
		if v.Severity == SeverityBlocking {
			admitted = false
			break
		}
	}

	if !admitted {
		c.recordViolations(taskID, violations)
		return Registration{Admitted: false, Violations: violations, Constraints: constraints}
	}

	ts := &TaskScope{
		ID:             taskID,
		WorkflowID:     workflowID,
		AgentType:      agentType,
		Specifications: specs,
		Constraints:    constraints,
		StartTime:      time.Now().UTC(),
		SuccessCriteria: []string{
			"deliver exactly what the specifications describe",
		},
		Boundaries: []string{
			fmt.Sprintf("stay under %d files", constraints.MaxFileCount),
			fmt.Sprintf("finish within %s", constraints.MaxExecutionTime),
		},
	}

	c.mu.Lock()
	c.tasks[taskID] = ts
	c.mu.Unlock()
	c.recordViolations(taskID, violations)

	if len(violations) > 0 {
		c.logger.Warn("task admitted with scope violations",
			zap.String("task_id", taskID),
			zap.Int("violations", len(violations)))
	}

	return Registration{Admitted: true, TaskScope: ts, Violations: violations, Constraints: constraints}
}

func (c *Control) recordViolations(taskID string, violations []Violation) {
	if len(violations) == 0 {
		return
	}
	c.mu.Lock()
	c.history[taskID] = append(c.history[taskID], violations...)
	c.mu.Unlock()
}

// MonitorResourceUsage evaluates a usage snapshot against the task's
// constraints. Size and time breaches are critical, count breaches warn.
func (c *Control) MonitorResourceUsage(taskID string, usage Usage) []Violation {
	c.mu.Lock()
	ts, ok := c.tasks[taskID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	var violations []Violation
	if usage.TotalSize > ts.Constraints.MaxWorkspaceSize {
		violations = append(violations, Violation{
			Type:     ViolationWorkspaceSize,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("workspace size %d bytes exceeds limit %d bytes",
				usage.TotalSize, ts.Constraints.MaxWorkspaceSize),
		})
	}
	if elapsed := time.Since(ts.StartTime); elapsed > ts.Constraints.MaxExecutionTime {
		violations = append(violations, Violation{
			Type:     ViolationExecutionTime,
			Severity: SeverityCritical,
			Message: fmt.Sprintf("execution time %s exceeds limit %s",
				elapsed.Round(time.Second), ts.Constraints.MaxExecutionTime),
		})
	}
	if usage.FileCount > ts.Constraints.MaxFileCount {
		violations = append(violations, Violation{
			Type:     ViolationFileCount,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("file count %d exceeds limit %d",
				usage.FileCount, ts.Constraints.MaxFileCount),
		})
	}

	c.recordViolations(taskID, violations)
	return violations
}

// DetectOverEngineering scans agent output lines for infrastructure
// indicators and component-inflation phrasing.
func (c *Control) DetectOverEngineering(taskID string, logLines []string) []Violation {
	joined := strings.ToLower(strings.Join(logLines, "\n"))

	var infra []string
	for _, indicator := range infrastructureIndicators {
		if strings.Contains(joined, indicator) {
			infra = append(infra, indicator)
		}
	}

	inflation := 0
	for _, pattern := range componentInflationPatterns {
		inflation += len(pattern.FindAllString(joined, -1))
	}

	var violations []Violation
	if len(infra) >= 3 {
		violations = append(violations, Violation{
			Type:     ViolationInfraComplexity,
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("%d infrastructure indicators detected", len(infra)),
			Matches:  infra,
		})
	}
	if inflation >= 2 {
		violations = append(violations, Violation{
			Type:     ViolationComponentCount,
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("%d component-inflation phrases detected", inflation),
		})
	}

	c.recordViolations(taskID, violations)
	return violations
}

// ShouldAutoStop decides whether a task must be stopped, based on a fresh
// resource snapshot plus the task's recorded critical violations.
func (c *Control) ShouldAutoStop(taskID string, usage Usage) AutoStopDecision {
	c.mu.Lock()
	ts, ok := c.tasks[taskID]
	c.mu.Unlock()
	if !ok || !ts.Constraints.AutoStopOnOverengineering {
		return AutoStopDecision{}
	}

	for _, v := range c.MonitorResourceUsage(taskID, usage) {
		if v.Severity == SeverityCritical {
			return AutoStopDecision{ShouldStop: true, Reason: v.Message}
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.history[taskID] {
		if v.Severity == SeverityCritical &&
			(v.Type == ViolationInfraComplexity || v.Type == ViolationWorkspaceSize || v.Type == ViolationExecutionTime) {
			return AutoStopDecision{ShouldStop: true, Reason: v.Message}
		}
	}
	return AutoStopDecision{}
}

// CompleteTask removes the TaskScope but preserves the violation history.
func (c *Control) CompleteTask(taskID string) {
	c.mu.Lock()
	delete(c.tasks, taskID)
	c.mu.Unlock()
}

// ActiveCount returns the number of tasks under accounting.
func (c *Control) ActiveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// ViolationsFor returns the recorded violation history for a task.
func (c *Control) ViolationsFor(taskID string) []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Violation(nil), c.history[taskID]...)
}

// ScopedSpecifications returns the original specifications followed by the
// constraint banner appended to every task prompt.
func ScopedSpecifications(specs string, constraints Constraints) string {
	var b strings.Builder
	b.WriteString(specs)
	b.WriteString("\n\n=== SCOPE CONSTRAINTS ===\n")
	fmt.Fprintf(&b, "max_workspace_size: %d MiB\n", constraints.MaxWorkspaceSize/mib)
	fmt.Fprintf(&b, "max_execution_time: %d minutes\n", int(constraints.MaxExecutionTime.Minutes()))
	fmt.Fprintf(&b, "max_team_size: %d agents\n", constraints.MaxTeamSize)
	b.WriteString("auto_stop: the task is terminated on critical resource or over-engineering violations\n")
	b.WriteString("success_criteria: deliver exactly what the specifications describe, nothing more\n")
	return b.String()
}
