package scope

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/swarmd/internal/common/logger"
)

func newTestControl() *Control {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return NewControl(log)
}

func TestAnalyzeComplexity(t *testing.T) {
	c := newTestControl()

	tests := []struct {
		name      string
		specs     string
		agentType string
		want      Complexity
	}{
		{
			name:      "simple keyword without complex keywords",
			specs:     "Fix the typo in the README",
			agentType: "doc-writer",
			want:      Simple,
		},
		{
			name:      "two complex keywords",
			specs:     "Design the database and api layer",
			agentType: "backend-developer",
			want:      Complex,
		},
		{
			name:      "manager role biases to complex",
			specs:     "Fix a typo",
			agentType: "team-manager",
			want:      Complex,
		},
		{
			name:      "lead role biases to complex",
			specs:     "small change",
			agentType: "tech-lead",
			want:      Complex,
		},
		{
			name:      "no keywords at all",
			specs:     "Implement the requested behavior",
			agentType: "backend-developer",
			want:      Moderate,
		},
		{
			name:      "simple keyword alongside a complex keyword",
			specs:     "Quick fix to the database layer",
			agentType: "backend-developer",
			want:      Moderate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.AnalyzeComplexity(tt.specs, tt.agentType))
		})
	}
}

func TestConstraintsTable(t *testing.T) {
	simple := ConstraintsFor(Simple)
	assert.Equal(t, int64(1*mib), simple.MaxWorkspaceSize)
	assert.Equal(t, 5*time.Minute, simple.MaxExecutionTime)
	assert.Equal(t, 1, simple.MaxAgentCount)
	assert.Equal(t, 10, simple.MaxFileCount)
	assert.False(t, simple.RequiresApproval)

	moderate := ConstraintsFor(Moderate)
	assert.Equal(t, int64(5*mib), moderate.MaxWorkspaceSize)
	assert.Equal(t, 10*time.Minute, moderate.MaxExecutionTime)
	assert.Equal(t, 25, moderate.MaxFileCount)
	assert.False(t, moderate.RequiresApproval)

	complex := ConstraintsFor(Complex)
	assert.Equal(t, int64(15*mib), complex.MaxWorkspaceSize)
	assert.Equal(t, 20*time.Minute, complex.MaxExecutionTime)
	assert.Equal(t, 4, complex.MaxTeamSize)
	assert.Equal(t, 75, complex.MaxFileCount)
	assert.True(t, complex.RequiresApproval)

	// Shared limits hold across all classes.
	for _, c := range []Constraints{simple, moderate, complex} {
		assert.Equal(t, 4, c.MaxDirectoryDepth)
		assert.Equal(t, 2000, c.MaxSpecLength)
		assert.Equal(t, 2, c.MaxDelegationDepth)
		assert.Equal(t, 2, c.MaxConcurrentTasks)
		assert.True(t, c.AutoStopOnOverengineering)
	}
}

func TestValidateSpecificationsProhibitedKeywords(t *testing.T) {
	c := newTestControl()
	constraints := ConstraintsFor(Complex)

	violations := c.ValidateSpecifications(
		"Build a comprehensive enterprise-grade scalable microservices authentication system",
		constraints)

	var prohibited *Violation
	for i := range violations {
		if violations[i].Type == ViolationProhibitedKeywords {
			prohibited = &violations[i]
		}
	}
	require.NotNil(t, prohibited)
	assert.Equal(t, SeverityCritical, prohibited.Severity)
	assert.Contains(t, prohibited.Matches, "comprehensive")
	assert.Contains(t, prohibited.Matches, "authentication system")
}

func TestValidateSpecificationsLengthAndCriteria(t *testing.T) {
	c := newTestControl()
	constraints := ConstraintsFor(Moderate)

	long := strings.Repeat("x", constraints.MaxSpecLength+1)
	violations := c.ValidateSpecifications(long, constraints)
	found := false
	for _, v := range violations {
		if v.Type == ViolationSpecLength {
			found = true
			assert.Equal(t, SeverityWarning, v.Severity)
		}
	}
	assert.True(t, found, "expected specification_length warning")

	// Mentions "tests": no completion-criteria warning.
	violations = c.ValidateSpecifications("Add unit tests for the parser", constraints)
	for _, v := range violations {
		assert.NotEqual(t, ViolationCompletionCriteria, v.Type)
	}

	// Empty specifications still queue but warn.
	violations = c.ValidateSpecifications("", constraints)
	found = false
	for _, v := range violations {
		if v.Type == ViolationCompletionCriteria {
			found = true
		}
	}
	assert.True(t, found, "expected completion_criteria warning for empty specs")
}

func TestRegisterTaskAdmitsWithViolations(t *testing.T) {
	c := newTestControl()

	reg := c.RegisterTask("team-manager-w1", "w1", "team-manager",
		"Build a comprehensive enterprise-grade scalable microservices authentication system")

	require.True(t, reg.Admitted)
	assert.NotEmpty(t, reg.Violations)
	assert.Equal(t, Complex, reg.Constraints.Complexity)
	assert.Equal(t, 1, c.ActiveCount())
	assert.NotEmpty(t, c.ViolationsFor("team-manager-w1"))
}

func TestMonitorResourceUsage(t *testing.T) {
	c := newTestControl()
	c.RegisterTask("t1", "w1", "test-writer", "Add unit tests for the calculateTotal function")

	// Simple class: 1 MiB workspace, 10 files.
	violations := c.MonitorResourceUsage("t1", Usage{TotalSize: 2 * mib, FileCount: 12})
	require.Len(t, violations, 2)

	byType := map[string]Violation{}
	for _, v := range violations {
		byType[v.Type] = v
	}
	assert.Equal(t, SeverityCritical, byType[ViolationWorkspaceSize].Severity)
	assert.Equal(t, SeverityWarning, byType[ViolationFileCount].Severity)

	// Unknown task: nothing to report.
	assert.Nil(t, c.MonitorResourceUsage("missing", Usage{TotalSize: 1}))
}

func TestDetectOverEngineering(t *testing.T) {
	c := newTestControl()
	c.RegisterTask("t1", "w1", "backend-developer", "Implement the parser component")

	lines := []string{
		"Setting up the microservice skeleton",
		"Adding an api gateway in front",
		"Wiring the load balancer",
	}
	violations := c.DetectOverEngineering("t1", lines)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationInfraComplexity, violations[0].Type)
	assert.Equal(t, SeverityCritical, violations[0].Severity)
	assert.Len(t, violations[0].Matches, 3)

	// Component inflation needs at least two pattern hits.
	lines = []string{
		"created 14 components so far",
		"implementing 9 endpoints next",
	}
	violations = c.DetectOverEngineering("t2", lines)
	require.Len(t, violations, 1)
	assert.Equal(t, ViolationComponentCount, violations[0].Type)
	assert.Equal(t, SeverityWarning, violations[0].Severity)

	// Two indicators are below the infrastructure threshold.
	violations = c.DetectOverEngineering("t3", []string{"framework", "middleware"})
	assert.Empty(t, violations)
}

func TestShouldAutoStop(t *testing.T) {
	c := newTestControl()
	c.RegisterTask("t1", "w1", "backend-developer", "Implement the parser component")

	// Within limits: no stop.
	decision := c.ShouldAutoStop("t1", Usage{TotalSize: 1024, FileCount: 1})
	assert.False(t, decision.ShouldStop)

	// Critical over-engineering triggers the stop.
	c.DetectOverEngineering("t1", []string{
		"microservice", "api gateway", "load balancer", "authentication system", "database schema",
	})
	decision = c.ShouldAutoStop("t1", Usage{TotalSize: 1024, FileCount: 1})
	assert.True(t, decision.ShouldStop)
	assert.NotEmpty(t, decision.Reason)

	// Unknown tasks never auto-stop.
	assert.False(t, c.ShouldAutoStop("missing", Usage{}).ShouldStop)
}

func TestCompleteTaskPreservesHistory(t *testing.T) {
	c := newTestControl()
	c.RegisterTask("t1", "w1", "backend-developer", "Build the full distributed system")
	require.Equal(t, 1, c.ActiveCount())

	c.CompleteTask("t1")
	assert.Equal(t, 0, c.ActiveCount())
	assert.NotEmpty(t, c.ViolationsFor("t1"))
}

func TestScopedSpecificationsBanner(t *testing.T) {
	constraints := ConstraintsFor(Complex)
	out := ScopedSpecifications("Build the integration", constraints)

	assert.True(t, strings.HasPrefix(out, "Build the integration"))
	assert.Contains(t, out, "=== SCOPE CONSTRAINTS ===")
	assert.Contains(t, out, "max_workspace_size: 15 MiB")
	assert.Contains(t, out, "max_execution_time: 20 minutes")
	assert.Contains(t, out, "max_team_size: 4 agents")
	assert.Contains(t, out, "success_criteria:")
}
