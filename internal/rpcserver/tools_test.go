package rpcserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/swarmd/internal/common/config"
	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/events/bus"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/prompts"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
)

func newTestDeps(t *testing.T) (Deps, *store.MemoryStore) {
	t.Helper()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	st := store.NewMemoryStore()
	renderer, err := prompts.NewRenderer()
	require.NoError(t, err)
	eng := engine.New(
		st,
		scope.NewControl(log),
		memory.NewService(st, nil, log),
		nil,
		renderer,
		bus.NewMemoryEventBus(log),
		config.EngineConfig{MaxWorkflows: 50, EventIntervalSeconds: 5, CleanupIntervalMinutes: 5,
			StaleThresholdMinutes: 120, RetentionDays: 7, ApprovedCleanupDelay: 15},
		log,
	)
	t.Cleanup(eng.Stop)
	return Deps{Engine: eng, Store: st, Logger: log}, st
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := mcp.AsTextContent(result.Content[0])
	require.True(t, ok)
	return text.Text
}

func TestLaunchAgentTool(t *testing.T) {
	deps, st := newTestDeps(t)
	log := deps.Logger
	handler := launchAgentHandler(deps, log)

	result, err := handler(context.Background(), callRequest("launch_agent", map[string]interface{}{
		"agent_type":     "test-writer",
		"specifications": "Add unit tests for the calculateTotal function",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var launch engine.LaunchResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &launch))
	assert.Equal(t, engine.StatusQueued, launch.Status)
	assert.NotEmpty(t, launch.WorkflowID)

	// One tool_usage row per call.
	assert.Len(t, st.ToolCalls(), 1)
}

func TestLaunchAgentToolMissingArgs(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := launchAgentHandler(deps, deps.Logger)

	result, err := handler(context.Background(), callRequest("launch_agent", map[string]interface{}{
		"agent_type": "test-writer",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
	assert.Equal(t, apperrors.CodeValidation, payload["code"])
	assert.Equal(t, false, payload["retryable"])
	assert.Equal(t, "launch_agent", payload["tool"])
}

func TestSignalCompletionTool(t *testing.T) {
	deps, _ := newTestDeps(t)
	launch := launchAgentHandler(deps, deps.Logger)
	complete := signalCompletionHandler(deps, deps.Logger)

	result, err := launch(context.Background(), callRequest("launch_agent", map[string]interface{}{
		"agent_type":     "test-writer",
		"specifications": "Add tests for the parser function",
		"workflow_id":    "W1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = complete(context.Background(), callRequest("signal_completion", map[string]interface{}{
		"agent_id":    "test-writer-W1",
		"workflow_id": "W1",
		"result":      "ok",
		"artifacts":   []interface{}{"parser_test.go"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var completion engine.CompletionResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &completion))
	assert.Equal(t, store.WorkflowCompleted, completion.Status)
	assert.Equal(t, 1, completion.TasksRemoved)
}

func TestGetWorkflowStatusToolUnknownWorkflow(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := getWorkflowStatusHandler(deps, deps.Logger)

	result, err := handler(context.Background(), callRequest("get_workflow_status", map[string]interface{}{
		"workflow_id": "missing",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &payload))
	assert.Equal(t, apperrors.CodeValidation, payload["code"])
}

func TestGetPendingTasksTool(t *testing.T) {
	deps, _ := newTestDeps(t)
	launch := launchAgentHandler(deps, deps.Logger)
	pending := getPendingTasksHandler(deps, deps.Logger)

	_, err := launch(context.Background(), callRequest("launch_agent", map[string]interface{}{
		"agent_type":     "backend-developer",
		"specifications": "Fix the rounding function with tests",
	}))
	require.NoError(t, err)

	result, err := pending(context.Background(), callRequest("get_pending_tasks", map[string]interface{}{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var tasks engine.PendingTasksResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &tasks))
	assert.Equal(t, 1, tasks.Count)
}

func TestSystemStatusTool(t *testing.T) {
	deps, _ := newTestDeps(t)
	handler := getSystemStatusHandler(deps, deps.Logger)

	result, err := handler(context.Background(), callRequest("get_system_status", map[string]interface{}{
		"include_metrics":       true,
		"include_health_checks": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var status engine.SystemStatus
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &status))
	assert.NotNil(t, status.Workflows)
	assert.Len(t, status.HealthChecks, 2)
}
