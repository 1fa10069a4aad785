package rpcserver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/store"
	"github.com/swarmd/swarmd/internal/workspace"
)

func registerTools(s *server.MCPServer, deps Deps, log *logger.Logger) {
	s.AddTool(
		mcp.NewTool("launch_agent",
			mcp.WithDescription("Queue an agent task: scope admission, workflow persistence, optional workspace creation and prompt composition."),
			mcp.WithString("agent_type",
				mcp.Required(),
				mcp.Description("Agent role, e.g. team-manager or backend-developer"),
			),
			mcp.WithString("specifications",
				mcp.Required(),
				mcp.Description("What the agent must deliver"),
			),
			mcp.WithString("workflow_id",
				mcp.Description("Existing workflow to attach to; a new one is created when omitted"),
			),
			mcp.WithObject("workspace_config",
				mcp.Description("When present, a git worktree is created for the agent; may carry base_ref"),
			),
		),
		launchAgentHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("get_pending_tasks",
			mcp.WithDescription("List queued agent tasks in FIFO order."),
			mcp.WithString("agent_type",
				mcp.Description("Filter by agent role"),
			),
			mcp.WithString("priority",
				mcp.Description("Advisory filter, ignored by the core queue"),
			),
		),
		getPendingTasksHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("signal_completion",
			mcp.WithDescription("Record a worker's exit: removes the pending task, finalizes the workflow and releases the role."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Task id of the finished agent, agent_type-workflow_id"),
			),
			mcp.WithString("result",
				mcp.Required(),
				mcp.Description("Outcome summary"),
			),
			mcp.WithString("workflow_id",
				mcp.Description("Workflow id; derived from the pending task when omitted"),
			),
			mcp.WithArray("artifacts",
				mcp.Description("Paths or identifiers the agent produced"),
			),
		),
		signalCompletionHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("create_workspace",
			mcp.WithDescription("Create a detached git worktree for an agent. Idempotent: repeats return status exists."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent identifier; sanitized into the workspace directory name"),
			),
			mcp.WithString("base_ref",
				mcp.Description("Branch, tag or commit to base the worktree on"),
			),
		),
		createWorkspaceHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("cleanup_workspace",
			mcp.WithDescription("Remove an agent's worktree. Idempotent: repeats return status not_found."),
			mcp.WithString("agent_id",
				mcp.Required(),
				mcp.Description("Agent identifier"),
			),
			mcp.WithBoolean("force",
				mcp.Description("Best-effort removal of broken worktrees"),
			),
		),
		cleanupWorkspaceHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("list_workspaces",
			mcp.WithDescription("List the worktrees under the workspaces directory."),
		),
		listWorkspacesHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("get_system_status",
			mcp.WithDescription("Report workflow counts, queue depth and optional metrics and health checks."),
			mcp.WithBoolean("include_metrics",
				mcp.Description("Include engine metrics"),
			),
			mcp.WithBoolean("include_health_checks",
				mcp.Description("Include component health probes"),
			),
		),
		getSystemStatusHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("get_workflow_status",
			mcp.WithDescription("Fetch one workflow with its handoff history."),
			mcp.WithString("workflow_id",
				mcp.Required(),
				mcp.Description("The workflow to inspect"),
			),
		),
		getWorkflowStatusHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("list_workflows",
			mcp.WithDescription("List workflows with optional status and agent type filters."),
			mcp.WithString("status",
				mcp.Description("Filter by workflow status"),
			),
			mcp.WithString("agent_type",
				mcp.Description("Filter by agent role"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum rows to return"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Rows to skip"),
			),
		),
		listWorkflowsHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("get_workflow_handoffs",
			mcp.WithDescription("List a workflow's handoffs in creation order."),
			mcp.WithString("workflow_id",
				mcp.Required(),
				mcp.Description("The workflow to inspect"),
			),
			mcp.WithBoolean("include_processed",
				mcp.Description("Include handoffs already processed"),
			),
		),
		getWorkflowHandoffsHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("detect_stale_workflows",
			mcp.WithDescription("Mark active workflows older than the threshold as stale."),
			mcp.WithNumber("threshold_minutes",
				mcp.Description("Age threshold; the configured default applies when omitted"),
			),
		),
		detectStaleWorkflowsHandler(deps, log),
	)

	s.AddTool(
		mcp.NewTool("cleanup_stale_workflows",
			mcp.WithDescription("Delete stale workflows older than the retention window."),
			mcp.WithNumber("retention_days",
				mcp.Description("Retention window; the configured default applies when omitted"),
			),
		),
		cleanupStaleWorkflowsHandler(deps, log),
	)

	log.Info("registered RPC tools", zap.Int("count", 12))
}

// recordUsage writes one tool_usage row per call. Failures never affect
// the call itself.
func recordUsage(ctx context.Context, deps Deps, log *logger.Logger, tool string) {
	if deps.Store == nil {
		return
	}
	sessionID := ""
	if session := server.ClientSessionFromContext(ctx); session != nil {
		sessionID = session.SessionID()
	}
	if err := deps.Store.RecordToolUsage(ctx, tool, sessionID); err != nil {
		log.Debug("failed to record tool usage",
			zap.String("tool", tool),
			zap.Error(err))
	}
}

// toolError renders the structured error payload carried back over RPC.
func toolError(tool string, err error) *mcp.CallToolResult {
	payload := map[string]interface{}{
		"error":     err.Error(),
		"code":      apperrors.CodeOf(err),
		"retryable": apperrors.IsRetryable(err),
		"tool":      tool,
	}
	encoded, marshalErr := json.Marshal(payload)
	if marshalErr != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultError(string(encoded))
}

func toolJSON(tool string, v interface{}) (*mcp.CallToolResult, error) {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return toolError(tool, apperrors.Unexpected(err)), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

func launchAgentHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "launch_agent")

		agentType, err := req.RequireString("agent_type")
		if err != nil {
			return toolError("launch_agent", apperrors.Validation("agent_type is required")), nil
		}
		specs, err := req.RequireString("specifications")
		if err != nil {
			return toolError("launch_agent", apperrors.Validation("specifications is required")), nil
		}

		launch := engine.LaunchRequest{
			AgentType:      agentType,
			Specifications: specs,
			WorkflowID:     req.GetString("workflow_id", ""),
		}
		if raw, ok := req.GetArguments()["workspace_config"].(map[string]interface{}); ok {
			opts := &engine.WorkspaceOptions{}
			if baseRef, ok := raw["base_ref"].(string); ok {
				opts.BaseRef = baseRef
			}
			launch.WorkspaceConfig = opts
		}

		result, err := deps.Engine.LaunchAgent(ctx, launch)
		if err != nil {
			return toolError("launch_agent", err), nil
		}
		return toolJSON("launch_agent", result)
	}
}

func getPendingTasksHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "get_pending_tasks")
		result := deps.Engine.GetPendingTasks(req.GetString("agent_type", ""))
		return toolJSON("get_pending_tasks", result)
	}
}

func signalCompletionHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "signal_completion")

		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return toolError("signal_completion", apperrors.Validation("agent_id is required")), nil
		}
		result, err := req.RequireString("result")
		if err != nil {
			return toolError("signal_completion", apperrors.Validation("result is required")), nil
		}

		completion, err := deps.Engine.SignalCompletion(ctx, engine.CompletionRequest{
			AgentID:    agentID,
			WorkflowID: req.GetString("workflow_id", ""),
			Result:     result,
			Artifacts:  req.GetStringSlice("artifacts", nil),
		})
		if err != nil {
			return toolError("signal_completion", err), nil
		}
		return toolJSON("signal_completion", completion)
	}
}

func createWorkspaceHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "create_workspace")

		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return toolError("create_workspace", apperrors.Validation("agent_id is required")), nil
		}

		result, err := deps.Workspaces.Create(ctx, workspace.CreateRequest{
			AgentID: agentID,
			BaseRef: req.GetString("base_ref", ""),
		})
		if err != nil {
			return toolError("create_workspace", err), nil
		}
		return toolJSON("create_workspace", result)
	}
}

func cleanupWorkspaceHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "cleanup_workspace")

		agentID, err := req.RequireString("agent_id")
		if err != nil {
			return toolError("cleanup_workspace", apperrors.Validation("agent_id is required")), nil
		}

		result, err := deps.Workspaces.Cleanup(ctx, agentID, req.GetBool("force", false))
		if err != nil {
			return toolError("cleanup_workspace", err), nil
		}
		return toolJSON("cleanup_workspace", result)
	}
}

func listWorkspacesHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "list_workspaces")

		workspaces, err := deps.Workspaces.List(ctx)
		if err != nil {
			return toolError("list_workspaces", err), nil
		}
		stats, err := deps.Workspaces.Stats(ctx)
		if err != nil {
			return toolError("list_workspaces", err), nil
		}
		return toolJSON("list_workspaces", map[string]interface{}{
			"workspaces": workspaces,
			"stats":      stats,
		})
	}
}

func getSystemStatusHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "get_system_status")

		status, err := deps.Engine.GetSystemStatus(ctx,
			req.GetBool("include_metrics", false),
			req.GetBool("include_health_checks", false))
		if err != nil {
			return toolError("get_system_status", err), nil
		}
		return toolJSON("get_system_status", status)
	}
}

func getWorkflowStatusHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "get_workflow_status")

		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return toolError("get_workflow_status", apperrors.Validation("workflow_id is required")), nil
		}

		status, err := deps.Engine.GetWorkflowStatus(ctx, workflowID)
		if err != nil {
			return toolError("get_workflow_status", err), nil
		}
		return toolJSON("get_workflow_status", status)
	}
}

func listWorkflowsHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "list_workflows")

		workflows, err := deps.Engine.ListWorkflows(ctx, store.WorkflowFilter{
			Status:    req.GetString("status", ""),
			AgentType: req.GetString("agent_type", ""),
			Limit:     req.GetInt("limit", 0),
			Offset:    req.GetInt("offset", 0),
		})
		if err != nil {
			return toolError("list_workflows", err), nil
		}
		return toolJSON("list_workflows", map[string]interface{}{
			"workflows": workflows,
			"count":     len(workflows),
		})
	}
}

func getWorkflowHandoffsHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "get_workflow_handoffs")

		workflowID, err := req.RequireString("workflow_id")
		if err != nil {
			return toolError("get_workflow_handoffs", apperrors.Validation("workflow_id is required")), nil
		}

		handoffs, err := deps.Engine.GetWorkflowHandoffs(ctx, workflowID, req.GetBool("include_processed", false))
		if err != nil {
			return toolError("get_workflow_handoffs", err), nil
		}
		return toolJSON("get_workflow_handoffs", map[string]interface{}{
			"workflow_id": workflowID,
			"handoffs":    handoffs,
			"count":       len(handoffs),
		})
	}
}

func detectStaleWorkflowsHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "detect_stale_workflows")

		ids, err := deps.Engine.DetectAndMarkStaleWorkflows(ctx, req.GetInt("threshold_minutes", 0))
		if err != nil {
			return toolError("detect_stale_workflows", err), nil
		}
		return toolJSON("detect_stale_workflows", map[string]interface{}{
			"marked":    ids,
			"count":     len(ids),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func cleanupStaleWorkflowsHandler(deps Deps, log *logger.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		recordUsage(ctx, deps, log, "cleanup_stale_workflows")

		deleted, err := deps.Engine.CleanupOldStaleWorkflows(ctx, req.GetInt("retention_days", 0))
		if err != nil {
			return toolError("cleanup_stale_workflows", err), nil
		}
		return toolJSON("cleanup_stale_workflows", map[string]interface{}{
			"deleted": deleted,
		})
	}
}
