// Package engine implements the orchestration core: workflow and handoff
// state, the pending-task queue, scope-guarded agent launches, and the
// periodic handoff and cleanup processors.
package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swarmd/swarmd/internal/common/config"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/events/bus"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
	"github.com/swarmd/swarmd/internal/workspace"
)

// MemoryStore is the memory contract the engine consumes.
type MemoryStore interface {
	Store(ctx context.Context, req memory.StoreRequest) (*memory.StoreResult, error)
	Retrieve(ctx context.Context, req memory.RetrieveRequest) (*memory.RetrieveResult, error)
}

// WorkspaceManager is the workspace contract the engine consumes.
type WorkspaceManager interface {
	Create(ctx context.Context, req workspace.CreateRequest) (*workspace.CreateResult, error)
	Cleanup(ctx context.Context, agentID string, force bool) (*workspace.CleanupResult, error)
}

// PromptRenderer composes the role-dependent task prompt.
type PromptRenderer interface {
	Render(agentType, specifications string) (string, error)
}

// Engine owns workflows, handoffs and the pending-task queue. It holds
// references to the memory store and workspace manager; neither holds a
// reference back.
type Engine struct {
	store      store.Store
	scope      *scope.Control
	memory     MemoryStore
	workspaces WorkspaceManager
	prompts    PromptRenderer
	bus        bus.EventBus
	cfg        config.EngineConfig
	logger     *logger.Logger

	pendingMu sync.Mutex
	pending   []*PendingTask

	rolesMu sync.Mutex
	roles   map[string]map[string]bool // workflow id -> active agent types

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates an engine. All collaborators are required except memory and
// workspaces, which may be nil in reduced deployments.
func New(
	st store.Store,
	sc *scope.Control,
	mem MemoryStore,
	ws WorkspaceManager,
	pr PromptRenderer,
	eventBus bus.EventBus,
	cfg config.EngineConfig,
	log *logger.Logger,
) *Engine {
	return &Engine{
		store:      st,
		scope:      sc,
		memory:     mem,
		workspaces: ws,
		prompts:    pr,
		bus:        eventBus,
		cfg:        cfg,
		logger:     log.WithComponent("engine"),
		roles:      make(map[string]map[string]bool),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the handoff processor and the cleanup sweeper. Both stop
// when Stop is called or the context is cancelled.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(2)
	go e.runTicker(ctx, e.cfg.EventInterval(), func(tickCtx context.Context) {
		if err := e.ProcessPendingEvents(tickCtx); err != nil {
			e.logger.Error("handoff processing failed", zap.Error(err))
		}
	})
	go e.runTicker(ctx, e.cfg.CleanupInterval(), func(tickCtx context.Context) {
		e.ProcessScheduledCleanups(tickCtx)
		if _, err := e.DetectAndMarkStaleWorkflows(tickCtx, e.cfg.StaleThresholdMinutes); err != nil {
			e.logger.Error("stale detection failed", zap.Error(err))
		}
		if _, err := e.CleanupOldStaleWorkflows(tickCtx, e.cfg.RetentionDays); err != nil {
			e.logger.Error("stale retention sweep failed", zap.Error(err))
		}
	})
}

func (e *Engine) runTicker(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// Stop cancels the periodic processors and waits for them to drain.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

// emit publishes an event, logging delivery failures. The bus is never on
// the critical path of an operation.
func (e *Engine) emit(ctx context.Context, subject string, data map[string]interface{}) {
	if e.bus == nil {
		return
	}
	event := bus.NewEvent(subject, "engine", data)
	if err := e.bus.Publish(ctx, subject, event); err != nil {
		e.logger.Warn("event publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// registerRole atomically checks and inserts a role for a workflow. It
// returns false plus the existing role set when the role is already active.
func (e *Engine) registerRole(workflowID, agentType string) (bool, []string) {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()

	set, ok := e.roles[workflowID]
	if !ok {
		set = make(map[string]bool)
		e.roles[workflowID] = set
	}
	if set[agentType] {
		existing := make([]string, 0, len(set))
		for role := range set {
			existing = append(existing, role)
		}
		return false, existing
	}
	set[agentType] = true
	return true, nil
}

// releaseRole removes a role from a workflow's registry, dropping the set
// when it empties.
func (e *Engine) releaseRole(workflowID, agentType string) {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()
	if set, ok := e.roles[workflowID]; ok {
		delete(set, agentType)
		if len(set) == 0 {
			delete(e.roles, workflowID)
		}
	}
}

// activeRoles returns a snapshot of a workflow's active role set.
func (e *Engine) activeRoles(workflowID string) []string {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()
	set := e.roles[workflowID]
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	return roles
}

// dropWorkflowRoles removes a workflow's whole role set.
func (e *Engine) dropWorkflowRoles(workflowID string) {
	e.rolesMu.Lock()
	defer e.rolesMu.Unlock()
	delete(e.roles, workflowID)
}

func (e *Engine) appendPending(task *PendingTask) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	e.pending = append(e.pending, task)
}

// removePending removes the first pending task for the workflow and returns
// it, with the count of removed entries (0 or 1).
func (e *Engine) removePending(workflowID, agentType string) (*PendingTask, int) {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for i, task := range e.pending {
		if task.WorkflowID != workflowID {
			continue
		}
		if agentType != "" && task.AgentType != agentType {
			continue
		}
		e.pending = append(e.pending[:i], e.pending[i+1:]...)
		return task, 1
	}
	return nil, 0
}

func (e *Engine) pendingSnapshot(agentType string) []*PendingTask {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	tasks := make([]*PendingTask, 0, len(e.pending))
	for _, task := range e.pending {
		if agentType != "" && task.AgentType != agentType {
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks
}

func (e *Engine) pendingCount() int {
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	return len(e.pending)
}
