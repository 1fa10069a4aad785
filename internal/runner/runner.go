// Package runner drains the engine's pending-task queue, spawning one
// worker subprocess per task under a concurrency cap and signalling
// completion when each worker exits.
package runner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swarmd/swarmd/internal/common/config"
	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/store"
)

// Orchestrator is the engine contract the runner consumes.
type Orchestrator interface {
	GetPendingTasks(agentType string) *engine.PendingTasksResult
	GetWorkflowStatus(ctx context.Context, workflowID string) (*engine.WorkflowStatusResult, error)
	SignalCompletion(ctx context.Context, req engine.CompletionRequest) (*engine.CompletionResult, error)
}

// terminalStatuses are workflow states that must not spawn new workers.
var terminalStatuses = map[string]bool{
	store.WorkflowFailed:    true,
	store.WorkflowCompleted: true,
	store.WorkflowStale:     true,
	store.WorkflowApproved:  true,
}

// runningAgent tracks one spawned worker subprocess.
type runningAgent struct {
	cmd        *exec.Cmd
	workflowID string
	agentType  string
	startTime  time.Time
	deadline   *time.Timer
	timedOut   bool
}

// Runner polls the engine and manages worker subprocesses.
type Runner struct {
	engine  Orchestrator
	cfg     config.RunnerConfig
	logger  *logger.Logger
	tempDir string

	mu      sync.Mutex
	running map[string]*runningAgent

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a runner. Prompts are materialized under a process-scoped
// temp directory.
func New(orch Orchestrator, cfg config.RunnerConfig, log *logger.Logger) (*Runner, error) {
	tempDir, err := os.MkdirTemp("", "swarmd-prompts-")
	if err != nil {
		return nil, fmt.Errorf("failed to create prompt directory: %w", err)
	}
	return &Runner{
		engine:  orch,
		cfg:     cfg,
		logger:  log.WithComponent("runner"),
		tempDir: tempDir,
		running: make(map[string]*runningAgent),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start launches the poll loop. It stops when Stop is called or the
// context is cancelled.
func (r *Runner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.PollInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.Poll(ctx)
			}
		}
	}()
}

// Poll runs one drain cycle: compute free slots, take pending tasks in
// FIFO order, revalidate each workflow, and spawn.
func (r *Runner) Poll(ctx context.Context) {
	r.mu.Lock()
	available := r.cfg.MaxConcurrent - len(r.running)
	r.mu.Unlock()
	if available <= 0 {
		return
	}

	pending := r.engine.GetPendingTasks("")
	for _, task := range pending.Tasks {
		if available <= 0 {
			return
		}
		// Pending entries persist until signalCompletion; skip ones we
		// already spawned.
		r.mu.Lock()
		_, alreadyRunning := r.running[task.TaskID]
		r.mu.Unlock()
		if alreadyRunning {
			continue
		}

		if !r.shouldSpawn(ctx, task) {
			continue
		}
		if err := r.spawn(ctx, task); err != nil {
			r.logger.Error("failed to spawn worker",
				zap.String("task_id", task.TaskID),
				zap.Error(err))
			continue
		}
		available--
	}
}

// shouldSpawn revalidates workflow liveness. Missing workflows and
// terminal statuses skip the spawn; infrastructure errors fail open.
func (r *Runner) shouldSpawn(ctx context.Context, task *engine.PendingTask) bool {
	status, err := r.engine.GetWorkflowStatus(ctx, task.WorkflowID)
	if err != nil {
		if apperrors.IsValidation(err) {
			r.logger.Warn("skipping task for missing workflow",
				zap.String("task_id", task.TaskID),
				zap.String("workflow_id", task.WorkflowID))
			return false
		}
		r.logger.Warn("workflow status check failed, proceeding",
			zap.String("task_id", task.TaskID),
			zap.Error(err))
		return true
	}
	if terminalStatuses[status.Workflow.Status] {
		r.logger.Info("skipping task for terminal workflow",
			zap.String("task_id", task.TaskID),
			zap.String("status", status.Workflow.Status))
		return false
	}
	return true
}

// spawn materializes the prompt, starts the worker with no shell
// interpretation, and attaches the exit handler and scope deadline.
func (r *Runner) spawn(ctx context.Context, task *engine.PendingTask) error {
	if len(r.cfg.WorkerCommand) == 0 {
		return fmt.Errorf("no worker command configured")
	}

	promptFile, err := os.CreateTemp(r.tempDir, task.TaskID+"-*.prompt")
	if err != nil {
		return fmt.Errorf("failed to create prompt file: %w", err)
	}
	if _, err := promptFile.WriteString(task.Prompt); err != nil {
		promptFile.Close()
		return fmt.Errorf("failed to write prompt file: %w", err)
	}
	if err := promptFile.Close(); err != nil {
		return fmt.Errorf("failed to close prompt file: %w", err)
	}

	argv := append(append([]string(nil), r.cfg.WorkerCommand...), promptFile.Name())
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(),
		"SWARMD_WORKFLOW_ID="+task.WorkflowID,
		"SWARMD_AGENT_TYPE="+task.AgentType,
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	agent := &runningAgent{
		cmd:        cmd,
		workflowID: task.WorkflowID,
		agentType:  task.AgentType,
		startTime:  time.Now().UTC(),
	}

	r.mu.Lock()
	r.running[task.TaskID] = agent
	r.mu.Unlock()

	// Scope deadline: soft-kill so the exit handler records a failure.
	if task.ScopeConstraints.MaxExecutionTime > 0 {
		agent.deadline = time.AfterFunc(task.ScopeConstraints.MaxExecutionTime, func() {
			r.mu.Lock()
			agent.timedOut = true
			r.mu.Unlock()
			r.logger.Warn("task exceeded max execution time, terminating",
				zap.String("task_id", task.TaskID))
			_ = cmd.Process.Signal(syscall.SIGTERM)
		})
	}

	r.logger.Info("worker spawned",
		zap.String("task_id", task.TaskID),
		zap.Int("pid", cmd.Process.Pid))

	r.wg.Add(1)
	go r.waitForExit(task, agent)
	return nil
}

// waitForExit blocks on the worker, unregisters it, and signals completion.
// The running entry is removed before the completion call.
func (r *Runner) waitForExit(task *engine.PendingTask, agent *runningAgent) {
	defer r.wg.Done()
	err := agent.cmd.Wait()
	duration := time.Since(agent.startTime)

	r.mu.Lock()
	timedOut := agent.timedOut
	delete(r.running, task.TaskID)
	r.mu.Unlock()
	if agent.deadline != nil {
		agent.deadline.Stop()
	}

	req := engine.CompletionRequest{
		AgentID:    task.TaskID,
		WorkflowID: task.WorkflowID,
		Metadata:   map[string]string{"duration": duration.Round(time.Millisecond).String()},
	}
	switch {
	case timedOut:
		req.Result = "worker terminated: exceeded max execution time"
		req.Status = store.WorkflowFailed
	case err != nil:
		req.Result = fmt.Sprintf("worker failed: %v", err)
		req.Status = store.WorkflowFailed
	default:
		req.Result = "ok"
	}

	if _, sigErr := r.engine.SignalCompletion(context.Background(), req); sigErr != nil {
		r.logger.Error("failed to signal completion",
			zap.String("task_id", task.TaskID),
			zap.Error(sigErr))
	}

	r.logger.Info("worker exited",
		zap.String("task_id", task.TaskID),
		zap.Duration("duration", duration),
		zap.Bool("success", err == nil && !timedOut))
}

// RunningCount returns the number of tracked workers.
func (r *Runner) RunningCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Stop cancels the poll loop, soft-kills all workers, waits up to the
// shutdown grace period, then force-kills survivors.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })

	r.mu.Lock()
	for taskID, agent := range r.running {
		r.logger.Info("terminating worker", zap.String("task_id", taskID))
		_ = agent.cmd.Process.Signal(syscall.SIGTERM)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(r.cfg.ShutdownGrace()):
		r.mu.Lock()
		for taskID, agent := range r.running {
			r.logger.Warn("force-killing worker", zap.String("task_id", taskID))
			_ = agent.cmd.Process.Kill()
		}
		r.mu.Unlock()
		<-done
	}

	if err := os.RemoveAll(r.tempDir); err != nil {
		r.logger.Debug("failed to remove prompt directory", zap.Error(err))
	}
}
