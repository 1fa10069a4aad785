// Package workspace manages per-agent git worktrees rooted at a shared
// source repository. Creation and cleanup are idempotent; the same
// sanitized path is never operated on concurrently.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
)

// Create/cleanup result statuses.
const (
	StatusCreated  = "created"
	StatusExists   = "exists"
	StatusCleaned  = "cleaned"
	StatusNotFound = "not_found"
)

// Sentinel errors.
var (
	ErrGitCommandFailed = errors.New("git command failed")
)

// Config holds workspace manager configuration.
type Config struct {
	Dir            string // root directory for per-agent worktrees
	RepoPath       string // source repository the worktrees are created from
	DefaultBaseRef string
}

// CreateRequest asks for a workspace for one agent.
type CreateRequest struct {
	AgentID string
	BaseRef string
}

// CreateResult reports the outcome of Create.
type CreateResult struct {
	Status        string `json:"status"`
	AgentID       string `json:"agent_id"`
	WorkspacePath string `json:"workspace_path"`
	BaseRef       string `json:"base_ref"`
}

// CleanupResult reports the outcome of Cleanup.
type CleanupResult struct {
	Status        string `json:"status"`
	WorkspacePath string `json:"workspace_path"`
}

// Workspace describes one entry of the working-tree listing.
type Workspace struct {
	Path       string `json:"path"`
	Branch     string `json:"branch,omitempty"`
	HeadCommit string `json:"head_commit,omitempty"`
	Bare       bool   `json:"bare,omitempty"`
}

// Stats aggregates workspace accounting.
type Stats struct {
	Worktrees      int   `json:"worktrees"`
	LocalDirs      int   `json:"local_dirs"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Manager creates and destroys per-agent worktrees.
type Manager struct {
	config    Config
	logger    *logger.Logger
	pathLocks map[string]*sync.Mutex
	lockMu    sync.Mutex
}

// NewManager creates a workspace manager.
func NewManager(cfg Config, log *logger.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("workspace dir is required")
	}
	if cfg.RepoPath == "" {
		return nil, fmt.Errorf("repository path is required")
	}
	if log == nil {
		log = logger.Default()
	}
	return &Manager{
		config:    cfg,
		logger:    log.WithComponent("workspace-manager"),
		pathLocks: make(map[string]*sync.Mutex),
	}, nil
}

// getPathLock returns the mutex serializing operations on one workspace path.
func (m *Manager) getPathLock(path string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	if lock, exists := m.pathLocks[path]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	m.pathLocks[path] = lock
	return lock
}

// Create builds a detached worktree for the agent. Repeated calls for the
// same agent id return status "exists".
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	sanitized := SanitizeAgentID(req.AgentID)
	if sanitized == "" {
		return nil, apperrors.Validation("agent_id %q sanitizes to an empty identifier", req.AgentID)
	}

	workspacePath := filepath.Join(m.config.Dir, sanitized)
	lock := m.getPathLock(workspacePath)
	lock.Lock()
	defer lock.Unlock()

	if !m.isGitRepo(m.config.RepoPath) {
		return nil, apperrors.GitRepositoryInvalid(m.config.RepoPath, nil)
	}

	if err := os.MkdirAll(m.config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspaces directory: %w", err)
	}

	baseRef := req.BaseRef
	if baseRef == "" {
		baseRef = m.config.DefaultBaseRef
	}

	if _, err := os.Stat(workspacePath); err == nil {
		return &CreateResult{
			Status:        StatusExists,
			AgentID:       sanitized,
			WorkspacePath: workspacePath,
			BaseRef:       baseRef,
		}, nil
	}

	if !m.refResolves(ctx, baseRef) {
		return nil, apperrors.Validation("base_ref %q does not resolve to a branch, tag or commit", baseRef)
	}

	// Detached worktree: no new branch, HEAD pinned at base_ref.
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", workspacePath, baseRef)
	cmd.Dir = m.config.RepoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Error("git worktree add failed",
			zap.String("output", string(output)),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}

	if err := m.verifyWorkspace(ctx, workspacePath); err != nil {
		// Rollback: creation is all-or-nothing.
		if cleanupErr := m.removeWorkspaceDir(ctx, workspacePath); cleanupErr != nil {
			m.logger.Warn("failed to clean partial workspace",
				zap.String("path", workspacePath),
				zap.Error(cleanupErr))
		}
		return nil, fmt.Errorf("workspace verification failed: %w", err)
	}

	m.logger.Info("created workspace",
		zap.String("agent_id", sanitized),
		zap.String("path", workspacePath),
		zap.String("base_ref", baseRef))

	return &CreateResult{
		Status:        StatusCreated,
		AgentID:       sanitized,
		WorkspacePath: workspacePath,
		BaseRef:       baseRef,
	}, nil
}

// Cleanup removes the agent's workspace. Repeated calls return "not_found".
// Under force, removal is best-effort: stale references are pruned and the
// directory removed directly when the managed removal fails.
func (m *Manager) Cleanup(ctx context.Context, agentID string, force bool) (*CleanupResult, error) {
	sanitized := SanitizeAgentID(agentID)
	if sanitized == "" {
		return nil, apperrors.Validation("agent_id %q sanitizes to an empty identifier", agentID)
	}

	workspacePath := filepath.Join(m.config.Dir, sanitized)
	lock := m.getPathLock(workspacePath)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(workspacePath); os.IsNotExist(err) {
		return &CleanupResult{Status: StatusNotFound, WorkspacePath: workspacePath}, nil
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, workspacePath)
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.config.RepoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		if !force {
			return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
		}
		m.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("output", string(output)),
			zap.Error(err))
		if err := os.RemoveAll(workspacePath); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = m.config.RepoPath
		if err := prune.Run(); err != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}

	m.logger.Info("cleaned workspace",
		zap.String("agent_id", sanitized),
		zap.String("path", workspacePath))

	return &CleanupResult{Status: StatusCleaned, WorkspacePath: workspacePath}, nil
}

// List parses the working-tree listing and returns the entries rooted
// under the workspaces directory.
func (m *Manager) List(ctx context.Context) ([]*Workspace, error) {
	all, err := m.listWorktrees(ctx)
	if err != nil {
		return nil, err
	}

	absDir, err := filepath.Abs(m.config.Dir)
	if err != nil {
		absDir = m.config.Dir
	}

	var result []*Workspace
	for _, ws := range all {
		if strings.HasPrefix(ws.Path, absDir+string(os.PathSeparator)) {
			result = append(result, ws)
		}
	}
	return result, nil
}

// Stats counts worktrees, local subdirectories and total on-disk bytes.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	worktrees, err := m.listWorktrees(ctx)
	if err != nil {
		return nil, err
	}
	stats.Worktrees = len(worktrees)

	entries, err := os.ReadDir(m.config.Dir)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			stats.LocalDirs++
		}
	}

	err = filepath.WalkDir(m.config.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				stats.TotalSizeBytes += info.Size()
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return stats, nil
}

// Usage returns the on-disk size, file count and maximum directory depth of
// one agent's workspace, for scope resource monitoring.
func (m *Manager) Usage(ctx context.Context, agentID string) (totalSize int64, fileCount, maxDepth int, err error) {
	sanitized := SanitizeAgentID(agentID)
	if sanitized == "" {
		return 0, 0, 0, apperrors.Validation("agent_id %q sanitizes to an empty identifier", agentID)
	}
	root := filepath.Join(m.config.Dir, sanitized)

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr == nil && rel != "." {
			depth := strings.Count(rel, string(os.PathSeparator)) + 1
			if depth > maxDepth {
				maxDepth = depth
			}
		}
		if d.Type().IsRegular() {
			fileCount++
			if info, err := d.Info(); err == nil {
				totalSize += info.Size()
			}
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return 0, 0, 0, walkErr
	}
	return totalSize, fileCount, maxDepth, nil
}

// listWorktrees parses `git worktree list --porcelain` into Workspace tuples.
func (m *Manager) listWorktrees(ctx context.Context) ([]*Workspace, error) {
	cmd := exec.CommandContext(ctx, "git", "worktree", "list", "--porcelain")
	cmd.Dir = m.config.RepoPath
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}

	var result []*Workspace
	current := &Workspace{}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			if current.Path != "" {
				result = append(result, current)
			}
			current = &Workspace{}
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.HeadCommit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch ")
		case line == "bare":
			current.Bare = true
		}
	}
	if current.Path != "" {
		result = append(result, current)
	}
	return result, nil
}

// verifyWorkspace checks the new path is a usable working tree.
func (m *Manager) verifyWorkspace(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	cmd.Dir = path
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", ErrGitCommandFailed, string(output))
	}
	return nil
}

// removeWorkspaceDir force-removes a workspace, pruning stale references.
func (m *Manager) removeWorkspaceDir(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", "--force", path)
	cmd.Dir = m.config.RepoPath
	if output, err := cmd.CombinedOutput(); err != nil {
		m.logger.Debug("git worktree remove failed, falling back to rm",
			zap.String("output", string(output)),
			zap.Error(err))
		if err := os.RemoveAll(path); err != nil {
			return err
		}
		prune := exec.CommandContext(ctx, "git", "worktree", "prune")
		prune.Dir = m.config.RepoPath
		if err := prune.Run(); err != nil {
			m.logger.Debug("git worktree prune failed", zap.Error(err))
		}
	}
	return nil
}

// isGitRepo checks if a path is a Git repository.
func (m *Manager) isGitRepo(path string) bool {
	gitDir := filepath.Join(path, ".git")
	info, err := os.Stat(gitDir)
	if err != nil {
		return false
	}
	// .git can be either a directory (regular repo) or a file (worktree)
	return info.IsDir() || info.Mode().IsRegular()
}

// refResolves checks the ref resolves to a commit (branch, tag or id).
func (m *Manager) refResolves(ctx context.Context, ref string) bool {
	if ref == "" {
		return false
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--verify", ref+"^{commit}")
	cmd.Dir = m.config.RepoPath
	return cmd.Run() == nil
}
