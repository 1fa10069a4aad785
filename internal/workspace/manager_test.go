package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swarmd/swarmd/internal/common/errors"
	"github.com/swarmd/swarmd/internal/common/logger"
)

func newTestLogger() *logger.Logger {
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	return log
}

func TestSanitizeAgentID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"test-agent-1", "test-agent-1"},
		{"agent with spaces", "agent_with_spaces"},
		{"../../../etc/passwd", "_.._.._etc_passwd"},
		{"...hidden", "hidden"},
		{"  padded  ", "padded"},
		{"@@@", "___"},
		{strings.Repeat("a", 150), strings.Repeat("a", 100)},
		{"mixed/UPPER.case_ok-1", "mixed_UPPER.case_ok-1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeAgentID(tt.in), "input %q", tt.in)
	}
}

// initTestRepo creates a git repository with one commit on main.
func initTestRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	repo := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = repo
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@test",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@test")
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644))
	run("add", ".")
	run("commit", "-m", "initial")
	return repo
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	repo := initTestRepo(t)
	mgr, err := NewManager(Config{
		Dir:            filepath.Join(t.TempDir(), "workspaces"),
		RepoPath:       repo,
		DefaultBaseRef: "main",
	}, newTestLogger())
	require.NoError(t, err)
	return mgr
}

func TestCreateAndCleanupIdempotence(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, CreateRequest{AgentID: "test-agent-1", BaseRef: "main"})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, created.Status)
	assert.DirExists(t, created.WorkspacePath)

	// Second create returns exists.
	again, err := mgr.Create(ctx, CreateRequest{AgentID: "test-agent-1", BaseRef: "main"})
	require.NoError(t, err)
	assert.Equal(t, StatusExists, again.Status)
	assert.Equal(t, created.WorkspacePath, again.WorkspacePath)

	cleaned, err := mgr.Cleanup(ctx, "test-agent-1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusCleaned, cleaned.Status)
	assert.NoDirExists(t, created.WorkspacePath)

	// Second cleanup returns not_found.
	missing, err := mgr.Cleanup(ctx, "test-agent-1", false)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, missing.Status)
}

func TestCreateInvalidBaseRef(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Create(context.Background(), CreateRequest{AgentID: "agent", BaseRef: "no-such-ref"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-ref")
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreateEmptyAgentID(t *testing.T) {
	mgr := newTestManager(t)

	_, err := mgr.Create(context.Background(), CreateRequest{AgentID: "...", BaseRef: "main"})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestCreateOutsideGitRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
	mgr, err := NewManager(Config{
		Dir:      filepath.Join(t.TempDir(), "workspaces"),
		RepoPath: t.TempDir(), // not a repository
	}, newTestLogger())
	require.NoError(t, err)

	_, err = mgr.Create(context.Background(), CreateRequest{AgentID: "agent", BaseRef: "main"})
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeGitRepositoryInval, apperrors.CodeOf(err))
}

func TestListAndStats(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, CreateRequest{AgentID: "agent-a", BaseRef: "main"})
	require.NoError(t, err)
	_, err = mgr.Create(ctx, CreateRequest{AgentID: "agent-b", BaseRef: "main"})
	require.NoError(t, err)

	workspaces, err := mgr.List(ctx)
	require.NoError(t, err)
	assert.Len(t, workspaces, 2)
	for _, ws := range workspaces {
		assert.NotEmpty(t, ws.HeadCommit)
	}

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.LocalDirs)
	assert.Greater(t, stats.TotalSizeBytes, int64(0))
	// Listing includes the primary working tree.
	assert.GreaterOrEqual(t, stats.Worktrees, 3)
}

func TestUsage(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, CreateRequest{AgentID: "agent-u", BaseRef: "main"})
	require.NoError(t, err)

	size, files, depth, err := mgr.Usage(ctx, "agent-u")
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
	assert.GreaterOrEqual(t, files, 1)
	assert.GreaterOrEqual(t, depth, 1)
}

func TestForcedCleanupOfBrokenWorkspace(t *testing.T) {
	mgr := newTestManager(t)
	ctx := context.Background()

	created, err := mgr.Create(ctx, CreateRequest{AgentID: "agent-x", BaseRef: "main"})
	require.NoError(t, err)

	// Break the worktree so the managed removal path degrades.
	require.NoError(t, os.Remove(filepath.Join(created.WorkspacePath, ".git")))

	cleaned, err := mgr.Cleanup(ctx, "agent-x", true)
	require.NoError(t, err)
	assert.Equal(t, StatusCleaned, cleaned.Status)
	assert.NoDirExists(t, created.WorkspacePath)
}
