package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swarmd/swarmd/internal/common/config"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/events/bus"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/prompts"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	log, _ := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	st := store.NewMemoryStore()
	eventBus := bus.NewMemoryEventBus(log)
	renderer, err := prompts.NewRenderer()
	require.NoError(t, err)
	eng := engine.New(
		st,
		scope.NewControl(log),
		memory.NewService(st, nil, log),
		nil,
		renderer,
		eventBus,
		config.EngineConfig{MaxWorkflows: 50, EventIntervalSeconds: 5, CleanupIntervalMinutes: 5,
			StaleThresholdMinutes: 120, RetentionDays: 7, ApprovedCleanupDelay: 15},
		log,
	)
	t.Cleanup(eng.Stop)
	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5, WriteTimeout: 5}, eng, eventBus, log)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	_, err := srv.engine.LaunchAgent(context.Background(), engine.LaunchRequest{
		AgentType:      "test-writer",
		Specifications: "Add tests for the formatter function",
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var status engine.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Workflows[store.WorkflowActive])
	assert.Equal(t, 1, status.PendingTasks)
}
