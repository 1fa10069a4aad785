// Package httpapi serves the health and status endpoints plus a websocket
// feed of bus events.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/swarmd/swarmd/internal/common/config"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/events/bus"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the HTTP surface next to the RPC server.
type Server struct {
	cfg        config.ServerConfig
	engine     *engine.Engine
	bus        bus.EventBus
	httpServer *http.Server
	logger     *logger.Logger
}

// New builds the HTTP server and its routes.
func New(cfg config.ServerConfig, eng *engine.Engine, eventBus bus.EventBus, log *logger.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		engine: eng,
		bus:    eventBus,
		logger: log.WithComponent("httpapi"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.handleHealth)
	api := router.Group("/api/v1")
	{
		api.GET("/status", s.handleStatus)
	}
	router.GET("/ws/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeoutDuration(),
		WriteTimeout: cfg.WriteTimeoutDuration(),
	}
	return s
}

// Start serves until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	status, err := s.engine.GetSystemStatus(c.Request.Context(), true, true)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleEvents upgrades to a websocket and forwards every bus event until
// the client disconnects. The websocket write timeout bounds slow readers.
func (s *Server) handleEvents(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	events := make(chan *bus.Event, 64)
	sub, err := s.bus.Subscribe(">", func(ctx context.Context, event *bus.Event) error {
		select {
		case events <- event:
		default:
			// Slow consumer: drop rather than block the bus.
		}
		return nil
	})
	if err != nil {
		s.logger.Error("event subscription failed", zap.Error(err))
		return
	}
	defer func() { _ = sub.Unsubscribe() }()

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
