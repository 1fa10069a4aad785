// Package main is the swarmd entry point. One binary runs the
// orchestration engine, the agent runner, the RPC tool server and the
// HTTP API with shared infrastructure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/swarmd/swarmd/internal/common/config"
	"github.com/swarmd/swarmd/internal/common/logger"
	"github.com/swarmd/swarmd/internal/db"
	"github.com/swarmd/swarmd/internal/engine"
	"github.com/swarmd/swarmd/internal/events"
	"github.com/swarmd/swarmd/internal/httpapi"
	"github.com/swarmd/swarmd/internal/memory"
	"github.com/swarmd/swarmd/internal/prompts"
	"github.com/swarmd/swarmd/internal/rpcserver"
	"github.com/swarmd/swarmd/internal/runner"
	"github.com/swarmd/swarmd/internal/scope"
	"github.com/swarmd/swarmd/internal/store"
	"github.com/swarmd/swarmd/internal/workspace"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting swarmd...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provided, busCleanup, err := events.Provide(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()

	pool, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	repo, err := store.NewRepository(pool)
	if err != nil {
		log.Fatal("Failed to initialize persistence", zap.Error(err))
	}

	workspaces, err := workspace.NewManager(workspace.Config{
		Dir:            cfg.Workspace.Dir,
		RepoPath:       cfg.Workspace.RepoPath,
		DefaultBaseRef: cfg.Workspace.DefaultBaseRef,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize workspace manager", zap.Error(err))
	}

	renderer, err := prompts.NewRenderer()
	if err != nil {
		log.Fatal("Failed to load prompt templates", zap.Error(err))
	}

	memoryService := memory.NewService(repo, nil, log)
	scopeControl := scope.NewControl(log)

	eng := engine.New(repo, scopeControl, memoryService, workspaces, renderer,
		provided.Bus, cfg.Engine, log)
	eng.Start(ctx)
	defer eng.Stop()

	agentRunner, err := runner.New(eng, cfg.Runner, log)
	if err != nil {
		log.Fatal("Failed to initialize agent runner", zap.Error(err))
	}
	agentRunner.Start(ctx)
	defer agentRunner.Stop()

	httpServer := httpapi.New(cfg.Server, eng, provided.Bus, log)

	var rpcServer *rpcserver.Server
	if cfg.RPC.Enabled {
		rpcServer = rpcserver.New(rpcserver.Config{Port: cfg.RPC.Port}, rpcserver.Deps{
			Engine:     eng,
			Workspaces: workspaces,
			Store:      repo,
			Logger:     log,
		})
		if err := rpcServer.Start(ctx); err != nil {
			log.Fatal("Failed to start RPC server", zap.Error(err))
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(httpServer.Start)
	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	log.Info("swarmd ready",
		zap.Int("http_port", cfg.Server.Port),
		zap.Bool("rpc_enabled", cfg.RPC.Enabled))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case <-groupCtx.Done():
		log.Info("Server stopped")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if rpcServer != nil {
		if err := rpcServer.Stop(shutdownCtx); err != nil {
			log.Warn("RPC server shutdown failed", zap.Error(err))
		}
	}
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown failed", zap.Error(err))
	}
	cancel()
	if err := group.Wait(); err != nil {
		log.Warn("Server exited with error", zap.Error(err))
	}

	log.Info("swarmd stopped")
}
