package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nexus/backend/internal/api"
	"nexus/backend/internal/metrics"
	"nexus/backend/internal/services"
	"nexus/backend/pkg/config"
	"nexus/backend/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...", zap.String("env", cfg.Env))

	// Initialize Neo4j
	ctx := context.Background()
	repo, closeGraph, err := services.OpenGraph(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open graph store", zap.Error(err))
	}

	// Initialize dependencies
	svc, err := services.New(cfg, repo, metrics.NewCollector("nexus"))
	if err != nil {
		_ = closeGraph(ctx)
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	svc.OnClose(closeGraph)

	srv := newServer(cfg, svc)

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := svc.Close(shutdownCtx); err != nil {
		log.Error("Failed to release resources", zap.Error(err))
	}

	log.Info("Server exited")
}

// newServer builds the HTTP server for the wired services. Crawls run inside
// the request, so the write timeout is left unset.
func newServer(cfg *config.Config, svc *services.Services) *http.Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(svc.Deps()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
