package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/api/middleware"
	"github.com/feral-file/ff-layer-indexer/internal/api/rest"
	"github.com/feral-file/ff-layer-indexer/internal/api/shared/executor"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/metrics"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

// Config holds the server configuration
type Config struct {
	Debug        bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// CursorName names the projection whose run state is reported
	CursorName string
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	store      store.Store
	metrics    *metrics.Metrics
	httpServer *http.Server
}

// New creates a new API server
func New(cfg Config, store store.Store, m *metrics.Metrics) *Server {
	return &Server{
		config:  cfg,
		store:   store,
		metrics: m,
	}
}

// Router builds the gin engine with every route and middleware
func (s *Server) Router() *gin.Engine {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Setup middleware
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger(s.metrics))
	router.Use(middleware.SetupCORS())

	exec := executor.NewExecutor(s.store, s.config.CursorName)
	rest.SetupRoutes(router, rest.NewHandler(exec))

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	return router
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	logger.Info("Starting API server",
		zap.String("address", addr),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
