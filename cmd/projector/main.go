package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/config"
	"github.com/feral-file/ff-layer-indexer/internal/engine"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/metrics"
	"github.com/feral-file/ff-layer-indexer/internal/projector"
	"github.com/feral-file/ff-layer-indexer/internal/providers/ethereum"
	"github.com/feral-file/ff-layer-indexer/internal/source"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadProjectorConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service":    "projector",
			"projection": cfg.Projection.CursorName,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Projector")

	if err := cfg.Ethereum.Validate(); err != nil {
		logger.FatalCtx(ctx, "Invalid ethereum configuration", zap.Error(err))
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	logger.InfoCtx(ctx, "Connected to database")

	dataStore := store.NewPGStore(db)

	// Initialize adapters
	clockAdapter := adapter.NewClock()
	codec := adapter.NewCodec()
	natsJS := adapter.NewNatsJetStream()

	// Authoritative contract reads are pinned to the block of the triggering event
	ethDialer := adapter.NewEthClientDialer()
	ethClient, err := ethDialer.Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to dial Ethereum RPC", zap.Error(err))
	}
	defer ethClient.Close()

	querier := source.NewRetryingQuerier(
		ethereum.NewQuerier(cfg.Ethereum.ContractAddress, ethClient),
		source.RetryConfig{
			InitialInterval:   cfg.Source.InitialInterval,
			MaxInterval:       cfg.Source.MaxInterval,
			MaxElapsedTime:    cfg.Source.MaxElapsedTime,
			RequestsPerSecond: cfg.Source.RequestsPerSec,
			Burst:             cfg.Source.Burst,
		},
	)

	m := metrics.New()
	projectionEngine := engine.New(
		engine.Config{CursorName: cfg.Projection.CursorName},
		dataStore,
		querier,
		codec,
		clockAdapter,
		m,
	)

	eventProjector, err := projector.NewProjector(
		projector.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			ConsumerName:   cfg.NATS.ConsumerName,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: cfg.NATS.ConnectionName,
			AckWaitTimeout: cfg.NATS.AckWait,
			MaxDeliver:     cfg.NATS.MaxDeliver,
			NakDelay:       cfg.NATS.NakDelay,
			CursorName:     cfg.Projection.CursorName,
		},
		natsJS,
		dataStore,
		projectionEngine,
		codec,
		clockAdapter,
	)
	if err != nil {
		logger.FatalCtx(ctx, "Failed to create projector", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer eventProjector.Close()
	logger.InfoCtx(ctx, "Connected to NATS JetStream")

	// Metrics are served on a side listener
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Projection.MetricsPort),
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorCtx(ctx, err, zap.String("component", "metrics"))
		}
	}()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel for projector errors
	errCh := make(chan error, 1)

	go func() {
		if err := eventProjector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "projector"))
		if errors.Is(err, projector.ErrHalted) {
			exitCode = 2
		} else {
			exitCode = 1
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, zap.String("component", "metrics"))
	}

	// Give the run state a moment to be written
	time.Sleep(time.Second)

	logger.Info("Projector stopped", zap.Int("exit_code", exitCode))
	if exitCode != 0 {
		logger.Flush(2 * time.Second)
		os.Exit(exitCode)
	}
}
