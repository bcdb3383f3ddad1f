package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/qgate/internal/audit"
	"github.com/fentz26/qgate/internal/backup"
	"github.com/fentz26/qgate/internal/catalog"
	"github.com/fentz26/qgate/internal/changes"
	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/connectors/localexec"
	"github.com/fentz26/qgate/internal/controlplane"
	"github.com/fentz26/qgate/internal/logging"
	"github.com/fentz26/qgate/internal/orchestrator"
	"github.com/fentz26/qgate/internal/runner"
	"github.com/fentz26/qgate/internal/session"
	"github.com/fentz26/qgate/internal/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	listenAddr string
	dbPath     string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the qgate daemon",
	Long:  `Starts the qgate daemon which provides the HTTP API for test runs and backups.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides config)")
	daemonCmd.Flags().StringVar(&dbPath, "db", "", "Path to SQLite database (overrides config)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if dbPath != "" {
		cfg.Backup.DBPath = dbPath
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return err
	}
	defer logger.Sync()

	root, err := cfg.WorkspaceRoot()
	if err != nil {
		return err
	}
	logger.Info("starting qgate daemon", zap.String("workspace", root), zap.String("db", cfg.Backup.DBPath))

	// Initialize store
	s, err := store.New(cfg.Backup.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()

	// Initialize components
	pdr := audit.NewPDRWriter(s)
	connector := localexec.NewWithAnalyzers(root, cfg.Runner.Analyzers)
	resolver := catalog.New(root, cfg.Workspace, logger)
	resolver.ListFiles(cmd.Context())
	sessions := session.NewStore()

	testRunner, err := newRunner(cfg, connector, logger)
	if err != nil {
		return err
	}
	orch := orchestrator.New(resolver, testRunner, sessions, cfg.Orchestrator, logger)
	defer orch.Stop()

	service := controlplane.NewService(controlplane.Deps{
		Store:        s,
		Catalog:      resolver,
		Detector:     changes.NewDetector(resolver, s, connector, logger),
		Orchestrator: orch,
		Sessions:     sessions,
		Backups:      backup.New(s, resolver, sessions, pdr, cfg.Backup, logger),
		CatalogCfg:   cfg.Catalog,
		Logger:       logger,
	})
	server := controlplane.NewServer(service, cfg.Server.Listen, logger)

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Catalog.Watch {
		watcher, err := catalog.NewWatcher(resolver, 500*time.Millisecond, logger)
		if err != nil {
			logger.Warn("file watcher disabled", zap.Error(err))
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		orch.Stop()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newRunner(cfg *config.Config, conn *localexec.LocalExec, logger *zap.Logger) (runner.Runner, error) {
	switch cfg.Runner.Mode {
	case "http":
		return runner.NewHTTPClient(cfg.Runner.URL, cfg.Runner.Timeout, logger), nil
	case "local":
		return runner.NewLocal(conn, cfg.Runner.Analyzers, logger), nil
	default:
		return nil, fmt.Errorf("unknown runner mode %q", cfg.Runner.Mode)
	}
}
