package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"votebridge/pkg/api"
	"votebridge/pkg/config"
	"votebridge/pkg/connector"
	"votebridge/pkg/data"
	"votebridge/pkg/database"
	"votebridge/pkg/reconciler"
	"votebridge/pkg/scheduler"
	"votebridge/pkg/security"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP gateway and session scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		logger, err := initLogger(cfg)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer logger.Sync()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		app, err := initializeApp(ctx, cfg, logger)
		if err != nil {
			logger.Error("Failed to initialize application", zap.Error(err))
			return err
		}

		waitForShutdown(ctx, app, cfg.Server.ShutdownTimeout, logger)
		return nil
	},
}

// App owns every long-running component of the gateway
type App struct {
	db     *database.Service
	repo   data.Repository
	conn   *connector.Connector
	sched  *scheduler.Scheduler
	server *api.Server
	config *config.Config
	logger *zap.Logger
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	app := &App{
		config: cfg,
		logger: logger,
		conn: connector.New(logger,
			connector.WithProbeTimeout(cfg.Ledger.ProbeTimeout),
			connector.WithTxTimeout(cfg.Ledger.TxTimeout)),
	}

	if cfg.Database.URL != "" {
		db, err := database.NewService(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("initializing database service: %w", err)
		}
		app.db = db
	}

	if err := app.start(initCtx); err != nil {
		app.stop(context.Background())
		return nil, fmt.Errorf("starting services: %w", err)
	}
	return app, nil
}

func (a *App) start(ctx context.Context) error {
	// Storage first; everything after it may read session records
	if a.db != nil {
		if err := a.db.Start(ctx); err != nil {
			return fmt.Errorf("starting database: %w", err)
		}
		a.repo = a.db.GetRepository()
	} else {
		a.logger.Warn("No database configured, session records are kept in memory")
		a.repo = data.NewMockRepository()
	}

	if a.config.Ledger.AutoInitialize {
		st, err := a.conn.Initialize(ctx, connector.Options{
			PrivateKey:      a.config.Ledger.PrivateKey,
			ContractAddress: a.config.Ledger.ContractAddress,
			RPCURL:          a.config.Ledger.RPCURL,
			UseMock:         a.config.Ledger.UseMock,
		})
		if err != nil {
			// The gateway still serves; POST /status/initialize can recover
			a.logger.Warn("Ledger auto-initialize failed", zap.Error(err))
		} else {
			a.logger.Info("Ledger ready",
				zap.String("state", string(st.State)),
				zap.String("identity", st.Identity))
		}
	}

	rec := reconciler.New(a.conn, a.repo, a.logger)
	a.sched = scheduler.New(a.conn, rec, a.repo, &a.config.Scheduler, a.logger)
	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	pending, err := a.repo.ListSessions(ctx, data.SessionFilter{States: data.PendingStates()})
	if err != nil {
		return fmt.Errorf("listing pending sessions: %w", err)
	}
	armed := a.sched.RescheduleAll(ctx, pending)
	a.logger.Info("Rescheduled pending sessions",
		zap.Int("sessions", len(pending)),
		zap.Int("armed", armed))

	deps := api.Deps{
		Connector:  a.conn,
		Reconciler: rec,
		Scheduler:  a.sched,
		Repo:       a.repo,
	}
	if a.db != nil {
		deps.DBHealthy = a.db.IsHealthy
	}
	if secret := a.config.Security.AdminSecret; secret != "" {
		tm, err := security.NewTokenManager(secret, a.config.Security.TokenExpiry)
		if err != nil {
			return fmt.Errorf("initializing admin tokens: %w", err)
		}
		deps.Tokens = tm
		a.logger.Info("Admin routes protected", zap.String("secretFingerprint", security.Fingerprint(secret)))
	} else {
		a.logger.Warn("No admin secret configured, admin routes are open")
	}

	server, err := api.NewServer(&a.config.Server, &a.config.Security, deps, a.logger)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	a.server = server

	a.logger.Info("All services started successfully", zap.String("addr", server.Addr()))
	return nil
}

func (a *App) stop(ctx context.Context) error {
	// Stop services in reverse order
	var errs []error

	if a.server != nil {
		if err := a.server.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping API server: %w", err))
		}
	}
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
		}
	}
	a.conn.Close()
	if a.db != nil {
		if err := a.db.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping database: %w", err))
		}
	}

	for _, err := range errs {
		a.logger.Error("Shutdown error", zap.Error(err))
	}
	a.logger.Info("All services stopped")
	return errors.Join(errs...)
}

func waitForShutdown(ctx context.Context, app *App, timeout time.Duration, logger *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
}
