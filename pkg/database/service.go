// pkg/database/service.go
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"votebridge/pkg/config"
	"votebridge/pkg/data"
)

// Service manages the connection pool and provides the session repository
type Service struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	config *config.DatabaseConfig
	repo   *data.PostgresRepository
	schema *data.SchemaManager

	mu        sync.RWMutex
	isRunning bool
}

// NewService creates a new database service
func NewService(cfg *config.DatabaseConfig, logger *zap.Logger) (*Service, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	svc := &Service{
		config: cfg,
		logger: logger,
	}
	return svc, nil
}

// Start opens the pool, applies the schema and builds the repository
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("database service already running")
	}

	connectCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	pool, err := s.createPool(connectCtx)
	if err != nil {
		return err
	}
	s.pool = pool

	s.schema = data.NewSchemaManager(pool)
	if err := s.schema.InitializeSchema(connectCtx); err != nil {
		s.cleanup()
		return fmt.Errorf("initializing schema: %w", err)
	}

	s.repo = data.NewPostgresRepository(pool, s.logger)

	s.isRunning = true
	s.logger.Info("Database service started successfully",
		zap.Int32("maxConns", pool.Config().MaxConns))
	return nil
}

// Stop closes the pool
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cleanup()
	s.isRunning = false
	s.logger.Info("Database service stopped")
	return nil
}

// GetRepository returns the session repository
func (s *Service) GetRepository() data.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// IsHealthy checks database health
func (s *Service) IsHealthy(ctx context.Context) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.pool.Ping(ctx) == nil
}

// Internal methods

func (s *Service) createPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(s.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}

	poolConfig.MaxConns = int32(s.config.MaxConns)
	if s.config.MinConns > 0 {
		poolConfig.MinConns = int32(s.config.MinConns)
	}
	if s.config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = s.config.MaxConnLifetime
	}
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging connection pool: %w", err)
	}

	return pool, nil
}

func (s *Service) cleanup() {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
