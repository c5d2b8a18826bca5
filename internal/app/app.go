// Package app assembles the reconciliation engine from configuration. It is
// shared by the HTTP server and the command line tool.
package app

import (
	"context"
	"fmt"

	"milestone-reconciler/internal/config"
	"milestone-reconciler/internal/progress"
	"milestone-reconciler/internal/repository"
	"milestone-reconciler/internal/service/reconcile"
	"milestone-reconciler/pkg/db"
	redisx "milestone-reconciler/pkg/redis"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Pinger is implemented by the stores backed by a connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stores groups the repository views the engine needs.
type Stores struct {
	Milestones reconcile.MilestoneStore
	Tasks      reconcile.TaskStore
	Stages     progress.TaskStageSource
	// Pinger is nil for the in-memory store.
	Pinger Pinger

	closers []func()
}

func (s *Stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// OpenStores connects the configured store driver.
func OpenStores(cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		logger.Warn("Using in-memory store, data is not persisted")
		mem := repository.NewMemoryStore()
		return &Stores{Milestones: mem, Tasks: mem, Stages: mem}, nil

	case config.StoreDriverSQLite:
		logger.Info("Opening SQLite store", zap.String("path", cfg.SQLite.Path))
		lite, err := repository.NewSQLiteStore(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Milestones: lite,
			Tasks:      lite,
			Stages:     lite,
			Pinger:     lite,
			closers:    []func(){func() { lite.Close() }},
		}, nil

	default:
		logger.Info("Initializing database connection...",
			zap.String("db_host", cfg.DB.Host),
			zap.Int("db_port", cfg.DB.Port),
		)
		pool, err := db.NewConnection(cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection established successfully")

		tasks := repository.NewTaskRepository(pool, logger)
		return &Stores{
			Milestones: repository.NewMilestoneRepository(pool, logger),
			Tasks:      tasks,
			Stages:     tasks,
			Pinger:     pool,
			closers:    []func(){pool.Close},
		}, nil
	}
}

// Engine is the recompute core plus the batch coordinator over one store.
type Engine struct {
	Recomputer  *reconcile.Recomputer
	Coordinator *reconcile.Coordinator
}

// NewEngine wires the calculator, recomputer and coordinator. rdb may be nil;
// the per-milestone lock is only installed when it is set and enabled.
func NewEngine(cfg *config.Config, stores *Stores, rdb *redis.Client, logger *zap.Logger) *Engine {
	names := cfg.Progress.TerminalStageNames
	if len(names) == 0 {
		names = progress.DefaultTerminalStageNames
	}
	calculator := progress.NewCalculator(stores.Stages, progress.NewTerminalPolicy(names))
	recomputer := reconcile.NewRecomputer(stores.Milestones, calculator, logger)
	if cfg.Lock.Enabled && rdb != nil {
		recomputer.WithLocker(redisx.NewLocker(rdb, "milestone:lock:", cfg.Lock.TTLDuration(), cfg.Lock.WaitDuration(), logger))
		logger.Info("Per-milestone recompute lock enabled")
	}
	return &Engine{
		Recomputer:  recomputer,
		Coordinator: reconcile.NewCoordinator(recomputer, stores.Milestones, stores.Tasks, logger),
	}
}

// OpenRedis returns nil when no address is configured.
func OpenRedis(cfg *config.Config, logger *zap.Logger) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb, err := redisx.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init redis: %w", err)
	}
	return rdb, nil
}
