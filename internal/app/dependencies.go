package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/stockoms/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/stockoms/internal/health"
	"github.com/vladislavdragonenkov/stockoms/internal/storage/memory"
	"github.com/vladislavdragonenkov/stockoms/internal/storage/postgres"
)

// runtimeDependencies — хранилища, выбранные по StorageDriver.
type runtimeDependencies struct {
	tx              domain.TxManager
	products        domain.ProductRepository
	outboxRepo      domain.OutboxRepository
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies открывает хранилище и собирает репозитории поверх него.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return initMemoryDependencies(ctx, cfg, logger)
	case StorageDriverPostgres:
		return initPostgresDependencies(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %q", cfg.StorageDriver)
	}
}

func initMemoryDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	store := memory.NewStore()
	if cfg.SeedCatalog {
		if err := memory.SeedCatalog(ctx, store); err != nil {
			return nil, fmt.Errorf("seed memory catalog: %w", err)
		}
	}
	logger.WithField("seeded", cfg.SeedCatalog).Info("using in-memory storage")

	return &runtimeDependencies{
		tx:              store,
		products:        memory.NewProductRepository(store),
		outboxRepo:      store.Outbox(),
		idempotencyRepo: memory.NewIdempotencyRepository(),
		storageChecker:  healthcheck.NewStorageChecker(store),
	}, nil
}

func initPostgresDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres dsn is required for %q storage driver", StorageDriverPostgres)
	}

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	if cfg.PostgresAutoMigrate {
		applied, err := store.MigrateUp(ctx, 0)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("apply postgres migrations: %w", err)
		}
		logger.WithField("applied", applied).Info("postgres schema is up to date")
	}
	logger.Info("using postgres storage")

	return &runtimeDependencies{
		tx:              store,
		products:        postgres.NewProductRepository(store),
		outboxRepo:      postgres.NewOutboxRepository(store),
		idempotencyRepo: postgres.NewIdempotencyRepository(store),
		storageChecker:  healthcheck.NewStorageChecker(store),
		closeFn:         store.Close,
	}, nil
}
