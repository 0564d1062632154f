package modules

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/audit"
	"github.com/Data-Analyst4/tally-connect/internal/governance/authz"
	"github.com/Data-Analyst4/tally-connect/internal/infrastructure"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	"github.com/Data-Analyst4/tally-connect/internal/metrics"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/worker"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config      *config.Config
	DB          *infrastructure.DatabaseClients
	Pools       *worker.Pools
	Pool        *pgxpool.Pool
	RiverClient *river.Client[pgx.Tx]
	// Redis is nil when redis.enabled is false.
	Redis    *redis.Client
	Store    *repository.PostgresStore
	Events   *domain.EventDispatcher
	Audit    *audit.Logger
	Enforcer *authz.Enforcer
	Metrics  *metrics.Metrics
	// Locks serializes work on one master identity across the resolver,
	// the lifecycle and the sync gateway.
	Locks *keylock.Locker
}

// NewInfrastructure initializes DB/pools and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	enforcer, err := authz.NewEnforcer(authz.Options{ApproverRole: cfg.Approval.ApproverRole})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init authz: %w", err)
	}

	rdb, err := infrastructure.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init redis: %w", err)
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize: cfg.Worker.GeneralPoolSize,
		SyncPoolSize:    cfg.Worker.SyncPoolSize,
		NotifyPoolSize:  cfg.Worker.NotifyPoolSize,
	})
	if err != nil {
		closeRedis(rdb)
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	return &Infrastructure{
		Config:      cfg,
		DB:          db,
		Pools:       pools,
		Pool:        db.Pool,
		RiverClient: db.RiverClient,
		Redis:       rdb,
		Store:       repository.NewPostgresStore(db.Pool),
		Events:      domain.NewEventDispatcher(),
		Audit:       audit.NewLogger(db.Pool),
		Enforcer:    enforcer,
		Metrics:     metrics.New(),
		Locks:       keylock.New(),
	}, nil
}

// InitRiver initializes River client on top of a prepared worker registry
// and hands it to the store, which enqueues jobs inside its transactions.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	periodic := jobs.PeriodicJobs(i.Config.Catalog.RefreshInterval)
	if err := i.DB.InitRiverClient(workers, periodic, jobs.Queues(), i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	i.RiverClient = i.DB.RiverClient
	if i.Store != nil {
		i.Store.SetJobInserter(i.RiverClient)
	}
	return nil
}

// RegisterEventHandlers subscribes the audit log and metrics to domain
// events. Approval decisions are audited by the lifecycle itself.
func (i *Infrastructure) RegisterEventHandlers() {
	if i == nil || i.Events == nil {
		return
	}
	if i.Metrics != nil {
		i.Events.RegisterAll(i.Metrics.HandleEvent)
	}
	if i.Audit != nil {
		for _, t := range []domain.EventType{
			domain.EventRequestCreated,
			domain.EventRequestInProgress,
			domain.EventRequestCompleted,
			domain.EventRequestFailed,
			domain.EventTransactionPushed,
			domain.EventTransactionPushFailed,
			domain.EventCatalogRefreshed,
		} {
			i.Events.Register(t, i.Audit.Handle)
		}
	}
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	closeRedis(i.Redis)
	if i.DB != nil {
		i.DB.Close()
	}
}

func closeRedis(rdb *redis.Client) {
	if rdb == nil {
		return
	}
	if err := rdb.Close(); err != nil {
		logger.Warn("Failed to close redis client", zap.Error(err))
	}
}
