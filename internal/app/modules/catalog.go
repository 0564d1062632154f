package modules

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/provider"
)

// Target kinds accepted by target.kind.
const (
	TargetKindTally = "tally"
	TargetKindMock  = "mock"
)

// CatalogModule owns the target system client, the master catalog and the
// target health checker.
type CatalogModule struct {
	infra   *Infrastructure
	target  provider.TargetSystem
	catalog *catalog.Catalog
	health  *provider.TargetHealthChecker
}

// NewCatalogModule selects the target client and builds the catalog on it.
// With redis enabled, snapshots are shared between replicas.
func NewCatalogModule(infra *Infrastructure) *CatalogModule {
	cfg := infra.Config
	target := newTarget(cfg.Target.Kind, cfg.Target.URL, cfg.Target.Timeout)

	opts := catalog.Options{
		MaxStaleness:  cfg.Catalog.MaxStaleness,
		TargetCompany: cfg.Target.TargetCompany,
	}
	if infra.Redis != nil {
		opts.Store = catalog.NewRedisSnapshotStore(infra.Redis, cfg.Catalog.RedisKeyPrefix, cfg.Catalog.MaxStaleness)
	}
	opts.OnRefresh = func(company string, counts map[domain.CatalogKind]int, took time.Duration) {
		if infra.Metrics != nil {
			infra.Metrics.ObserveRefresh(company, counts, took)
		}
		if infra.Events != nil {
			if event := refreshEvent(company, counts); event != nil {
				infra.Events.DispatchAll(context.Background(), []*domain.DomainEvent{event})
			}
		}
	}

	return &CatalogModule{
		infra:   infra,
		target:  target,
		catalog: catalog.New(target, opts),
		health:  provider.NewTargetHealthChecker(target, cfg.Target.HealthInterval),
	}
}

func newTarget(kind, url string, timeout time.Duration) provider.TargetSystem {
	if kind == TargetKindMock {
		logger.Warn("Using mock target system; nothing reaches Tally")
		return provider.NewMockTarget()
	}
	return provider.NewTallyClient(url, timeout, nil)
}

func refreshEvent(company string, counts map[domain.CatalogKind]int) *domain.DomainEvent {
	byKind := make(map[string]int, len(counts))
	for k, n := range counts {
		byKind[string(k)] = n
	}
	payload, err := domain.CatalogPayload{Company: company, Counts: byKind, Source: "export"}.ToJSON()
	if err != nil {
		logger.Warn("Failed to encode catalog event", zap.String("company", company), zap.Error(err))
		return nil
	}
	return &domain.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     domain.EventCatalogRefreshed,
		AggregateType: domain.AggregateCatalog,
		AggregateID:   company,
		Payload:       payload,
		CreatedBy:     "system",
		CreatedAt:     time.Now().UTC(),
	}
}

// Catalog returns the master catalog.
func (m *CatalogModule) Catalog() *catalog.Catalog { return m.catalog }

// Target returns the target system client.
func (m *CatalogModule) Target() provider.TargetSystem { return m.target }

func (m *CatalogModule) Name() string { return "catalog" }

func (m *CatalogModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Catalog = m.catalog
	deps.Target = m.health
	deps.Companies = m.infra.Config.Catalog.Companies
}

func (m *CatalogModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewCatalogRefreshWorker(m.catalog, m.infra.Config.Catalog.Companies))
}

// Start runs the target health loop.
func (m *CatalogModule) Start(ctx context.Context) {
	m.health.Start(ctx)
}

func (m *CatalogModule) Shutdown(context.Context) error {
	m.health.Stop()
	return nil
}
