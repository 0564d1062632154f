package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	"github.com/Data-Analyst4/tally-connect/internal/usecase"
)

// SyncModule owns the sync gateway and the workers that call the target.
type SyncModule struct {
	infra   *Infrastructure
	gateway *usecase.SyncGateway
}

// NewSyncModule builds the gateway from the catalog and approval modules.
func NewSyncModule(infra *Infrastructure, cat *CatalogModule, appr *ApprovalModule) *SyncModule {
	cfg := infra.Config
	deps := usecase.SyncDeps{
		Store:    infra.Store,
		Target:   cat.Target(),
		Catalog:  cat.Catalog(),
		Docs:     appr.Documents(),
		Resolver: appr.Resolver(),
		Notifier: appr.Dispatcher(),
		Events:   infra.Events,
		Locks:    infra.Locks,
	}
	if infra.Pools != nil {
		deps.Pool = infra.Pools.Sync
	}
	gw := usecase.NewSyncGateway(deps, usecase.SyncConfig{
		Timeout:         cfg.Target.Timeout,
		MaxNameLength:   cfg.Target.MaxNameLength,
		PushMaxAttempts: cfg.Sync.PushMaxAttempts,
		TargetCompany:   cfg.Target.TargetCompany,
	})
	if infra.Metrics != nil {
		gw.OnSync = infra.Metrics.ObserveSync
	}
	return &SyncModule{infra: infra, gateway: gw}
}

// Gateway returns the sync gateway.
func (m *SyncModule) Gateway() *usecase.SyncGateway { return m.gateway }

func (m *SyncModule) Name() string { return "sync" }

func (m *SyncModule) ContributeServerDeps(*handlers.ServerDeps) {}

func (m *SyncModule) RegisterWorkers(workers *river.Workers) {
	river.AddWorker(workers, jobs.NewMasterCreateWorker(m.gateway))
	river.AddWorker(workers, jobs.NewTransactionPushWorker(m.gateway))
	river.AddWorker(workers, jobs.NewSyncLogCompactWorker(m.infra.Store, m.infra.Config.Sync.LogRetention))
}

func (m *SyncModule) Start(context.Context) {}

func (m *SyncModule) Shutdown(context.Context) error { return nil }
