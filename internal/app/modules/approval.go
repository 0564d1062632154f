package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/governance/approval"
	"github.com/Data-Analyst4/tally-connect/internal/notification"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

// Directory and sender kinds.
const (
	DirectoryPostgres = "postgres"
	DirectoryStatic   = "static"
	SenderLog         = "log"
	SenderWebhook     = "webhook"
)

// ApprovalModule owns request creation, the approval lifecycle and
// notification delivery.
type ApprovalModule struct {
	infra      *Infrastructure
	documents  source.Documents
	dispatcher *notification.Dispatcher
	resolver   *resolver.Resolver
	lifecycle  *approval.Lifecycle
	classifier resolver.Classifier
}

// NewApprovalModule wires the approval stack on top of the catalog.
func NewApprovalModule(infra *Infrastructure, cat *CatalogModule) (*ApprovalModule, error) {
	if infra == nil || infra.Config == nil {
		return nil, fmt.Errorf("approval module requires infrastructure config")
	}
	if infra.Store == nil || infra.Events == nil || infra.Enforcer == nil {
		return nil, fmt.Errorf("approval module requires store, events and enforcer")
	}
	if cat == nil {
		return nil, fmt.Errorf("approval module requires the catalog module")
	}
	cfg := infra.Config

	high, urgent, err := cfg.Priority.Thresholds()
	if err != nil {
		return nil, fmt.Errorf("priority thresholds: %w", err)
	}

	var pools notification.Submitter
	if infra.Pools != nil {
		pools = infra.Pools
	}
	dispatcher := notification.NewDispatcher(newDirectory(infra), newSender(cfg.Notification), pools)
	if infra.Metrics != nil {
		dispatcher.OnDelivery = infra.Metrics.ObserveDelivery
	}
	if infra.Events != nil {
		infra.Events.RegisterAll(dispatcher.Handle)
	}

	docs := source.NewFrappeClient(cfg.Source.BaseURL, cfg.Source.APIKey, cfg.Source.APISecret, cfg.Source.Timeout, nil)

	res := resolver.New(cat.Catalog(), infra.Store, dispatcher, infra.Events, resolver.WithLocker(infra.Locks))

	opts := []approval.Option{approval.WithLocker(infra.Locks), approval.WithCatalog(cat.Catalog())}
	if infra.Audit != nil {
		opts = append(opts, approval.WithAuditor(infra.Audit))
	}
	lifecycle := approval.NewLifecycle(infra.Store, docs, dispatcher, infra.Enforcer, infra.Events, approval.Config{
		TargetCompany: cfg.Target.TargetCompany,
		MaxNameLength: cfg.Target.MaxNameLength,
	}, opts...)

	return &ApprovalModule{
		infra:      infra,
		documents:  docs,
		dispatcher: dispatcher,
		resolver:   res,
		lifecycle:  lifecycle,
		classifier: resolver.NewThresholdClassifier(high, urgent),
	}, nil
}

func newDirectory(infra *Infrastructure) notification.Directory {
	if infra.Config.Approval.Directory == DirectoryPostgres && infra.Pool != nil {
		return notification.NewPostgresDirectory(infra.Pool)
	}
	return notification.NewStaticDirectory(staticApprovers(infra.Config.Approval.Approvers))
}

func staticApprovers(in []config.ApproverConfig) []notification.Approver {
	out := make([]notification.Approver, 0, len(in))
	for _, a := range in {
		out = append(out, notification.Approver{UserID: a.UserID, Name: a.Name, Email: a.Email, Active: true})
	}
	return out
}

func newSender(cfg config.NotificationConfig) notification.Sender {
	if cfg.Sender == SenderWebhook && cfg.WebhookURL != "" {
		return notification.NewWebhookSender(cfg.WebhookURL, cfg.Timeout, nil)
	}
	return notification.NewLogSender()
}

// Resolver returns the dependency resolver.
func (m *ApprovalModule) Resolver() *resolver.Resolver { return m.resolver }

// Dispatcher returns the notification dispatcher.
func (m *ApprovalModule) Dispatcher() *notification.Dispatcher { return m.dispatcher }

// Documents returns the source document reader.
func (m *ApprovalModule) Documents() source.Documents { return m.documents }

func (m *ApprovalModule) Name() string { return "approval" }

func (m *ApprovalModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	deps.Resolver = m.resolver
	deps.Lifecycle = m.lifecycle
	deps.Documents = m.documents
	deps.Classifier = m.classifier
	deps.Renderer = m.dispatcher
}

func (m *ApprovalModule) RegisterWorkers(*river.Workers) {}

func (m *ApprovalModule) Start(context.Context) {}

func (m *ApprovalModule) Shutdown(context.Context) error { return nil }
