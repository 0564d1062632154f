// Package handlers implements the HTTP handlers of the tally-connect API.
//
// Server satisfies the generated ServerInterface. Handlers receive path and
// query parameters already bound, call the resolver, the approval lifecycle
// or the catalog, and report failures through c.Error so that
// middleware.ErrorHandler renders them. Routes are registered by
// generated.RegisterHandlersWithOptions in internal/app.
package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/api/middleware"
	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/approval"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/provider"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

// DependencyResolver checks documents and raises requests.
type DependencyResolver interface {
	Resolve(ctx context.Context, doc domain.TransactionDocument) (resolver.Resolution, error)
	CreateRequests(ctx context.Context, actor domain.Actor, doc domain.TransactionDocument, missing []domain.MasterRef, classifier resolver.Classifier) ([]domain.RequestRef, error)
	CreateManual(ctx context.Context, actor domain.Actor, in resolver.NewRequestInput) (domain.RequestRef, error)
}

// RequestLifecycle drives approval decisions.
type RequestLifecycle interface {
	Approve(ctx context.Context, actor domain.Actor, id string, in approval.ApproveInput) (*domain.MasterCreationRequest, error)
	Reject(ctx context.Context, actor domain.Actor, id, reason string) (*domain.MasterCreationRequest, error)
	Retry(ctx context.Context, actor domain.Actor, id string) (*domain.MasterCreationRequest, error)
	Details(ctx context.Context, actor domain.Actor, id string) (*approval.Details, error)
	History(ctx context.Context, actor domain.Actor, id string) (domain.NotificationHistory, error)
}

// RequestReader reads requests for the list and get endpoints.
type RequestReader interface {
	Get(ctx context.Context, id string) (*domain.MasterCreationRequest, error)
	List(ctx context.Context, filter repository.ListFilter) ([]*domain.MasterCreationRequest, error)
}

// Catalog is the part of the master catalog exposed over HTTP.
type Catalog interface {
	ForceRefresh(ctx context.Context, company string) (*catalog.Snapshot, error)
	Status(company string) catalog.Status
	Companies() []string
}

// HistoryRenderer renders a notification history as text.
type HistoryRenderer interface {
	Render(history domain.NotificationHistory) string
}

// Pinger checks a dependency for readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TargetHealth reports the cached reachability of the target system.
type TargetHealth interface {
	Current() provider.TargetHealth
}

var _ generated.ServerInterface = (*Server)(nil)

// Server holds the dependencies of every handler.
type Server struct {
	resolver   DependencyResolver
	lifecycle  RequestLifecycle
	requests   RequestReader
	catalog    Catalog
	docs       source.Documents
	classifier resolver.Classifier
	renderer   HistoryRenderer
	db         Pinger
	target     TargetHealth
	companies  []string
}

// ServerDeps holds all dependencies for creating a Server.
// DB and Target are optional; readiness skips the checks they back.
type ServerDeps struct {
	Resolver   DependencyResolver
	Lifecycle  RequestLifecycle
	Requests   RequestReader
	Catalog    Catalog
	Documents  source.Documents
	Classifier resolver.Classifier
	Renderer   HistoryRenderer
	DB         Pinger
	Target     TargetHealth
	// Companies are listed by catalog status even before their first refresh.
	Companies []string
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		resolver:   deps.Resolver,
		lifecycle:  deps.Lifecycle,
		requests:   deps.Requests,
		catalog:    deps.Catalog,
		docs:       deps.Documents,
		classifier: deps.Classifier,
		renderer:   deps.Renderer,
		db:         deps.DB,
		target:     deps.Target,
		companies:  deps.Companies,
	}
}

// actorFromCtx returns the authenticated caller or records UNAUTHORIZED.
func actorFromCtx(c *gin.Context) (domain.Actor, bool) {
	actor, ok := middleware.ActorFrom(c.Request.Context())
	if !ok || strings.TrimSpace(actor.UserID) == "" {
		_ = c.Error(apperrors.Unauthorized(apperrors.CodeUnauthorized, "authentication required"))
		return domain.Actor{}, false
	}
	return actor, true
}
