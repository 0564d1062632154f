// Package authz decides which roles may perform which operations.
//
// Permissions are written "object:action" (request:approve, catalog:refresh).
// Every authenticated caller implicitly holds the "authenticated" role.
package authz

import (
	_ "embed"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// Permissions checked by the API and the approval lifecycle.
const (
	PermDocumentCheck  = "document:check"
	PermRequestCreate  = "request:create"
	PermRequestRead    = "request:read"
	PermRequestApprove = "request:approve"
	PermRequestReject  = "request:reject"
	PermRequestRetry   = "request:retry"
	PermCatalogRead    = "catalog:read"
	PermCatalogRefresh = "catalog:refresh"
)

// RoleAuthenticated is held by every caller with a valid token.
const RoleAuthenticated = "authenticated"

// roleApprover is the built-in approver role of the embedded policy.
const roleApprover = "tally_approver"

//go:embed model.conf
var modelText string

//go:embed policy.csv
var policyText string

// Enforcer wraps a casbin enforcer loaded from the embedded model and policy.
type Enforcer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
}

// Options configures an Enforcer.
type Options struct {
	// ApproverRole is the token role that grants approval rights. When it
	// differs from the built-in role it is linked to it.
	ApproverRole string
	// ExtraPolicy is appended to the embedded policy, in the same CSV form.
	ExtraPolicy string
}

// NewEnforcer builds an Enforcer.
func NewEnforcer(opts Options) (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	policy := policyText
	if opts.ExtraPolicy != "" {
		policy = strings.TrimRight(policy, "\n") + "\n" + opts.ExtraPolicy
	}
	e, err := casbin.NewEnforcer(m, stringadapter.NewAdapter(policy))
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if role := strings.TrimSpace(opts.ApproverRole); role != "" && role != roleApprover {
		if _, err := e.AddGroupingPolicy(role, roleApprover); err != nil {
			return nil, fmt.Errorf("link approver role %q: %w", role, err)
		}
	}
	return &Enforcer{enforcer: e}, nil
}

// Allowed reports whether actor holds perm through any of its roles.
func (e *Enforcer) Allowed(actor domain.Actor, perm string) (bool, error) {
	obj, act, ok := strings.Cut(perm, ":")
	if !ok {
		return false, fmt.Errorf("malformed permission %q", perm)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	subjects := append([]string{RoleAuthenticated}, actor.Roles...)
	for _, sub := range subjects {
		allowed, err := e.enforcer.Enforce(sub, obj, act)
		if err != nil {
			return false, fmt.Errorf("casbin enforce: %w", err)
		}
		if allowed {
			return true, nil
		}
	}
	return false, nil
}

// Authorize returns FORBIDDEN unless actor holds perm.
func (e *Enforcer) Authorize(actor domain.Actor, perm string) error {
	if strings.TrimSpace(actor.UserID) == "" {
		return apperrors.Unauthorized(apperrors.CodeUnauthorized, "authentication required")
	}
	allowed, err := e.Allowed(actor, perm)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "authorization check failed", http.StatusInternalServerError)
	}
	if !allowed {
		logger.Debug("Permission denied",
			logger.Actor(actor.UserID),
			zap.Strings("roles", actor.Roles),
			zap.String("permission", perm),
		)
		return apperrors.Forbidden(apperrors.CodeForbidden, "missing permission "+perm).
			WithParam("permission", perm)
	}
	return nil
}

// Grant adds a policy line at runtime.
func (e *Enforcer) Grant(role, perm string) error {
	obj, act, ok := strings.Cut(perm, ":")
	if !ok {
		return fmt.Errorf("malformed permission %q", perm)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.enforcer.AddPolicy(role, obj, act)
	return err
}
