// Package modules groups the composition root into domain modules. Each
// module builds its own services, contributes to the HTTP server deps and
// registers its River workers.
package modules

import (
	"context"

	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
)

// Module represents a domain-specific dependency unit in the composition root.
type Module interface {
	// Name returns a stable module identifier for logging/debugging.
	Name() string

	// ContributeServerDeps injects module-owned dependencies into the HTTP server deps.
	ContributeServerDeps(*handlers.ServerDeps)

	// RegisterWorkers registers module workers into a shared River worker registry.
	RegisterWorkers(*river.Workers)

	// Start launches module background loops. It must not block.
	Start(context.Context)

	// Shutdown performs module-local graceful cleanup.
	Shutdown(context.Context) error
}

// NewServerDeps lets each module contribute its part of the server deps.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{
		Requests: infra.Store,
	}
	if infra.DB != nil && infra.DB.Pool != nil {
		deps.DB = infra.DB.Pool
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}
