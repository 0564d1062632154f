// Package app is the composition root. Bootstrap only wires modules together.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
	"github.com/Data-Analyst4/tally-connect/internal/api/middleware"
	"github.com/Data-Analyst4/tally-connect/internal/app/modules"
	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/infrastructure"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module

	infra *modules.Infrastructure
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}
	infra.RegisterEventHandlers()

	catalogModule := modules.NewCatalogModule(infra)
	approvalModule, err := modules.NewApprovalModule(infra, catalogModule)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init approval module: %w", err)
	}
	syncModule := modules.NewSyncModule(infra, catalogModule, approvalModule)
	allModules := []modules.Module{catalogModule, approvalModule, syncModule}

	workers := river.NewWorkers()
	for _, mod := range allModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config: cfg,
		Router: newRouter(routerDeps{
			cfg:     cfg,
			server:  server,
			jwt:     jwtConfig(cfg.Security),
			authz:   infra.Enforcer,
			metrics: infra.Metrics,
		}),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
		infra:   infra,
	}, nil
}

func jwtConfig(sec config.SecurityConfig) middleware.JWTConfig {
	cfg := middleware.JWTConfig{
		SigningKey: []byte(sec.JWTSecret),
		Issuer:     sec.Issuer,
		RolesClaim: sec.RolesClaim,
	}
	for _, k := range sec.JWTVerificationKeys {
		if k = strings.TrimSpace(k); k != "" {
			cfg.VerificationKeys = append(cfg.VerificationKeys, []byte(k))
		}
	}
	return cfg
}
