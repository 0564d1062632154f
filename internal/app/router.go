package app

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/api/handlers"
	"github.com/Data-Analyst4/tally-connect/internal/api/middleware"
	"github.com/Data-Analyst4/tally-connect/internal/config"
	"github.com/Data-Analyst4/tally-connect/internal/metrics"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

const apiBasePath = "/api/v1"

// defaultAllowedOrigins is used when server.allowed_origins is empty: the
// local ERPNext desk.
var defaultAllowedOrigins = []string{
	"http://localhost:8000",
	"http://127.0.0.1:8000",
}

type routerDeps struct {
	cfg     *config.Config
	server  *handlers.Server
	jwt     middleware.JWTConfig
	authz   middleware.Authorizer
	metrics *metrics.Metrics
}

func newRouter(d routerDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID())
	if d.metrics != nil {
		router.Use(d.metrics.GinMiddleware())
		router.GET("/metrics", gin.WrapH(d.metrics.Handler()))
	}
	router.Use(cors.New(buildCORSConfig(d.cfg)))

	// The validator buffers responses, so ErrorHandler must run inside it.
	v1 := router.Group(apiBasePath)
	v1.Use(middleware.MustOpenAPIValidator(apiBasePath), middleware.ErrorHandler())

	generated.RegisterHandlersWithOptions(v1, d.server, generated.GinServerOptions{
		Middlewares:  []generated.MiddlewareFunc{generated.MiddlewareFunc(middleware.OperationSecurity(d.jwt, d.authz))},
		ErrorHandler: bindErrorHandler,
	})

	return router
}

// bindErrorHandler reports path and query parameters the generated wrapper
// could not bind.
func bindErrorHandler(c *gin.Context, err error, _ int) {
	middleware.Abort(c, apperrors.BadRequest(apperrors.CodeValidationFailed, err.Error()))
}

// buildCORSConfig allows the configured origins. A "*" entry only takes
// effect with unsafe_allow_all_origins, which also drops credentials.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if cfg.Server.UnsafeAllowAllOrigins {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = append(origins, defaultAllowedOrigins...)
	}
	c.AllowOrigins = origins
	c.AllowCredentials = cfg.Server.AllowCredentials
	return c
}
