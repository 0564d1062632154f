package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/provider"
)

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

type health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// GetLiveness handles GET /health/live.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, health{Status: healthOK})
}

// GetReadiness handles GET /health/ready. Only the database gates
// readiness; the target system is reported for information.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			checks["database"] = "error"
			allHealthy = false
		} else {
			checks["database"] = healthOK
		}
	}

	if s.target != nil {
		switch h := s.target.Current(); h.Status {
		case provider.TargetStatusHealthy:
			checks["target"] = healthOK
		case provider.TargetStatusUnreachable:
			checks["target"] = "unreachable"
		default:
			checks["target"] = "unknown"
		}
	}

	status := healthOK
	httpStatus := http.StatusOK
	if !allHealthy {
		status = healthDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, health{Status: status, Checks: checks})
}
