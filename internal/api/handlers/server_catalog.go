package handlers

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

type refreshRequest struct {
	Company string `json:"company" binding:"required"`
}

type catalogStatusList struct {
	Companies []catalog.Status `json:"companies"`
}

// RefreshCatalog handles POST /catalog/refresh.
func (s *Server) RefreshCatalog(c *gin.Context) {
	if _, ok := actorFromCtx(c); !ok {
		return
	}
	var in refreshRequest
	if !bindJSON(c, &in, false) {
		return
	}
	company := strings.TrimSpace(in.Company)
	if _, err := s.catalog.ForceRefresh(c.Request.Context(), company); err != nil {
		if _, ok := apperrors.IsAppError(err); !ok {
			err = apperrors.ErrCatalogUnavailable(err)
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, s.catalog.Status(company))
}

// GetCatalogStatus handles GET /catalog/status. Without a company filter it
// lists every configured or loaded company.
func (s *Server) GetCatalogStatus(c *gin.Context, params generated.GetCatalogStatusParams) {
	if _, ok := actorFromCtx(c); !ok {
		return
	}
	var companies []string
	if company := strings.TrimSpace(deref(params.Company)); company != "" {
		companies = []string{company}
	} else {
		companies = s.knownCompanies()
	}
	out := catalogStatusList{Companies: make([]catalog.Status, 0, len(companies))}
	for _, company := range companies {
		out.Companies = append(out.Companies, s.catalog.Status(company))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) knownCompanies() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range [][]string{s.companies, s.catalog.Companies()} {
		for _, company := range list {
			if _, ok := seen[company]; ok || company == "" {
				continue
			}
			seen[company] = struct{}{}
			out = append(out, company)
		}
	}
	sort.Strings(out)
	return out
}
