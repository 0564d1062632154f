package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

type documentRequest struct {
	Doctype string `json:"doctype" binding:"required"`
	Name    string `json:"name" binding:"required"`
}

// resolutionResponse is a Resolution with its readiness spelled out.
type resolutionResponse struct {
	resolver.Resolution
	Ready bool `json:"ready"`
}

type requestRefList struct {
	Requests []domain.RequestRef `json:"requests"`
}

// loadDocument binds the document reference and fetches it from the source.
func (s *Server) loadDocument(c *gin.Context) (domain.TransactionDocument, bool) {
	var in documentRequest
	if !bindJSON(c, &in, false) {
		return domain.TransactionDocument{}, false
	}
	ref := domain.DocumentRef{Doctype: in.Doctype, Name: in.Name}
	doc, err := s.docs.Fetch(c.Request.Context(), ref)
	if err != nil {
		_ = c.Error(source.AsAppError(ref, err))
		return domain.TransactionDocument{}, false
	}
	return doc, true
}

// CheckDependencies handles POST /documents/check-dependencies.
func (s *Server) CheckDependencies(c *gin.Context) {
	if _, ok := actorFromCtx(c); !ok {
		return
	}
	doc, ok := s.loadDocument(c)
	if !ok {
		return
	}
	res, err := s.resolver.Resolve(c.Request.Context(), doc)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resolutionResponse{Resolution: normalizeResolution(res), Ready: res.Ready()})
}

// CreateRequestsForMissing handles POST /documents/master-requests. It
// re-runs the dependency check and raises a request per missing master;
// masters already covered by an active request return that request.
func (s *Server) CreateRequestsForMissing(c *gin.Context) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	doc, ok := s.loadDocument(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	res, err := s.resolver.Resolve(ctx, doc)
	if err != nil {
		_ = c.Error(err)
		return
	}
	refs, err := s.resolver.CreateRequests(ctx, actor, doc, res.Missing, s.classifier)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if refs == nil {
		refs = []domain.RequestRef{}
	}
	c.JSON(http.StatusOK, requestRefList{Requests: refs})
}

func normalizeResolution(res resolver.Resolution) resolver.Resolution {
	if res.Required == nil {
		res.Required = []domain.MasterRef{}
	}
	if res.Missing == nil {
		res.Missing = []domain.MasterRef{}
	}
	return res
}
