package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/approval"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

type manualRequest struct {
	Company     string `json:"company" binding:"required"`
	MasterType  string `json:"master_type" binding:"required"`
	MasterName  string `json:"master_name" binding:"required"`
	ParentGroup string `json:"parent_group"`
	Priority    string `json:"priority"`
	Reason      string `json:"reason"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type requestList struct {
	Items []*domain.MasterCreationRequest `json:"items"`
}

type historyResponse struct {
	Entries  []domain.NotificationEntry `json:"entries"`
	Rendered string                     `json:"rendered"`
}

// ListRequests handles GET /master-requests. Results come in queue order:
// priority first, then age.
func (s *Server) ListRequests(c *gin.Context, params generated.ListRequestsParams) {
	if _, ok := actorFromCtx(c); !ok {
		return
	}
	filter, err := listFilter(params)
	if err != nil {
		_ = c.Error(err)
		return
	}
	reqs, err := s.requests.List(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if reqs == nil {
		reqs = []*domain.MasterCreationRequest{}
	}
	c.JSON(http.StatusOK, requestList{Items: reqs})
}

func listFilter(p generated.ListRequestsParams) (repository.ListFilter, error) {
	f := repository.ListFilter{
		Company:    strings.TrimSpace(deref(p.Company)),
		AssignedTo: strings.TrimSpace(deref(p.AssignedTo)),
	}
	if p.Limit != nil {
		f.Limit = *p.Limit
	}
	if p.Offset != nil {
		f.Offset = *p.Offset
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		return f, apperrors.ErrValidation("offset", "offset must not be negative")
	}
	if p.MasterType != nil && *p.MasterType != "" {
		t := domain.MasterType(*p.MasterType)
		if !t.Valid() {
			return f, apperrors.ErrValidation("master_type", fmt.Sprintf("unsupported master type %q", t))
		}
		f.MasterType = t
	}
	for _, raw := range strings.Split(deref(p.Status), ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		st := domain.Status(raw)
		if !st.Valid() {
			return f, apperrors.ErrValidation("status", fmt.Sprintf("unknown status %q", raw))
		}
		f.Status = append(f.Status, st)
	}
	return f, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// CreateManualRequest handles POST /master-requests. It answers 201 for a
// new request and 200 when an active request already covers the master.
func (s *Server) CreateManualRequest(c *gin.Context) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	var in manualRequest
	if !bindJSON(c, &in, false) {
		return
	}
	priority := domain.Priority(in.Priority)
	if in.Priority != "" && !priority.Valid() {
		_ = c.Error(apperrors.ErrValidation("priority", fmt.Sprintf("unknown priority %q", in.Priority)))
		return
	}
	ref, err := s.resolver.CreateManual(c.Request.Context(), actor, resolver.NewRequestInput{
		Company: in.Company,
		Ref: domain.MasterRef{
			Type:        domain.MasterType(in.MasterType),
			Name:        in.MasterName,
			ParentGroup: in.ParentGroup,
		},
		Priority: priority,
		Reason:   in.Reason,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	status := http.StatusOK
	if ref.Created {
		status = http.StatusCreated
	}
	c.JSON(status, ref)
}

// GetRequest handles GET /master-requests/{id}.
func (s *Server) GetRequest(c *gin.Context, id string) {
	if _, ok := actorFromCtx(c); !ok {
		return
	}
	req, err := s.requests.Get(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// GetRequestDetails handles GET /master-requests/{id}/details.
func (s *Server) GetRequestDetails(c *gin.Context, id string) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	d, err := s.lifecycle.Details(c.Request.Context(), actor, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetRequestHistory handles GET /master-requests/{id}/history.
func (s *Server) GetRequestHistory(c *gin.Context, id string) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	h, err := s.lifecycle.History(c.Request.Context(), actor, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	resp := historyResponse{Entries: h.Entries()}
	if s.renderer != nil {
		resp.Rendered = s.renderer.Render(h)
	} else {
		resp.Rendered = h.Render()
	}
	c.JSON(http.StatusOK, resp)
}

// ApproveRequest handles POST /master-requests/{id}/approve. The body is
// optional.
func (s *Server) ApproveRequest(c *gin.Context, id string) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	var in approval.ApproveInput
	if c.Request.ContentLength != 0 && !bindJSON(c, &in, true) {
		return
	}
	req, err := s.lifecycle.Approve(c.Request.Context(), actor, id, in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// RejectRequest handles POST /master-requests/{id}/reject.
func (s *Server) RejectRequest(c *gin.Context, id string) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	var in rejectRequest
	if !bindJSON(c, &in, true) {
		return
	}
	req, err := s.lifecycle.Reject(c.Request.Context(), actor, id, in.Reason)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// RetryMasterCreation handles POST /master-requests/{id}/retry.
func (s *Server) RetryMasterCreation(c *gin.Context, id string) {
	actor, ok := actorFromCtx(c)
	if !ok {
		return
	}
	req, err := s.lifecycle.Retry(c.Request.Context(), actor, id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, req)
}
