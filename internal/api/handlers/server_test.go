package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/api/generated"
	"github.com/Data-Analyst4/tally-connect/internal/api/middleware"
	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/approval"
	"github.com/Data-Analyst4/tally-connect/internal/governance/authz"
	"github.com/Data-Analyst4/tally-connect/internal/notification"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/provider"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
	_ = logger.Init("error", "json")
}

const company = "Acme Ltd"

var (
	clerk    = domain.Actor{UserID: "clerk@acme.test", Roles: []string{"Accounts User"}}
	approver = domain.Actor{UserID: "asha@acme.test", Name: "Asha", Roles: []string{"tally_approver"}}
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	target *provider.MockTarget
	store  *repository.MemoryStore
	router *gin.Engine
}

func invoice() domain.TransactionDocument {
	return domain.TransactionDocument{
		Doctype:     domain.DoctypeSalesInvoice,
		Name:        "SINV-0001",
		Company:     company,
		PostingDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Modified:    time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		Party:       "Acme Corp",
		Territory:   "West",
		Items: []domain.DocumentItem{{
			ItemCode:  "BOLT-M8",
			ItemGroup: "Raw Material",
			StockUOM:  "Nos",
			Warehouse: "Main Store",
			Qty:       decimal.NewFromInt(10),
			Rate:      decimal.NewFromInt(500),
		}},
		GrandTotal: decimal.NewFromInt(5000),
	}
}

// newTestEnv serves the API over memory components. The target holds every
// master of the invoice except the customer.
func newTestEnv(t *testing.T, db Pinger) *testEnv {
	t.Helper()

	target := provider.NewMockTarget()
	target.Seed(company, domain.MasterItem.Kind(), "BOLT-M8")
	target.Seed(company, domain.MasterStockGroup.Kind(), "Raw Materials")
	target.Seed(company, domain.MasterUnit.Kind(), "Nos")
	target.Seed(company, domain.MasterGodown.Kind(), "Main Store")
	target.Seed(company, domain.KindLedger, provider.DefaultSalesLedger)

	cat := catalog.New(target, catalog.Options{})
	_, err := cat.ForceRefresh(context.Background(), company)
	require.NoError(t, err)

	enforcer, err := authz.NewEnforcer(authz.Options{})
	require.NoError(t, err)

	directory := notification.NewStaticDirectory([]notification.Approver{
		{UserID: "asha@acme.test", Name: "Asha", Active: true},
	})
	dispatcher := notification.NewDispatcher(directory, notification.NewLogSender(), nil)
	locks := keylock.New()
	store := repository.NewMemoryStore()
	docs := source.NewMemoryDocuments(invoice())

	res := resolver.New(cat, store, dispatcher, nil, resolver.WithLocker(locks))
	lifecycle := approval.NewLifecycle(store, docs, dispatcher, enforcer, nil, approval.Config{}, approval.WithLocker(locks))

	srv := NewServer(ServerDeps{
		Resolver:  res,
		Lifecycle: lifecycle,
		Requests:  store,
		Catalog:   cat,
		Documents: docs,
		Renderer:  dispatcher,
		DB:        db,
		Target:    provider.NewTargetHealthChecker(target, time.Minute),
		Companies: []string{company, "Beta Ltd"},
	})

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	router.Use(func(c *gin.Context) {
		switch c.GetHeader("X-Test-User") {
		case "clerk":
			c.Request = c.Request.WithContext(middleware.WithActor(c.Request.Context(), clerk))
		case "approver":
			c.Request = c.Request.WithContext(middleware.WithActor(c.Request.Context(), approver))
		}
		c.Next()
	})
	generated.RegisterHandlers(router.Group("/api/v1"), srv)

	return &testEnv{target: target, store: store, router: router}
}

func (e *testEnv) do(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorResponse struct {
	Code        string                 `json:"code"`
	Params      map[string]interface{} `json:"params"`
	FieldErrors []apperrors.FieldError `json:"field_errors"`
}

type resolutionBody struct {
	Company  string             `json:"company"`
	Required []domain.MasterRef `json:"required"`
	Missing  []domain.MasterRef `json:"missing"`
	Ready    bool               `json:"ready"`
}

var sinv = map[string]string{"doctype": domain.DoctypeSalesInvoice, "name": "SINV-0001"}

func (e *testEnv) raise(t *testing.T) domain.RequestRef {
	t.Helper()
	w := e.do(t, "clerk", http.MethodPost, "/api/v1/documents/master-requests", sinv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[requestRefList](t, w)
	require.Len(t, list.Requests, 1)
	return list.Requests[0]
}

func TestCheckDependencies(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, "clerk", http.MethodPost, "/api/v1/documents/check-dependencies", sinv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode[resolutionBody](t, w)
	assert.Equal(t, company, body.Company)
	assert.False(t, body.Ready)
	require.Len(t, body.Missing, 1)
	assert.Equal(t, domain.MasterCustomer, body.Missing[0].Type)
	assert.Equal(t, "Acme Corp", body.Missing[0].Name)
	assert.Greater(t, len(body.Required), 1)
}

func TestCheckDependencies_Errors(t *testing.T) {
	e := newTestEnv(t, nil)

	tests := []struct {
		name     string
		user     string
		body     interface{}
		wantCode int
		wantErr  string
	}{
		{name: "unauthenticated", user: "", body: sinv, wantCode: http.StatusUnauthorized, wantErr: apperrors.CodeUnauthorized},
		{name: "missing name", user: "clerk", body: map[string]string{"doctype": "Sales Invoice"}, wantCode: http.StatusBadRequest, wantErr: apperrors.CodeValidationFailed},
		{name: "unknown document", user: "clerk", body: map[string]string{"doctype": "Sales Invoice", "name": "SINV-9999"}, wantCode: http.StatusNotFound, wantErr: apperrors.CodeSourceDocumentNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, tt.user, http.MethodPost, "/api/v1/documents/check-dependencies", tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			assert.Equal(t, tt.wantErr, decode[errorResponse](t, w).Code)
		})
	}
}

func TestCheckDependencies_MissingFieldNamedInFieldErrors(t *testing.T) {
	e := newTestEnv(t, nil)

	w := e.do(t, "clerk", http.MethodPost, "/api/v1/documents/check-dependencies", map[string]string{"doctype": "Sales Invoice"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	body := decode[errorResponse](t, w)
	require.Len(t, body.FieldErrors, 1)
	assert.Equal(t, "name", body.FieldErrors[0].Field)
}

func TestCreateRequestsForMissing_Idempotent(t *testing.T) {
	e := newTestEnv(t, nil)

	first := e.raise(t)
	assert.True(t, first.Created)
	assert.Equal(t, domain.StatusPendingApproval, first.Status)
	assert.Equal(t, "Acme Corp", first.MasterName)

	second := e.raise(t)
	assert.False(t, second.Created)
	assert.Equal(t, first.ID, second.ID)
}

func TestCreateManualRequest(t *testing.T) {
	e := newTestEnv(t, nil)
	body := map[string]string{
		"company":     company,
		"master_type": "Supplier",
		"master_name": "Bolt Traders",
		"priority":    "High",
		"reason":      "new vendor onboarding",
	}

	w := e.do(t, "clerk", http.MethodPost, "/api/v1/master-requests", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	ref := decode[domain.RequestRef](t, w)
	assert.True(t, ref.Created)
	assert.Equal(t, domain.PriorityHigh, ref.Priority)

	w = e.do(t, "clerk", http.MethodPost, "/api/v1/master-requests", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ref.ID, decode[domain.RequestRef](t, w).ID)

	body["priority"] = "Whenever"
	w = e.do(t, "clerk", http.MethodPost, "/api/v1/master-requests", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListRequests(t *testing.T) {
	e := newTestEnv(t, nil)
	ref := e.raise(t)

	w := e.do(t, "clerk", http.MethodGet, "/api/v1/master-requests?status=Pending%20Approval,Approved&company=Acme%20Ltd", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	list := decode[requestList](t, w)
	require.Len(t, list.Items, 1)
	assert.Equal(t, ref.ID, list.Items[0].ID)

	w = e.do(t, "clerk", http.MethodGet, "/api/v1/master-requests?status=Completed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items":[]`)

	w = e.do(t, "clerk", http.MethodGet, "/api/v1/master-requests?status=Done", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperrors.CodeValidationFailed, decode[errorResponse](t, w).Code)
}

func TestApproveRejectRetry(t *testing.T) {
	e := newTestEnv(t, nil)
	ref := e.raise(t)
	base := "/api/v1/master-requests/" + ref.ID

	w := e.do(t, "clerk", http.MethodPost, base+"/approve", nil)
	require.Equal(t, http.StatusForbidden, w.Code, w.Body.String())

	w = e.do(t, "approver", http.MethodPost, base+"/reject", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, apperrors.CodeValidationFailed, decode[errorResponse](t, w).Code)

	w = e.do(t, "approver", http.MethodPost, base+"/approve", map[string]string{"notes": "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, domain.StatusApproved, decode[domain.MasterCreationRequest](t, w).Status)

	// Approving twice is a no-op.
	w = e.do(t, "approver", http.MethodPost, base+"/approve", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, "approver", http.MethodPost, base+"/reject", map[string]string{"reason": "too late"})
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	body := decode[errorResponse](t, w)
	assert.Equal(t, apperrors.CodeInvalidStateTransition, body.Code)
	assert.Equal(t, string(domain.StatusApproved), body.Params["current_status"])

	w = e.do(t, "approver", http.MethodPost, base+"/retry", nil)
	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
}

func TestGetRequestViews(t *testing.T) {
	e := newTestEnv(t, nil)
	ref := e.raise(t)
	base := "/api/v1/master-requests/" + ref.ID

	w := e.do(t, "clerk", http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, ref.ID, decode[domain.MasterCreationRequest](t, w).ID)

	w = e.do(t, "approver", http.MethodGet, base+"/details", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	details := decode[struct {
		Request *domain.MasterCreationRequest `json:"request"`
		Allowed []domain.Status               `json:"allowed_transitions"`
	}](t, w)
	require.NotNil(t, details.Request)
	assert.Contains(t, details.Allowed, domain.StatusApproved)

	w = e.do(t, "approver", http.MethodGet, base+"/history", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	history := decode[historyResponse](t, w)
	require.NotEmpty(t, history.Entries)
	assert.Equal(t, domain.NotifyCreated, history.Entries[0].Event)
	assert.Contains(t, history.Rendered, "asha@acme.test")

	w = e.do(t, "clerk", http.MethodGet, "/api/v1/master-requests/missing", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apperrors.CodeRequestNotFound, decode[errorResponse](t, w).Code)
}

func TestCatalogEndpoints(t *testing.T) {
	e := newTestEnv(t, nil)
	e.target.Seed(company, domain.MasterCustomer.Kind(), "Acme Corp")

	w := e.do(t, "approver", http.MethodPost, "/api/v1/catalog/refresh", map[string]string{"company": company})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	st := decode[catalog.Status](t, w)
	assert.True(t, st.Loaded)
	assert.False(t, st.Stale)
	assert.Equal(t, 1, st.Counts[domain.MasterCustomer.Kind()])

	w = e.do(t, "clerk", http.MethodPost, "/api/v1/documents/check-dependencies", sinv)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ready":true`)

	w = e.do(t, "clerk", http.MethodGet, "/api/v1/catalog/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[catalogStatusList](t, w)
	require.Len(t, list.Companies, 2)
	assert.Equal(t, company, list.Companies[0].Company)
	assert.True(t, list.Companies[0].Loaded)
	assert.Equal(t, "Beta Ltd", list.Companies[1].Company)
	assert.False(t, list.Companies[1].Loaded)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		db       Pinger
		wantCode int
		want     string
	}{
		{name: "healthy", db: fakePinger{}, wantCode: http.StatusOK, want: healthOK},
		{name: "database down", db: fakePinger{err: errors.New("refused")}, wantCode: http.StatusServiceUnavailable, want: healthDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, tt.db)
			w := e.do(t, "", http.MethodGet, "/api/v1/health/ready", nil)
			require.Equal(t, tt.wantCode, w.Code)
			body := decode[health](t, w)
			assert.Equal(t, tt.want, body.Status)
			assert.Equal(t, "unknown", body.Checks["target"])

			w = e.do(t, "", http.MethodGet, "/api/v1/health/live", nil)
			assert.Equal(t, http.StatusOK, w.Code)
		})
	}
}
