package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/api"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// Codes rendered by the contract validator itself.
const (
	CodeOpenAPIRouteInvalid    = "OPENAPI_ROUTE_INVALID"
	CodeOpenAPIResponseInvalid = "OPENAPI_RESPONSE_INVALID"
)

// MustOpenAPIValidator is NewOpenAPIValidator that panics on a broken contract.
func MustOpenAPIValidator(basePath string) gin.HandlerFunc {
	mw, err := NewOpenAPIValidator(basePath)
	if err != nil {
		panic(fmt.Sprintf("init openapi validator: %v", err))
	}
	return mw
}

// NewOpenAPIValidator checks requests and responses under basePath against
// the embedded contract. Contract paths are relative to basePath. Requests
// the contract does not describe pass through untouched.
//
// It buffers the response, so ErrorHandler must be registered after it.
func NewOpenAPIValidator(basePath string) (gin.HandlerFunc, error) {
	doc, err := api.Load()
	if err != nil {
		return nil, fmt.Errorf("load openapi contract: %w", err)
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build contract router: %w", err)
	}
	v := &contractValidator{router: router, basePath: normalizeBasePath(basePath)}
	return v.handle, nil
}

type contractValidator struct {
	router   routers.Router
	basePath string
}

// skipAuth leaves authentication to OperationSecurity.
func skipAuth(context.Context, *openapi3filter.AuthenticationInput) error { return nil }

func (v *contractValidator) handle(c *gin.Context) {
	rel := v.relativeRequest(c.Request)
	route, params, err := v.router.FindRoute(rel)
	switch {
	case err == nil:
	case isPathNotFoundError(err), errors.Is(err, routers.ErrMethodNotAllowed):
		c.Next()
		return
	default:
		abortWithOpenAPIError(c, http.StatusBadRequest, CodeOpenAPIRouteInvalid, err.Error())
		return
	}

	in := &openapi3filter.RequestValidationInput{
		Request:    rel,
		PathParams: params,
		Route:      route,
		Options:    &openapi3filter.Options{AuthenticationFunc: skipAuth},
	}
	err = openapi3filter.ValidateRequest(c.Request.Context(), in)
	// Validation drains the body and leaves a replayable copy on rel.
	c.Request.Body = rel.Body
	if err != nil {
		abortWithOpenAPIError(c, http.StatusBadRequest, apperrors.CodeValidationFailed, requestErrorMessage(err))
		return
	}

	buffered := newBufferedResponseWriter(c.Writer)
	c.Writer = buffered
	c.Next()

	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: in,
		Status:                 buffered.Status(),
		Header:                 buffered.Header().Clone(),
		Options:                &openapi3filter.Options{AuthenticationFunc: skipAuth},
	}
	if buffered.Size() > 0 {
		out.SetBodyBytes(buffered.body.Bytes())
	}
	if err := openapi3filter.ValidateResponse(c.Request.Context(), out); err != nil {
		logger.Error("Response breaks the API contract",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", buffered.Status()),
			zap.Error(err),
		)
		buffered.ResetJSON(http.StatusInternalServerError, errorBody{
			Code:    CodeOpenAPIResponseInvalid,
			Message: "response does not conform to the API contract",
		})
	}

	if _, err := buffered.FlushToOriginal(); err != nil {
		logger.Warn("Failed to flush buffered response",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
}

// relativeRequest returns a shallow copy of r addressed relative to the
// base path. r itself is not modified.
func (v *contractValidator) relativeRequest(r *http.Request) *http.Request {
	rel := new(http.Request)
	*rel = *r
	u := *r.URL
	u.Path = normalizeValidationPath(v.basePath, r.URL.Path)
	u.RawPath = ""
	rel.URL = &u
	return rel
}

func normalizeBasePath(basePath string) string {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return ""
	}
	return "/" + basePath
}

func normalizeValidationPath(basePath, path string) string {
	switch {
	case basePath == "" && path == "":
		return "/"
	case basePath == "":
		return path
	case path == basePath:
		return "/"
	case strings.HasPrefix(path, basePath+"/"):
		return strings.TrimPrefix(path, basePath)
	}
	return path
}

// requestErrorMessage keeps the first line of a kin-openapi request error,
// which names the offending parameter or body field.
func requestErrorMessage(err error) string {
	msg := err.Error()
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		msg = reqErr.Error()
	}
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	return msg
}

func isPathNotFoundError(err error) bool {
	if errors.Is(err, routers.ErrPathNotFound) {
		return true
	}
	var routeErr *routers.RouteError
	if errors.As(err, &routeErr) {
		return routeErr.Reason == routers.ErrPathNotFound.Error()
	}
	return false
}

func abortWithOpenAPIError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorBody{Code: code, Message: message})
}

// bufferedResponseWriter holds the response until it has been validated.
type bufferedResponseWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func newBufferedResponseWriter(w gin.ResponseWriter) *bufferedResponseWriter {
	return &bufferedResponseWriter{ResponseWriter: w}
}

func (w *bufferedResponseWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *bufferedResponseWriter) WriteHeaderNow() {
	if w.status == 0 {
		w.status = http.StatusOK
	}
}

func (w *bufferedResponseWriter) Write(data []byte) (int, error) {
	w.WriteHeaderNow()
	return w.body.Write(data)
}

func (w *bufferedResponseWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *bufferedResponseWriter) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *bufferedResponseWriter) Size() int { return w.body.Len() }

func (w *bufferedResponseWriter) Written() bool { return w.status != 0 }

// ResetJSON replaces whatever the handler wrote.
func (w *bufferedResponseWriter) ResetJSON(status int, payload errorBody) {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(`{"code":"` + CodeOpenAPIResponseInvalid + `","message":"response does not conform to the API contract"}`)
	}
	w.status = status
	w.body.Reset()
	w.body.Write(data)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
}

func (w *bufferedResponseWriter) FlushToOriginal() (int, error) {
	w.ResponseWriter.WriteHeader(w.Status())
	if w.body.Len() == 0 {
		return 0, nil
	}
	return w.ResponseWriter.Write(w.body.Bytes())
}
