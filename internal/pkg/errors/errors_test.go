package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "without wrapped error",
			err:  New("REQUEST_NOT_FOUND", "request not found", http.StatusNotFound),
			want: "REQUEST_NOT_FOUND: request not found",
		},
		{
			name: "with wrapped error",
			err:  Wrap(fmt.Errorf("db error"), "DB_ERROR", "database failure", http.StatusInternalServerError),
			want: "DB_ERROR: database failure: db error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap(inner, "CODE", "msg", 500)

	assert.True(t, errors.Is(appErr, inner))
}

func TestIsAppError(t *testing.T) {
	appErr := NotFound("NOT_FOUND", "resource not found")
	wrapped := fmt.Errorf("wrapped: %w", appErr)

	got, ok := IsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, "NOT_FOUND", got.Code)
	assert.Equal(t, "NOT_FOUND", CodeOf(wrapped))
	assert.True(t, HasCode(wrapped, "NOT_FOUND"))
	assert.False(t, HasCode(nil, "NOT_FOUND"))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantStatus int
	}{
		{"NotFound", NotFound("NF", "not found"), http.StatusNotFound},
		{"BadRequest", BadRequest("BR", "bad request"), http.StatusBadRequest},
		{"Unauthorized", Unauthorized("UA", "unauthorized"), http.StatusUnauthorized},
		{"Forbidden", Forbidden("FB", "forbidden"), http.StatusForbidden},
		{"Conflict", Conflict("CF", "conflict"), http.StatusConflict},
		{"Unavailable", Unavailable("SU", "unavailable"), http.StatusServiceUnavailable},
		{"Internal", Internal("IE", "internal"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantStatus, tt.err.HTTPStatus)
		})
	}
}

func TestErrInvalidTransition_Params(t *testing.T) {
	err := ErrInvalidTransition("Approved", "In Progress")

	assert.Equal(t, CodeInvalidStateTransition, err.Code)
	assert.Equal(t, http.StatusConflict, err.HTTPStatus)
	assert.Equal(t, `cannot move request from "Approved" to "In Progress"`, err.Message)
	assert.Equal(t, "Approved", err.Params["current_status"])
	assert.Equal(t, "In Progress", err.Params["attempted"])
}

func TestErrValidation_FieldErrors(t *testing.T) {
	err := ErrValidation("reason", "rejection reason is required")

	require.Len(t, err.FieldErrors, 1)
	assert.Equal(t, "reason", err.FieldErrors[0].Field)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
}

func TestWithParam_NilSafe(t *testing.T) {
	var nilErr *AppError
	assert.Nil(t, nilErr.WithParam("k", "v"))

	err := ErrDriftDetected([]string{"parent_group"})
	assert.Equal(t, []string{"parent_group"}, err.Params["changed_fields"])
}

func TestIsSyncFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", New(CodeSyncTimeout, "slow", http.StatusGatewayTimeout), true},
		{"rejected wrapped", fmt.Errorf("job: %w", New(CodeSyncRejected, "no", http.StatusBadGateway)), true},
		{"validation", ErrValidation("name", "empty"), false},
		{"plain", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsSyncFailure(tt.err))
		})
	}
}
