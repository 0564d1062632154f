package handlers

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// Field errors report JSON names rather than Go field names.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

// bindJSON decodes the request body into obj and maps binding failures to
// VALIDATION_FAILED with one field error per violated rule. An empty body is
// accepted when optional is set.
func bindJSON(c *gin.Context, obj interface{}, optional bool) bool {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return true
	}
	if optional && errors.Is(err, io.EOF) {
		return true
	}
	_ = c.Error(bindError(err))
	return false
}

func bindError(err error) *apperrors.AppError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.BadRequest(apperrors.CodeValidationFailed, "malformed request body: "+err.Error())
	}
	fields := make([]apperrors.FieldError, 0, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		names = append(names, name)
		fields = append(fields, apperrors.FieldError{
			Field:   name,
			Code:    apperrors.CodeValidationFailed,
			Message: fmt.Sprintf("failed %q rule", fe.Tag()),
		})
	}
	return apperrors.BadRequest(apperrors.CodeValidationFailed, "invalid "+strings.Join(names, ", ")).
		WithFieldErrors(fields)
}
