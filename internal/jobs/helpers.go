package jobs

import (
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// permanent reports whether a re-run of the same job cannot succeed.
func permanent(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidationFailed,
		apperrors.CodeNameInvalid,
		apperrors.CodeRequestNotFound,
		apperrors.CodeInvalidStateTransition,
		apperrors.CodeSourceDocumentNotFound:
		return true
	}
	return false
}

// cancelOrRetry cancels the job when err is permanent and hands it back to
// River for another attempt otherwise.
func cancelOrRetry(err error, kind string, fields ...zap.Field) error {
	if permanent(err) {
		logger.Warn("Job cancelled",
			append(fields,
				zap.String("kind", kind),
				zap.String("code", apperrors.CodeOf(err)),
				zap.Error(err),
			)...,
		)
		return river.JobCancel(err)
	}
	return err
}
