package repository

import (
	"fmt"
	"net/http"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

func errConcurrentModification(id string, status domain.Status) *apperrors.AppError {
	return apperrors.New(apperrors.CodeConcurrentModification,
		fmt.Sprintf("request %s changed while it was being updated", id), http.StatusConflict).
		WithParam("request_id", id).
		WithParam("expected_status", string(status))
}

func errHistoryRewritten(id string) *apperrors.AppError {
	return apperrors.Internal(apperrors.CodeInternal,
		fmt.Sprintf("update of request %s would rewrite its notification history", id))
}

func errIdentityChanged(id string) *apperrors.AppError {
	return apperrors.Internal(apperrors.CodeInternal,
		fmt.Sprintf("update of request %s would change its identity or snapshot", id))
}

// checkUpdate enforces the write invariants shared by every store.
func checkUpdate(cur, next *domain.MasterCreationRequest) error {
	if !next.NotificationHistory.HasPrefix(cur.NotificationHistory) {
		return errHistoryRewritten(cur.ID)
	}
	if next.ID != cur.ID || next.Company != cur.Company || next.MasterType != cur.MasterType ||
		next.MasterName != cur.MasterName {
		return errIdentityChanged(cur.ID)
	}
	if (cur.SourceSnapshot == nil) != (next.SourceSnapshot == nil) ||
		(cur.SourceSnapshot != nil && *cur.SourceSnapshot != *next.SourceSnapshot) {
		return errIdentityChanged(cur.ID)
	}
	return nil
}
