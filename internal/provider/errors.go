package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// SyncError is a classified failure of a target call.
type SyncError struct {
	Kind     domain.SyncErrorKind
	Message  string
	Exchange Exchange
	Err      error
}

func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Err }

// AsSyncError extracts a *SyncError from err.
func AsSyncError(err error) (*SyncError, bool) {
	var se *SyncError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// ClassifyMessage maps target error text to a failure kind.
func ClassifyMessage(msg string) domain.SyncErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "already exists"), strings.Contains(m, "duplicate"):
		return domain.SyncDuplicateConflict
	case strings.Contains(m, "timeout"), strings.Contains(m, "timed out"):
		return domain.SyncTimeout
	case strings.Contains(m, "connection"), strings.Contains(m, "network"):
		return domain.SyncUnreachable
	default:
		return domain.SyncRejected
	}
}

// classifyTransport maps a transport error to a failure kind.
func classifyTransport(err error) domain.SyncErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.SyncTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return domain.SyncTimeout
	}
	return domain.SyncUnreachable
}
