// Package audit implements the audit logging service.
//
// Audit logs are append-only compliance records. Hard-delete is NOT allowed.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// DB is the subset of *pgxpool.Pool the logger uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one audit record.
type Entry struct {
	ID           string                 `json:"id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Actor        string                 `json:"actor"`
	Details      map[string]interface{} `json:"details,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	ResourceType string
	ResourceID   string
	Since        time.Time
	Limit        int
}

// Logger writes audit records to the database.
type Logger struct {
	db DB
}

// NewLogger creates a new audit Logger.
func NewLogger(db DB) *Logger {
	return &Logger{db: db}
}

// LogAction records an auditable action.
func (l *Logger) LogAction(ctx context.Context, action, resourceType, resourceID, actor string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = l.db.Exec(ctx,
		`INSERT INTO audit_logs (id, action, resource_type, resource_id, actor, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		generateAuditID(), action, resourceType, resourceID, actor, raw,
	)
	if err != nil {
		logger.Error("Failed to write audit log",
			zap.String("action", action),
			zap.String("resource_type", resourceType),
			zap.String("resource_id", resourceID),
			zap.Error(err),
		)
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// LogDecision records an approval decision.
func (l *Logger) LogDecision(ctx context.Context, requestID, decision, actor string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["decision"] = decision
	return l.LogAction(ctx, "request."+decision, domain.AggregateMasterRequest, requestID, actor, details)
}

// Handle is a domain.EventHandler recording every lifecycle event.
func (l *Logger) Handle(ctx context.Context, event *domain.DomainEvent) error {
	details := map[string]interface{}{"event_id": event.EventID}
	if len(event.Payload) > 0 {
		var payload map[string]interface{}
		if err := json.Unmarshal(event.Payload, &payload); err == nil {
			details["payload"] = payload
		}
	}
	return l.LogAction(ctx, string(event.EventType), event.AggregateType, event.AggregateID, event.CreatedBy, details)
}

// List returns records oldest first.
func (l *Logger) List(ctx context.Context, f Filter) ([]Entry, error) {
	sql := `SELECT id, action, resource_type, resource_id, actor, details, created_at
	          FROM audit_logs
	         WHERE ($1 = '' OR resource_type = $1)
	           AND ($2 = '' OR resource_id = $2)
	           AND created_at >= $3
	         ORDER BY created_at, id`
	args := []any{f.ResourceType, f.ResourceID, f.Since}
	if f.Limit > 0 {
		sql += ` LIMIT $4`
		args = append(args, f.Limit)
	}

	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e   Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Actor, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", e.ID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func generateAuditID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("audit-%s", id.String())
}
