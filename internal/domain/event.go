package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Request lifecycle
	EventRequestCreated    EventType = "MASTER_REQUEST_CREATED"
	EventRequestReused     EventType = "MASTER_REQUEST_REUSED"
	EventRequestApproved   EventType = "MASTER_REQUEST_APPROVED"
	EventRequestRejected   EventType = "MASTER_REQUEST_REJECTED"
	EventRequestRetried    EventType = "MASTER_REQUEST_RETRIED"
	EventRequestInProgress EventType = "MASTER_REQUEST_IN_PROGRESS"
	EventRequestCompleted  EventType = "MASTER_REQUEST_COMPLETED"
	EventRequestFailed     EventType = "MASTER_REQUEST_FAILED"

	// Drift accepted by an approver
	EventDriftAcknowledged EventType = "SOURCE_DRIFT_ACKNOWLEDGED"

	// Linked transaction push
	EventTransactionPushed     EventType = "TRANSACTION_PUSHED"
	EventTransactionPushFailed EventType = "TRANSACTION_PUSH_FAILED"

	// Catalog
	EventCatalogRefreshed EventType = "CATALOG_REFRESHED"
)

// Aggregate types.
const (
	AggregateMasterRequest = "master_request"
	AggregateTransaction   = "transaction"
	AggregateCatalog       = "catalog"
)

// DomainEvent is an immutable record of something that happened. Payload is
// the JSON encoding of one of the payload types below.
type DomainEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`

	// Request is the state after the transition, for in-process handlers.
	// It is not serialized.
	Request *MasterCreationRequest `json:"-"`
	// Notifications are the history entries appended by the transition.
	Notifications []NotificationEntry `json:"-"`
}

// TransitionPayload is the payload for request lifecycle events.
type TransitionPayload struct {
	RequestID  string        `json:"request_id"`
	Company    string        `json:"company"`
	MasterType MasterType    `json:"master_type"`
	MasterName string        `json:"master_name"`
	From       Status        `json:"from,omitempty"`
	To         Status        `json:"to"`
	Actor      string        `json:"actor"`
	Reason     string        `json:"reason,omitempty"`
	SyncLogID  string        `json:"sync_log_id,omitempty"`
	ErrorKind  SyncErrorKind `json:"error_kind,omitempty"`
	Fields     []string      `json:"fields,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p TransitionPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PushPayload is the payload for transaction push events.
type PushPayload struct {
	Doctype   string `json:"doctype"`
	Document  string `json:"document"`
	Company   string `json:"company"`
	Attempt   int    `json:"attempt"`
	SyncLogID string `json:"sync_log_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToJSON converts payload to JSON bytes.
func (p PushPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// CatalogPayload is the payload for catalog refresh events.
type CatalogPayload struct {
	Company string         `json:"company"`
	Counts  map[string]int `json:"counts"`
	Source  string         `json:"source"`
}

// ToJSON converts payload to JSON bytes.
func (p CatalogPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
