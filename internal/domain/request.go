package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

// Status is the lifecycle state of a master creation request.
type Status string

const (
	StatusPendingApproval Status = "Pending Approval"
	StatusApproved        Status = "Approved"
	StatusInProgress      Status = "In Progress"
	StatusCompleted       Status = "Completed"
	StatusFailed          Status = "Failed"
	StatusRejected        Status = "Rejected"
)

var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusApproved, StatusRejected},
	StatusApproved:        {StatusInProgress},
	StatusInProgress:      {StatusCompleted, StatusFailed},
	StatusFailed:          {StatusInProgress},
	StatusRejected:        nil,
	StatusCompleted:       nil,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Active reports whether a request in s blocks a second request for the same identity.
func (s Status) Active() bool {
	return s.Valid() && !s.Terminal()
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns the statuses reachable from s.
func AllowedFrom(s Status) []Status {
	out := make([]Status, len(transitions[s]))
	copy(out, transitions[s])
	return out
}

// ActiveStatuses lists the non-terminal statuses.
var ActiveStatuses = []Status{StatusPendingApproval, StatusApproved, StatusInProgress, StatusFailed}

// Priority orders requests in operator queues. It has no effect on scheduling.
type Priority string

const (
	PriorityNormal Priority = "Normal"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

// Rank returns a sortable weight; higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 2
	case PriorityHigh:
		return 1
	default:
		return 0
	}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityNormal || p == PriorityHigh || p == PriorityUrgent
}

// Max returns the more urgent of p and other.
func (p Priority) Max(other Priority) Priority {
	if other.Rank() > p.Rank() {
		return other
	}
	if !p.Valid() {
		return PriorityNormal
	}
	return p
}

// SyncErrorKind classifies a failed call to the target system.
type SyncErrorKind string

const (
	SyncUnreachable       SyncErrorKind = "Unreachable"
	SyncRejected          SyncErrorKind = "Rejected"
	SyncDuplicateConflict SyncErrorKind = "DuplicateConflict"
	SyncTimeout           SyncErrorKind = "Timeout"
)

// OutcomeUnknown reports whether a failure of this kind may have happened
// after the target accepted the payload.
func (k SyncErrorKind) OutcomeUnknown() bool {
	return k == SyncTimeout || k == SyncUnreachable
}

// DocumentRef points at a document in the source ledger.
type DocumentRef struct {
	Doctype string `json:"doctype"`
	Name    string `json:"name"`
}

// IsZero reports whether the reference is empty.
func (r DocumentRef) IsZero() bool {
	return r.Doctype == "" && r.Name == ""
}

func (r DocumentRef) String() string {
	return r.Doctype + "/" + r.Name
}

// CreationPayload is what gets sent to the target system. It is frozen at
// approval so that a retry re-submits exactly what was approved.
type CreationPayload struct {
	Company       string         `json:"company"`
	TargetCompany string         `json:"target_company,omitempty"`
	MasterType    MasterType     `json:"master_type"`
	Name          string         `json:"name"`
	ParentGroup   string         `json:"parent_group,omitempty"`
	Fields        SnapshotFields `json:"fields"`
}

// Validate checks the structural constraints the target system puts on a
// master: a non-empty name of at most maxNameLength runes, and a parent for
// types that need one.
func (p CreationPayload) Validate(maxNameLength int) error {
	name := strings.TrimSpace(p.Name)
	switch {
	case name == "":
		return apperrors.ErrValidation("master_name", "master name is empty")
	case maxNameLength > 0 && utf8.RuneCountInString(name) > maxNameLength:
		return apperrors.ErrValidation("master_name",
			fmt.Sprintf("master name is longer than %d characters", maxNameLength)).
			WithParam("max_length", maxNameLength).
			WithParam("suggested_name", SuggestName(name, maxNameLength))
	case p.MasterType.RequiresParent() && strings.TrimSpace(p.ParentGroup) == "":
		return apperrors.ErrValidation("parent_group",
			fmt.Sprintf("%s requires a parent group", p.MasterType))
	}
	return nil
}

// MasterCreationRequest is a durable request to create one master in the
// target system.
type MasterCreationRequest struct {
	ID          string     `json:"id"`
	Company     string     `json:"company"`
	MasterType  MasterType `json:"master_type"`
	MasterName  string     `json:"master_name"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	ParentGroup string     `json:"parent_group,omitempty"`

	SourceSnapshot    *SourceSnapshot `json:"source_snapshot,omitempty"`
	SourceDoctype     string          `json:"source_doctype,omitempty"`
	SourceDocument    string          `json:"source_document,omitempty"`
	LinkedTransaction *DocumentRef    `json:"linked_transaction,omitempty"`
	Reason            string          `json:"reason,omitempty"`

	CreationPayload *CreationPayload `json:"creation_payload,omitempty"`
	SyncLogID       string           `json:"sync_log_id,omitempty"`
	SyncError       string           `json:"sync_error,omitempty"`
	SyncErrorKind   SyncErrorKind    `json:"sync_error_kind,omitempty"`
	Attempts        int              `json:"attempts"`

	NotificationHistory NotificationHistory `json:"notification_history"`

	ApproverNotes     string   `json:"approver_notes,omitempty"`
	RejectionReason   string   `json:"rejection_reason,omitempty"`
	ModifiedName      string   `json:"modified_name,omitempty"`
	ModifiedParent    string   `json:"modified_parent,omitempty"`
	DriftAcknowledged []string `json:"drift_acknowledged,omitempty"`

	RequestedBy string `json:"requested_by,omitempty"`
	AssignedTo  string `json:"assigned_to,omitempty"`
	ApprovedBy  string `json:"approved_by,omitempty"`
	RejectedBy  string `json:"rejected_by,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Version int64 `json:"version"`
}

// Identity returns the natural key of the request.
func (r *MasterCreationRequest) Identity() Identity {
	return Identity{Company: r.Company, MasterType: r.MasterType, MasterName: r.MasterName}
}

// SourceRef returns the originating document, if any.
func (r *MasterCreationRequest) SourceRef() (DocumentRef, bool) {
	if r.SourceDoctype == "" || r.SourceDocument == "" {
		return DocumentRef{}, false
	}
	return DocumentRef{Doctype: r.SourceDoctype, Name: r.SourceDocument}, true
}

// EffectiveName is the name the master is created under.
func (r *MasterCreationRequest) EffectiveName() string {
	if r.ModifiedName != "" {
		return r.ModifiedName
	}
	return r.MasterName
}

// EffectiveParent is the parent the master is created under.
func (r *MasterCreationRequest) EffectiveParent() string {
	if r.ModifiedParent != "" {
		return r.ModifiedParent
	}
	return r.ParentGroup
}

// BuildPayload assembles the creation payload from the snapshot with
// approval overrides applied.
func (r *MasterCreationRequest) BuildPayload(targetCompany string) CreationPayload {
	p := CreationPayload{
		Company:       r.Company,
		TargetCompany: targetCompany,
		MasterType:    r.MasterType,
		Name:          r.EffectiveName(),
		ParentGroup:   r.EffectiveParent(),
	}
	if r.SourceSnapshot != nil {
		p.Fields = r.SourceSnapshot.Fields
	}
	p.Fields.MasterName = p.Name
	p.Fields.ParentGroup = p.ParentGroup
	return p
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate persisted state in place.
func (r *MasterCreationRequest) Clone() *MasterCreationRequest {
	if r == nil {
		return nil
	}
	c := *r
	if r.SourceSnapshot != nil {
		s := *r.SourceSnapshot
		c.SourceSnapshot = &s
	}
	if r.LinkedTransaction != nil {
		l := *r.LinkedTransaction
		c.LinkedTransaction = &l
	}
	if r.CreationPayload != nil {
		p := *r.CreationPayload
		c.CreationPayload = &p
	}
	c.DriftAcknowledged = append([]string(nil), r.DriftAcknowledged...)
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.CompletedAt = cloneTime(r.CompletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// RequestRef is the summary returned when a request is created or reused.
type RequestRef struct {
	ID         string     `json:"id"`
	MasterType MasterType `json:"master_type"`
	MasterName string     `json:"master_name"`
	Status     Status     `json:"status"`
	Priority   Priority   `json:"priority"`
	Created    bool       `json:"created"`
}

// Ref summarizes r.
func (r *MasterCreationRequest) Ref(created bool) RequestRef {
	return RequestRef{
		ID:         r.ID,
		MasterType: r.MasterType,
		MasterName: r.MasterName,
		Status:     r.Status,
		Priority:   r.Priority,
		Created:    created,
	}
}

// Actor is the caller identity passed explicitly into every lifecycle call.
type Actor struct {
	UserID string   `json:"user_id"`
	Name   string   `json:"name,omitempty"`
	Email  string   `json:"email,omitempty"`
	Roles  []string `json:"roles,omitempty"`
}

// SystemActor is used for transitions driven by background jobs.
var SystemActor = Actor{UserID: "system", Name: "System", Roles: []string{"system"}}

// HasRole reports whether a holds role.
func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// SyncLog records one call to the target system.
type SyncLog struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id,omitempty"`
	Operation    string        `json:"operation"`
	Target       string        `json:"target"`
	Company      string        `json:"company"`
	Success      bool          `json:"success"`
	ErrorKind    SyncErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RequestXML   string        `json:"request_xml,omitempty"`
	ResponseXML  string        `json:"response_xml,omitempty"`
	StatusCode   int           `json:"status_code,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Sync log operations.
const (
	OperationCreateMaster    = "CreateMaster"
	OperationPushTransaction = "PushTransaction"
)

// Transaction push states.
const (
	PushPending   = "Pending"
	PushCompleted = "Completed"
	PushFailed    = "Failed"
)

// TransactionPush is the push state of a transaction whose masters were
// created through approval requests.
type TransactionPush struct {
	Doctype   string    `json:"doctype"`
	Document  string    `json:"document"`
	Company   string    `json:"company"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	SyncLogID string    `json:"sync_log_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
