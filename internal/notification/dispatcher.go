package notification

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/worker"
)

// Submitter runs delivery tasks off the caller's goroutine.
// *worker.Pools satisfies it.
type Submitter interface {
	SubmitDetached(poolName string, task worker.Task) error
}

// Dispatcher turns lifecycle events into history entries and deliveries.
type Dispatcher struct {
	directory Directory
	sender    Sender
	pools     Submitter
	now       func() time.Time

	// OnDelivery observes every delivery attempt. Optional.
	OnDelivery func(event domain.NotificationEvent, err error)
}

// NewDispatcher creates a Dispatcher. With a nil pools, delivery runs
// inline.
func NewDispatcher(directory Directory, sender Sender, pools Submitter) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		sender:    sender,
		pools:     pools,
		now:       time.Now,
	}
}

// Assign picks the approver a new request is assigned to.
func (d *Dispatcher) Assign(ctx context.Context, _ *domain.MasterCreationRequest) (string, error) {
	return d.directory.NextAssignee(ctx)
}

// Entries resolves the recipients of event for req:
//   - created: every approver
//   - approved, rejected, retried, completed: the requester
//   - failed: the assigned approver, or every approver when unassigned
func (d *Dispatcher) Entries(ctx context.Context, event domain.NotificationEvent, req *domain.MasterCreationRequest) ([]domain.NotificationEntry, error) {
	now := d.now().UTC()
	entry := func(userID, name string) domain.NotificationEntry {
		return domain.NotificationEntry{
			Event:         event,
			Timestamp:     now,
			Recipient:     userID,
			RecipientName: name,
			Channel:       domain.ChannelEmail,
		}
	}

	switch event {
	case domain.NotifyCreated:
		return d.approverEntries(ctx, entry)
	case domain.NotifyFailed:
		if req.AssignedTo != "" {
			return []domain.NotificationEntry{entry(req.AssignedTo, d.nameOf(ctx, req.AssignedTo))}, nil
		}
		return d.approverEntries(ctx, entry)
	case domain.NotifyApproved, domain.NotifyRejected, domain.NotifyRetried, domain.NotifyCompleted:
		if req.RequestedBy == "" {
			return nil, nil
		}
		return []domain.NotificationEntry{entry(req.RequestedBy, "")}, nil
	default:
		return nil, fmt.Errorf("unknown notification event %q", event)
	}
}

func (d *Dispatcher) approverEntries(ctx context.Context, entry func(string, string) domain.NotificationEntry) ([]domain.NotificationEntry, error) {
	approvers, err := d.directory.Approvers(ctx)
	if err != nil {
		return nil, err
	}
	if len(approvers) == 0 {
		logger.Warn("No approvers configured for notification")
	}
	out := make([]domain.NotificationEntry, 0, len(approvers))
	for _, a := range approvers {
		out = append(out, entry(a.UserID, a.Name))
	}
	return out, nil
}

func (d *Dispatcher) nameOf(ctx context.Context, userID string) string {
	approvers, err := d.directory.Approvers(ctx)
	if err != nil {
		return ""
	}
	for _, a := range approvers {
		if a.UserID == userID {
			return a.Name
		}
	}
	return ""
}

// Deliver sends one message per entry. Failures are logged and reported to
// OnDelivery; they never reach the caller.
func (d *Dispatcher) Deliver(ctx context.Context, req *domain.MasterCreationRequest, entries []domain.NotificationEntry) {
	for _, e := range entries {
		msg := buildMessage(req, e)
		task := func(ctx context.Context) {
			err := d.sender.Send(ctx, msg)
			if err != nil {
				logger.Error("Notification delivery failed",
					logger.RequestID(msg.RequestID),
					zap.String("recipient", msg.Recipient),
					zap.String("event", string(msg.Event)),
					zap.Error(err),
				)
			}
			if d.OnDelivery != nil {
				d.OnDelivery(msg.Event, err)
			}
		}

		if d.pools == nil {
			task(ctx)
			continue
		}
		if err := d.pools.SubmitDetached(worker.PoolNotify, task); err != nil {
			logger.Error("Notification delivery not scheduled",
				logger.RequestID(msg.RequestID),
				zap.String("recipient", msg.Recipient),
				zap.Error(err),
			)
			if d.OnDelivery != nil {
				d.OnDelivery(msg.Event, err)
			}
		}
	}
}

// Handle is a domain.EventHandler that delivers the entries a transition
// appended.
func (d *Dispatcher) Handle(ctx context.Context, event *domain.DomainEvent) error {
	if event.Request == nil || len(event.Notifications) == 0 {
		return nil
	}
	d.Deliver(ctx, event.Request, event.Notifications)
	return nil
}

// Render returns the text form of a request's history.
func (d *Dispatcher) Render(history domain.NotificationHistory) string {
	return history.Render()
}

func buildMessage(req *domain.MasterCreationRequest, e domain.NotificationEntry) Message {
	title, body := describe(req, e.Event)
	return Message{
		Recipient:     e.Recipient,
		RecipientName: e.RecipientName,
		Channel:       e.Channel,
		Event:         e.Event,
		Title:         title,
		Body:          body,
		RequestID:     req.ID,
		Company:       req.Company,
		MasterType:    req.MasterType,
		MasterName:    req.MasterName,
		Timestamp:     e.Timestamp,
	}
}

func describe(req *domain.MasterCreationRequest, event domain.NotificationEvent) (string, string) {
	what := fmt.Sprintf("%s %q in %s", req.MasterType, req.MasterName, req.Company)
	switch event {
	case domain.NotifyCreated:
		body := fmt.Sprintf("%s does not exist in Tally and needs approval before it is created.", what)
		if src, ok := req.SourceRef(); ok {
			body += fmt.Sprintf(" Required by %s.", src)
		}
		return "Master creation pending approval: " + req.MasterName, body
	case domain.NotifyApproved:
		return "Master creation approved: " + req.MasterName,
			fmt.Sprintf("%s was approved by %s and is being created.", what, req.ApprovedBy)
	case domain.NotifyRejected:
		return "Master creation rejected: " + req.MasterName,
			fmt.Sprintf("%s was rejected by %s: %s", what, req.RejectedBy, req.RejectionReason)
	case domain.NotifyRetried:
		return "Master creation retried: " + req.MasterName,
			fmt.Sprintf("Creation of %s is being retried.", what)
	case domain.NotifyCompleted:
		return "Master created: " + req.MasterName,
			fmt.Sprintf("%s now exists in Tally.", what)
	case domain.NotifyFailed:
		return "Master creation failed: " + req.MasterName,
			fmt.Sprintf("Creating %s failed (%s): %s", what, req.SyncErrorKind, req.SyncError)
	default:
		return string(event) + ": " + req.MasterName, what
	}
}
