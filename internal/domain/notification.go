package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NotificationEvent names a lifecycle event recorded in a request's history.
type NotificationEvent string

const (
	NotifyCreated   NotificationEvent = "created"
	NotifyApproved  NotificationEvent = "approved"
	NotifyRejected  NotificationEvent = "rejected"
	NotifyRetried   NotificationEvent = "retried"
	NotifyCompleted NotificationEvent = "completed"
	NotifyFailed    NotificationEvent = "failed"
)

func (e NotificationEvent) rank() int {
	switch e {
	case NotifyCreated:
		return 0
	case NotifyApproved, NotifyRejected:
		return 1
	case NotifyRetried:
		return 2
	default:
		return 3
	}
}

// Notification channels.
const (
	ChannelEmail = "email"
	ChannelInApp = "in_app"
)

// NotificationEntry is one record in a request's notification history.
type NotificationEntry struct {
	Seq           int               `json:"seq"`
	Event         NotificationEvent `json:"event"`
	Timestamp     time.Time         `json:"timestamp"`
	Recipient     string            `json:"recipient"`
	RecipientName string            `json:"recipient_name,omitempty"`
	Channel       string            `json:"channel,omitempty"`
}

// NotificationHistory is an append-only sequence of entries. The zero value
// is empty. Append returns a new history and never touches the receiver, so
// a history value handed out can be kept without copying.
type NotificationHistory struct {
	entries []NotificationEntry
}

// NewNotificationHistory builds a history from persisted entries, keeping
// their order.
func NewNotificationHistory(entries ...NotificationEntry) NotificationHistory {
	out := make([]NotificationEntry, len(entries))
	copy(out, entries)
	return NotificationHistory{entries: out}
}

// Len returns the number of entries.
func (h NotificationHistory) Len() int { return len(h.entries) }

// Entries returns a copy of the entries in append order.
func (h NotificationHistory) Entries() []NotificationEntry {
	out := make([]NotificationEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Last returns the most recent entry.
func (h NotificationHistory) Last() (NotificationEntry, bool) {
	if len(h.entries) == 0 {
		return NotificationEntry{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Since returns copies of the entries after the first n.
func (h NotificationHistory) Since(n int) []NotificationEntry {
	if n < 0 {
		n = 0
	}
	if n >= len(h.entries) {
		return nil
	}
	out := make([]NotificationEntry, len(h.entries)-n)
	copy(out, h.entries[n:])
	return out
}

// Count returns how many entries record event.
func (h NotificationHistory) Count(event NotificationEvent) int {
	n := 0
	for _, e := range h.entries {
		if e.Event == event {
			n++
		}
	}
	return n
}

// Append returns a history with entries added after the existing ones.
// Sequence numbers are assigned here; any Seq on the input is ignored.
func (h NotificationHistory) Append(entries ...NotificationEntry) NotificationHistory {
	out := make([]NotificationEntry, len(h.entries), len(h.entries)+len(entries))
	copy(out, h.entries)
	next := len(h.entries) + 1
	for _, e := range entries {
		e.Seq = next
		e.Timestamp = e.Timestamp.UTC()
		next++
		out = append(out, e)
	}
	return NotificationHistory{entries: out}
}

// HasPrefix reports whether prefix is an unmodified prefix of h. Stores use
// it to refuse writes that would drop or rewrite entries.
func (h NotificationHistory) HasPrefix(prefix NotificationHistory) bool {
	if len(prefix.entries) > len(h.entries) {
		return false
	}
	for i, e := range prefix.entries {
		o := h.entries[i]
		if e.Seq != o.Seq || e.Event != o.Event || e.Recipient != o.Recipient || !e.Timestamp.Equal(o.Timestamp) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the history as an ordered JSON array.
func (h NotificationHistory) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

// UnmarshalJSON decodes an ordered JSON array.
func (h *NotificationHistory) UnmarshalJSON(data []byte) error {
	var entries []NotificationEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("decode notification history: %w", err)
	}
	h.entries = entries
	return nil
}

// Render writes the history as text, one line per entry. The output depends
// only on the set of entries: entries are ordered by timestamp, then event
// order in the lifecycle, then recipient, then sequence number.
func (h NotificationHistory) Render() string {
	sorted := h.Entries()
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.Event.rank() != b.Event.rank() {
			return a.Event.rank() < b.Event.rank()
		}
		if a.Recipient != b.Recipient {
			return a.Recipient < b.Recipient
		}
		return a.Seq < b.Seq
	})

	var sb strings.Builder
	for _, e := range sorted {
		name := e.RecipientName
		if name == "" {
			name = e.Recipient
		}
		channel := e.Channel
		if channel == "" {
			channel = ChannelEmail
		}
		fmt.Fprintf(&sb, "%s  %-9s  %s <%s> via %s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.Event, name, e.Recipient, channel)
	}
	return sb.String()
}
