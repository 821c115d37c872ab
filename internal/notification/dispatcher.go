// internal/notification/dispatcher.go
// Persists notifications and routes them per channel according to
// recipient preferences.

package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/connectdesk/crm-backend/internal/realtime"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notifications handed to a delivery channel",
	}, []string{"channel"})

	suppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_suppressed_total",
		Help: "Channel deliveries suppressed by recipient preferences",
	}, []string{"channel"})
)

// DispatchRequest describes one notification to create and route
type DispatchRequest struct {
	RecipientID int64          `json:"recipient_id" validate:"required"`
	Type        Type           `json:"type" validate:"required"`
	Title       string         `json:"title" validate:"required"`
	Body        string         `json:"body" validate:"required"`
	Priority    Priority       `json:"priority"`
	SenderID    *int64         `json:"sender_id,omitempty"`
	Related     *RelatedEntity `json:"related,omitempty"`
	ExpiresAt   *time.Time     `json:"expires_at,omitempty"`
}

// EmailSender hands a notification to the email provider
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// PushSender hands a notification to the push provider
type PushSender interface {
	SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// SMSSender hands a notification to the SMS provider
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Dispatcher owns notification creation and channel routing.
// Deliberately no dedup: two triggering events mean two rows, even
// for the same recipient and entity.
type Dispatcher struct {
	repo        Repository
	prefs       PreferenceStore
	directory   RecipientDirectory
	broadcaster realtime.Broadcaster

	email EmailSender
	push  PushSender
	sms   SMSSender

	clock func() time.Time
}

// NewDispatcher wires the dispatcher to storage, the realtime layer
// and the delivery providers. Any provider may be nil; its channel
// is then skipped after the preference decision.
func NewDispatcher(repo Repository, prefs PreferenceStore, directory RecipientDirectory, broadcaster realtime.Broadcaster, email EmailSender, push PushSender, sms SMSSender) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		prefs:       prefs,
		directory:   directory,
		broadcaster: broadcaster,
		email:       email,
		push:        push,
		sms:         sms,
		clock:       time.Now,
	}
}

type notificationEvent struct {
	Notification *Notification `json:"notification"`
}

// Dispatch persists the notification and evaluates every channel.
// The row exists regardless of how many channels fire; a recipient
// with everything disabled still gets a feed entry to reconcile
// later.
func (d *Dispatcher) Dispatch(ctx context.Context, req *DispatchRequest) (*Notification, error) {
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	now := d.clock()
	n := &Notification{
		ID:          uuid.New(),
		RecipientID: req.RecipientID,
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		Priority:    priority,
		Status:      StatusPending,
		SenderID:    req.SenderID,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   now,
	}
	if req.Related != nil {
		n.RelatedKind = &req.Related.Kind
		n.RelatedID = &req.Related.ID
	}

	if err := d.repo.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	todayCount, err := d.repo.CountToday(ctx, n.RecipientID, n.Type, startOfDay(now), n.ID)
	if err != nil {
		log.Printf("Daily count lookup failed for user %d, treating cap as unmet: %v", n.RecipientID, err)
		todayCount = 0
	}

	for _, channel := range Channels {
		pref, err := d.prefs.GetPreference(ctx, n.RecipientID, n.Type, channel)
		if err != nil {
			log.Printf("Preference lookup failed for user %d channel %s: %v", n.RecipientID, channel, err)
			continue
		}

		if !pref.ShouldDeliver(n, now, todayCount) {
			suppressedTotal.WithLabelValues(string(channel)).Inc()
			continue
		}

		d.deliver(ctx, n, channel)
	}

	return n, nil
}

func (d *Dispatcher) deliver(ctx context.Context, n *Notification, channel Channel) {
	switch channel {
	case ChannelInApp:
		d.broadcaster.Broadcast(realtime.UserKey(n.RecipientID), realtime.NewEvent("notification", notificationEvent{Notification: n}))
		d.markDelivered(ctx, n, ChannelInApp)

	case ChannelEmail:
		if d.email == nil {
			return
		}
		to, err := d.directory.EmailAddress(ctx, n.RecipientID)
		if err != nil {
			log.Printf("No email address for user %d: %v", n.RecipientID, err)
			return
		}
		if err := d.email.SendEmail(ctx, to, n.Title, n.Body); err != nil {
			log.Printf("Email delivery failed for notification %s: %v", n.ID, err)
			return
		}
		d.markDelivered(ctx, n, ChannelEmail)

	case ChannelPush:
		if d.push == nil {
			return
		}
		tokens, err := d.directory.PushTokens(ctx, n.RecipientID)
		if err != nil || len(tokens) == 0 {
			return
		}
		data := map[string]string{"notification_id": n.ID.String(), "type": string(n.Type)}
		if err := d.push.SendPush(ctx, tokens, n.Title, n.Body, data); err != nil {
			log.Printf("Push delivery failed for notification %s: %v", n.ID, err)
			return
		}
		d.markDelivered(ctx, n, ChannelPush)

	case ChannelSMS:
		if d.sms == nil {
			return
		}
		to, err := d.directory.PhoneNumber(ctx, n.RecipientID)
		if err != nil {
			return
		}
		// Fire-and-forget: the row keeps no SMS delivery flag
		if err := d.sms.SendSMS(ctx, to, n.Title+": "+n.Body); err != nil {
			log.Printf("SMS delivery failed for notification %s: %v", n.ID, err)
			return
		}
		deliveriesTotal.WithLabelValues(string(ChannelSMS)).Inc()
	}
}

func (d *Dispatcher) markDelivered(ctx context.Context, n *Notification, channel Channel) {
	if err := d.repo.SetDelivered(ctx, n.ID, channel, d.clock()); err != nil {
		log.Printf("Failed to record %s delivery for %s: %v", channel, n.ID, err)
		return
	}

	switch channel {
	case ChannelInApp:
		n.InAppDelivered = true
	case ChannelEmail:
		n.EmailDelivered = true
	case ChannelPush:
		n.PushDelivered = true
	}
	n.Status = StatusDelivered
	deliveriesTotal.WithLabelValues(string(channel)).Inc()
}

// MarkRead acknowledges a notification for its recipient. Reading an
// already-read notification is a no-op.
func (d *Dispatcher) MarkRead(ctx context.Context, id uuid.UUID, recipientID int64) error {
	_, err := d.repo.MarkRead(ctx, id, recipientID, d.clock())
	return err
}

// MarkAllRead acknowledges a recipient's whole unread feed
func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID int64) (int64, error) {
	return d.repo.MarkAllRead(ctx, recipientID, d.clock())
}

// List returns a page of the recipient's feed
func (d *Dispatcher) List(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]*Notification, error) {
	return d.repo.ListByRecipient(ctx, recipientID, unreadOnly, limit, offset)
}

// UnreadCount returns the recipient's unread total
func (d *Dispatcher) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	return d.repo.UnreadCount(ctx, recipientID)
}

// Preferences returns every stored rule for a user
func (d *Dispatcher) Preferences(ctx context.Context, userID int64) ([]*Preference, error) {
	return d.prefs.ListPreferences(ctx, userID)
}

// SavePreference stores one delivery rule
func (d *Dispatcher) SavePreference(ctx context.Context, p *Preference) error {
	return d.prefs.UpsertPreference(ctx, p)
}

// NotifyAssignment alerts a user that a customer was assigned to them
func (d *Dispatcher) NotifyAssignment(ctx context.Context, customerID uuid.UUID, customerName string, assignedUserID int64, assignedBy *int64) (*Notification, error) {
	return d.Dispatch(ctx, &DispatchRequest{
		RecipientID: assignedUserID,
		Type:        TypeAssignment,
		Title:       "New customer assigned",
		Body:        fmt.Sprintf("%s has been assigned to you", customerName),
		Priority:    PriorityHigh,
		SenderID:    assignedBy,
		Related:     &RelatedEntity{Kind: RelatedCustomer, ID: customerID},
	})
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
