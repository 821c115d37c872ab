// internal/notification/models.go

package notification

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type enumerates what a notification is about
type Type string

const (
	TypeMessage    Type = "message"
	TypeAssignment Type = "assignment"
	TypeMention    Type = "mention"
	TypeComment    Type = "comment"
	TypeFileShare  Type = "file_share"
	TypeSystem     Type = "system"
	TypeReminder   Type = "reminder"
	TypeWarning    Type = "warning"
	TypeError      Type = "error"
)

// Priority orders notifications for preference filtering
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Meets reports whether p clears the given floor
func (p Priority) Meets(floor Priority) bool {
	return priorityRank[p] >= priorityRank[floor]
}

// Channel is a delivery route for a notification
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// Channels lists every route the dispatcher evaluates, in order
var Channels = []Channel{ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS}

// Status is the lifecycle state of a notification row
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// RelatedKind tags what entity a notification points back to
type RelatedKind string

const (
	RelatedMessage      RelatedKind = "message"
	RelatedComment      RelatedKind = "comment"
	RelatedConversation RelatedKind = "conversation"
	RelatedCustomer     RelatedKind = "customer"
)

// RelatedEntity is a tagged reference to the entity that triggered
// the notification
type RelatedEntity struct {
	Kind RelatedKind `json:"kind"`
	ID   uuid.UUID   `json:"id"`
}

// Notification is one alert persisted for a recipient
type Notification struct {
	ID          uuid.UUID `db:"id" json:"id"`
	RecipientID int64     `db:"recipient_id" json:"recipient_id"`
	Type        Type      `db:"type" json:"type"`
	Title       string    `db:"title" json:"title"`
	Body        string    `db:"body" json:"body"`
	Priority    Priority  `db:"priority" json:"priority"`
	Status      Status    `db:"status" json:"status"`

	SenderID    *int64       `db:"sender_id" json:"sender_id,omitempty"`
	RelatedKind *RelatedKind `db:"related_kind" json:"-"`
	RelatedID   *uuid.UUID   `db:"related_id" json:"-"`

	IsRead bool       `db:"is_read" json:"is_read"`
	ReadAt *time.Time `db:"read_at" json:"read_at,omitempty"`

	// Tracked delivery flags, one per channel that reports back.
	// SMS is fire-and-forget and keeps no flag.
	InAppDelivered bool `db:"in_app_delivered" json:"in_app_delivered"`
	EmailDelivered bool `db:"email_delivered" json:"email_delivered"`
	PushDelivered  bool `db:"push_delivered" json:"push_delivered"`

	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
}

// Related reconstructs the tagged reference from the row columns
func (n *Notification) Related() *RelatedEntity {
	if n.RelatedKind == nil || n.RelatedID == nil {
		return nil
	}
	return &RelatedEntity{Kind: *n.RelatedKind, ID: *n.RelatedID}
}

// Delivered reports whether the flag for a tracked channel is set
func (n *Notification) Delivered(ch Channel) bool {
	switch ch {
	case ChannelInApp:
		return n.InAppDelivered
	case ChannelEmail:
		return n.EmailDelivered
	case ChannelPush:
		return n.PushDelivered
	default:
		return false
	}
}

// Expired reports whether the notification is past its expiry
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && now.After(*n.ExpiresAt)
}

// Preference is one (user, type, channel) delivery rule. An absent
// row means enabled with a normal priority floor.
type Preference struct {
	ID      int64   `db:"id" json:"id"`
	UserID  int64   `db:"user_id" json:"user_id"`
	Type    Type    `db:"type" json:"type"`
	Channel Channel `db:"channel" json:"channel"`

	Enabled         bool     `db:"enabled" json:"enabled"`
	MinimumPriority Priority `db:"minimum_priority" json:"minimum_priority"`

	// Quiet hours as "HH:MM" wall-clock strings; the window may wrap
	// past midnight
	QuietStart *string `db:"quiet_start" json:"quiet_start,omitempty"`
	QuietEnd   *string `db:"quiet_end" json:"quiet_end,omitempty"`

	WeekendEnabled bool `db:"weekend_enabled" json:"weekend_enabled"`
	MaxPerDay      *int `db:"max_per_day" json:"max_per_day,omitempty"`
}

// DefaultPreference is what applies when no row exists
func DefaultPreference(userID int64, typ Type, channel Channel) *Preference {
	return &Preference{
		UserID:          userID,
		Type:            typ,
		Channel:         channel,
		Enabled:         true,
		MinimumPriority: PriorityNormal,
		WeekendEnabled:  true,
	}
}

// ShouldDeliver applies the preference rules to one notification.
// deliveredToday counts same-type notifications already created for
// the recipient today, excluding this one. Urgent notifications
// ignore quiet hours and weekend rules but never the enabled switch,
// the priority floor or the daily cap.
func (p *Preference) ShouldDeliver(n *Notification, now time.Time, deliveredToday int) bool {
	if !p.Enabled {
		return false
	}

	if !n.Priority.Meets(p.MinimumPriority) {
		return false
	}

	if n.Priority != PriorityUrgent {
		if p.inQuietHours(now) {
			return false
		}
		if isWeekend(now) && !p.WeekendEnabled {
			return false
		}
	}

	if p.MaxPerDay != nil && deliveredToday >= *p.MaxPerDay {
		return false
	}

	return true
}

func (p *Preference) inQuietHours(now time.Time) bool {
	if p.QuietStart == nil || p.QuietEnd == nil {
		return false
	}

	start, err := parseClock(*p.QuietStart)
	if err != nil {
		return false
	}
	end, err := parseClock(*p.QuietEnd)
	if err != nil {
		return false
	}

	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute <= end
	}
	// Window wraps past midnight, e.g. 22:00-07:00
	return minute >= start || minute <= end
}

func isWeekend(now time.Time) bool {
	wd := now.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// parseClock turns "HH:MM" into minutes from midnight
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	return hour*60 + minute, nil
}
