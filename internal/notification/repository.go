// internal/notification/repository.go

package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists notifications
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	ListByRecipient(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]*Notification, error)
	UnreadCount(ctx context.Context, recipientID int64) (int, error)
	// MarkRead flips the read flag once for the recipient's own row;
	// reports whether this call did it
	MarkRead(ctx context.Context, id uuid.UUID, recipientID int64, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	// SetDelivered records a channel hand-off on the row
	SetDelivered(ctx context.Context, id uuid.UUID, channel Channel, at time.Time) error
	// CountToday counts same-type rows created for the recipient
	// since dayStart, excluding the given id
	CountToday(ctx context.Context, recipientID int64, typ Type, dayStart time.Time, exclude uuid.UUID) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// PreferenceStore reads and writes delivery preferences
type PreferenceStore interface {
	// GetPreference returns the stored rule or the default when
	// no row exists
	GetPreference(ctx context.Context, userID int64, typ Type, channel Channel) (*Preference, error)
	UpsertPreference(ctx context.Context, p *Preference) error
	ListPreferences(ctx context.Context, userID int64) ([]*Preference, error)
}

// RecipientDirectory resolves delivery addresses for internal users
type RecipientDirectory interface {
	EmailAddress(ctx context.Context, userID int64) (string, error)
	PhoneNumber(ctx context.Context, userID int64) (string, error)
	PushTokens(ctx context.Context, userID int64) ([]string, error)
}
