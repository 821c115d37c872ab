// internal/notification/postgres.go
// PostgreSQL implementation of the notification repositories

package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

var ErrNotificationNotFound = errors.New("notification not found")

type postgresRepo struct {
	db *sqlx.DB
}

// NewPostgresRepository creates the sqlx-backed notification repository
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepo{db: db}
}

const notificationColumns = `
	id, recipient_id, type, title, body, priority, status,
	sender_id, related_kind, related_id,
	is_read, read_at,
	in_app_delivered, email_delivered, push_delivered,
	expires_at, created_at, sent_at`

func (r *postgresRepo) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (
			id, recipient_id, type, title, body, priority, status,
			sender_id, related_kind, related_id,
			is_read, in_app_delivered, email_delivered, push_delivered,
			expires_at, created_at
		) VALUES (
			:id, :recipient_id, :type, :title, :body, :priority, :status,
			:sender_id, :related_kind, :related_id,
			:is_read, :in_app_delivered, :email_delivered, :push_delivered,
			:expires_at, :created_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

func (r *postgresRepo) Get(ctx context.Context, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

	var n Notification
	if err := r.db.GetContext(ctx, &n, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return &n, nil
}

func (r *postgresRepo) ListByRecipient(ctx context.Context, recipientID int64, unreadOnly bool, limit, offset int) ([]*Notification, error) {
	query := `SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_id = $1
		  AND ($2 = FALSE OR is_read = FALSE)
		  AND (expires_at IS NULL OR expires_at > NOW())
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	notifications := []*Notification{}
	if err := r.db.SelectContext(ctx, &notifications, query, recipientID, unreadOnly, limit, offset); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return notifications, nil
}

func (r *postgresRepo) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND is_read = FALSE
		  AND (expires_at IS NULL OR expires_at > NOW())`

	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientID); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return count, nil
}

func (r *postgresRepo) MarkRead(ctx context.Context, id uuid.UUID, recipientID int64, at time.Time) (bool, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $3, status = 'read'
		WHERE id = $1 AND recipient_id = $2 AND is_read = FALSE`

	result, err := r.db.ExecContext(ctx, query, id, recipientID, at)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return affected > 0, nil
}

func (r *postgresRepo) MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error) {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $2, status = 'read'
		WHERE recipient_id = $1 AND is_read = FALSE`

	result, err := r.db.ExecContext(ctx, query, recipientID, at)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return affected, nil
}

func (r *postgresRepo) SetDelivered(ctx context.Context, id uuid.UUID, channel Channel, at time.Time) error {
	var column string
	switch channel {
	case ChannelInApp:
		column = "in_app_delivered"
	case ChannelEmail:
		column = "email_delivered"
	case ChannelPush:
		column = "push_delivered"
	default:
		// SMS keeps no delivery flag
		return nil
	}

	query := fmt.Sprintf(`
		UPDATE notifications
		SET %s = TRUE, status = 'delivered', sent_at = COALESCE(sent_at, $2)
		WHERE id = $1`, column)

	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("set %s delivered: %w", channel, err)
	}
	return nil
}

func (r *postgresRepo) CountToday(ctx context.Context, recipientID int64, typ Type, dayStart time.Time, exclude uuid.UUID) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = $1 AND type = $2 AND created_at >= $3 AND id <> $4`

	var count int
	if err := r.db.GetContext(ctx, &count, query, recipientID, typ, dayStart, exclude); err != nil {
		return 0, fmt.Errorf("count today: %w", err)
	}
	return count, nil
}

func (r *postgresRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at < $1`

	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return affected, nil
}

// Preferences

type postgresPreferences struct {
	db *sqlx.DB
}

// NewPostgresPreferences creates the sqlx-backed preference store
func NewPostgresPreferences(db *sqlx.DB) PreferenceStore {
	return &postgresPreferences{db: db}
}

func (r *postgresPreferences) GetPreference(ctx context.Context, userID int64, typ Type, channel Channel) (*Preference, error) {
	query := `
		SELECT id, user_id, type, channel, enabled, minimum_priority,
		       quiet_start, quiet_end, weekend_enabled, max_per_day
		FROM notification_preferences
		WHERE user_id = $1 AND type = $2 AND channel = $3`

	var p Preference
	if err := r.db.GetContext(ctx, &p, query, userID, typ, channel); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DefaultPreference(userID, typ, channel), nil
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (r *postgresPreferences) UpsertPreference(ctx context.Context, p *Preference) error {
	query := `
		INSERT INTO notification_preferences (
			user_id, type, channel, enabled, minimum_priority,
			quiet_start, quiet_end, weekend_enabled, max_per_day
		) VALUES (
			:user_id, :type, :channel, :enabled, :minimum_priority,
			:quiet_start, :quiet_end, :weekend_enabled, :max_per_day
		)
		ON CONFLICT (user_id, type, channel) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			minimum_priority = EXCLUDED.minimum_priority,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			weekend_enabled = EXCLUDED.weekend_enabled,
			max_per_day = EXCLUDED.max_per_day`

	if _, err := r.db.NamedExecContext(ctx, query, p); err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *postgresPreferences) ListPreferences(ctx context.Context, userID int64) ([]*Preference, error) {
	query := `
		SELECT id, user_id, type, channel, enabled, minimum_priority,
		       quiet_start, quiet_end, weekend_enabled, max_per_day
		FROM notification_preferences
		WHERE user_id = $1
		ORDER BY type, channel`

	prefs := []*Preference{}
	if err := r.db.SelectContext(ctx, &prefs, query, userID); err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	return prefs, nil
}

// postgresDirectory resolves user contact details from the shared
// users table
type postgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory creates the recipient directory
func NewPostgresDirectory(db *sqlx.DB) RecipientDirectory {
	return &postgresDirectory{db: db}
}

func (r *postgresDirectory) EmailAddress(ctx context.Context, userID int64) (string, error) {
	var email string
	if err := r.db.GetContext(ctx, &email, `SELECT email FROM users WHERE id = $1`, userID); err != nil {
		return "", fmt.Errorf("get user email: %w", err)
	}
	return email, nil
}

func (r *postgresDirectory) PhoneNumber(ctx context.Context, userID int64) (string, error) {
	var phone sql.NullString
	if err := r.db.GetContext(ctx, &phone, `SELECT phone FROM users WHERE id = $1`, userID); err != nil {
		return "", fmt.Errorf("get user phone: %w", err)
	}
	if !phone.Valid || phone.String == "" {
		return "", fmt.Errorf("user %d has no phone number", userID)
	}
	return phone.String, nil
}

func (r *postgresDirectory) PushTokens(ctx context.Context, userID int64) ([]string, error) {
	tokens := []string{}
	query := `SELECT token FROM push_tokens WHERE user_id = $1 AND revoked_at IS NULL`
	if err := r.db.SelectContext(ctx, &tokens, query, userID); err != nil {
		return nil, fmt.Errorf("get push tokens: %w", err)
	}
	return tokens, nil
}
