package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingID       = errors.New("id provider is required")

	// ErrNotificationNotFound indicates a mark-read against a missing or
	// foreign notification.
	ErrNotificationNotFound = errors.New("notify: notification not found")
	// ErrInvalidNotification indicates a dispatch without user id or type.
	ErrInvalidNotification = errors.New("notify: user id and type are required")
)

// Channel is one delivery mechanism for notifications. Deliver errors are
// logged and swallowed; delivery is best-effort on every channel.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, notification Notification) error
}

// IDProvider issues identifiers for new notifications.
type IDProvider interface {
	NewID() (string, error)
}

// DispatcherConfig describes the dependencies for notification fan-out.
type DispatcherConfig struct {
	Database   *gorm.DB
	Channels   []Channel
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Dispatcher persists each notification to the user's inbox, then fans it
// out to every configured channel. Callers never wait on, or learn about,
// channel failures.
type Dispatcher struct {
	db       *gorm.DB
	channels []Channel
	ids      IDProvider
	clock    func() time.Time
	logger   *zap.Logger
}

// NewDispatcher constructs the notification dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notify: %w", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("notify: %w", errMissingID)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		db:       cfg.Database,
		channels: cfg.Channels,
		ids:      cfg.IDProvider,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Dispatch stores the notification and fans it out. It returns once the
// inbox row is written; channel delivery runs on its own goroutine.
func (d *Dispatcher) Dispatch(ctx context.Context, notification Notification) (Notification, error) {
	if strings.TrimSpace(notification.UserID) == "" || strings.TrimSpace(notification.Type) == "" {
		return Notification{}, ErrInvalidNotification
	}
	id, err := d.ids.NewID()
	if err != nil {
		return Notification{}, err
	}
	notification.NotificationID = id
	notification.Read = false
	notification.CreatedAtS = d.clock().UTC().Unix()

	if err := d.db.WithContext(ctx).Create(&notification).Error; err != nil {
		d.logger.Error("notification insert failed",
			zap.String("user_id", notification.UserID),
			zap.Error(err))
		return Notification{}, err
	}

	channels := d.channels
	go func() {
		deliverCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, channel := range channels {
			if err := channel.Deliver(deliverCtx, notification); err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("channel", channel.Name()),
					zap.String("notification_id", notification.NotificationID),
					zap.Error(err))
			}
		}
	}()

	return notification, nil
}

// ListUnread returns the user's unread inbox, newest first.
func (d *Dispatcher) ListUnread(ctx context.Context, userID string) ([]Notification, error) {
	var notifications []Notification
	if err := d.db.WithContext(ctx).
		Where("user_id = ? AND read = ?", userID, false).
		Order("created_at_s DESC").
		Find(&notifications).Error; err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkRead flags one of the user's notifications as read.
func (d *Dispatcher) MarkRead(ctx context.Context, userID, notificationID string) error {
	tx := d.db.WithContext(ctx).Model(&Notification{}).
		Where("user_id = ? AND notification_id = ?", userID, notificationID).
		Update("read", true)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
