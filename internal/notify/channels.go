package notify

import (
	"context"
	"encoding/json"

	"github.com/MeshVSC/SparkV2/internal/presence"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// LogChannel writes each notification to the structured log. Always
// configured; doubles as the delivery trace in development.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel constructs a log-backed delivery channel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Deliver(_ context.Context, notification Notification) error {
	c.logger.Info("notification",
		zap.String("notification_id", notification.NotificationID),
		zap.String("user_id", notification.UserID),
		zap.String("type", notification.Type),
		zap.String("title", notification.Title))
	return nil
}

// Pusher is the slice of the presence hub the realtime channel needs.
type Pusher interface {
	PushNotification(userID string, event presence.NotificationEvent)
}

// RealtimeChannel pushes notifications to every live connection the target
// user holds on the presence relay.
type RealtimeChannel struct {
	pusher Pusher
}

// NewRealtimeChannel constructs a relay-backed delivery channel.
func NewRealtimeChannel(pusher Pusher) *RealtimeChannel {
	return &RealtimeChannel{pusher: pusher}
}

func (c *RealtimeChannel) Name() string { return "realtime" }

func (c *RealtimeChannel) Deliver(_ context.Context, notification Notification) error {
	c.pusher.PushNotification(notification.UserID, presence.NotificationEvent{
		NotificationID: notification.NotificationID,
		Type:           notification.Type,
		Title:          notification.Title,
		Message:        notification.Message,
		Data:           notification.Data,
	})
	return nil
}

// RedisChannel publishes notifications to a redis pub/sub topic for external
// consumers (mail workers, mobile push bridges). Optional; only wired when a
// redis address is configured.
type RedisChannel struct {
	client *redis.Client
	topic  string
}

// NewRedisChannel constructs a redis-backed delivery channel.
func NewRedisChannel(client *redis.Client, topic string) *RedisChannel {
	return &RedisChannel{client: client, topic: topic}
}

func (c *RedisChannel) Name() string { return "redis" }

func (c *RedisChannel) Deliver(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, c.topic, payload).Err()
}
