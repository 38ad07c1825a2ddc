package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/AlexisRellon/JunkHop-development-sub000/internal/domain"
)

const notificationChannel = "junkhop_notifications"

// RedisNotificationGateway publishes notification events to a pub/sub channel
// consumed by the delivery service. At-least-once only; the core never waits
// for a delivery receipt.
type RedisNotificationGateway struct {
	client *redis.Client
}

func NewRedisNotificationGateway(client *redis.Client) *RedisNotificationGateway {
	return &RedisNotificationGateway{client: client}
}

type notificationEvent struct {
	RecipientID string                 `json:"recipient_id"`
	Kind        string                 `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
	Timestamp   int64                  `json:"timestamp"`
}

func (r *RedisNotificationGateway) Notify(ctx context.Context, recipientID string, kind domain.NotificationKind, payload map[string]interface{}) error {
	event := notificationEvent{
		RecipientID: recipientID,
		Kind:        string(kind),
		Payload:     payload,
		Timestamp:   time.Now().Unix(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return r.client.Publish(ctx, notificationChannel, data).Err()
}
