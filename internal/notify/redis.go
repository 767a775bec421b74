package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"scheduler-service/internal/model"
	"scheduler-service/pkg/logging"
)

// Event is the payload published for downstream renderers.
type Event struct {
	Kind        TemplateKind        `json:"kind"`
	BookingID   string              `json:"booking_id"`
	ResourceID  string              `json:"resource_id"`
	Status      model.BookingStatus `json:"status"`
	ClientName  string              `json:"client_name"`
	ClientEmail string              `json:"client_email"`
	ClientPhone string              `json:"client_phone,omitempty"`
	StartUTC    time.Time           `json:"start_at_utc"`
	EndUTC      time.Time           `json:"end_at_utc"`
	JoinURL     string              `json:"join_url,omitempty"`
	OccurredAt  time.Time           `json:"occurred_at"`
}

// RedisPublisher publishes booking events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	logger  *logging.Logger
	now     func() time.Time
}

func NewRedisPublisher(client redis.UniversalClient, channel string, logger *logging.Logger) *RedisPublisher {
	if client == nil {
		panic("notify: redis client required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if channel == "" {
		channel = "booking-events"
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger, now: time.Now}
}

func (p *RedisPublisher) Send(ctx context.Context, kind TemplateKind, b model.Booking) error {
	payload, err := json.Marshal(Event{
		Kind:        kind,
		BookingID:   b.ID,
		ResourceID:  b.ResourceID,
		Status:      b.Status,
		ClientName:  b.ClientName,
		ClientEmail: b.ClientEmail,
		ClientPhone: b.ClientPhone,
		StartUTC:    b.Start.UTC(),
		EndUTC:      b.End.UTC(),
		JoinURL:     joinURL(b),
		OccurredAt:  p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("notify: publish %s: %w", kind, err)
	}
	p.logger.Debug("booking event published", "kind", string(kind), "booking_id", b.ID, "receivers", receivers)
	return nil
}
