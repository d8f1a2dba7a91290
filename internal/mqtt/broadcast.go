package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/logger"
)

// Invalidation is the message published when surname mappings change.
type Invalidation struct {
	Origin string    `json:"origin"`
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Invalidator drops a cached snapshot.
type Invalidator interface {
	Invalidate()
}

// Broadcaster publishes and applies resolver invalidations.
type Broadcaster struct {
	client Client
	topic  string
	origin string
	target Invalidator
	log    logger.Logger
}

// NewBroadcaster creates a broadcaster on topic. target may be nil for
// processes that only publish.
func NewBroadcaster(client Client, topic string, target Invalidator) *Broadcaster {
	return &Broadcaster{
		client: client,
		topic:  topic,
		origin: uuid.NewString(),
		target: target,
		log:    GetLogger().With(logger.String("topic", topic)),
	}
}

// Start subscribes to the topic when a target is set.
func (b *Broadcaster) Start() error {
	if b.target == nil {
		return nil
	}
	return b.client.Subscribe(b.topic, b.handle)
}

// Broadcast tells every other subscriber to invalidate.
func (b *Broadcaster) Broadcast(ctx context.Context, reason string) error {
	payload, err := json.Marshal(Invalidation{Origin: b.origin, Reason: reason, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.topic, payload); err != nil {
		return err
	}
	b.log.Info("resolver invalidation broadcast", logger.String("reason", reason))
	return nil
}

// handle ignores malformed payloads and this broadcaster's own messages.
func (b *Broadcaster) handle(payload []byte) {
	var msg Invalidation
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.log.Warn("ignoring malformed invalidation message", logger.Error(err))
		return
	}
	if msg.Origin == b.origin {
		return
	}
	b.target.Invalidate()
	b.log.Info("resolver cache invalidated",
		logger.String("origin", msg.Origin),
		logger.String("reason", msg.Reason))
}
