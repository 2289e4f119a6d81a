package live

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultRelayChannel is the Redis pub/sub channel shared by all instances.
	DefaultRelayChannel = "chatsync:changes"
	relayOutboxSize     = 256
)

type relayEnvelope struct {
	Origin  string   `json:"origin"`
	Changes []Change `json:"changes"`
}

// RedisRelay fans committed changes out to other instances over Redis pub/sub
// and delivers their changes to the local hub.
type RedisRelay struct {
	client     *redis.Client
	channel    string
	instanceID string
	hub        *Hub
	logger     *zap.Logger

	outbox chan []Change
}

// NewRedisRelay creates a relay and installs it as the hub's forwarder.
func NewRedisRelay(client *redis.Client, channel, instanceID string, hub *Hub, logger *zap.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	relay := &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		hub:        hub,
		logger:     logger.Named("relay"),
		outbox:     make(chan []Change, relayOutboxSize),
	}
	hub.SetForwarder(relay)
	return relay
}

// Forward queues local changes for publication. It never blocks a committed
// write; when the outbox is full the batch is dropped and logged.
func (r *RedisRelay) Forward(changes []Change) {
	select {
	case r.outbox <- changes:
	default:
		r.logger.Warn("relay outbox full, dropping changes", zap.Int("changes", len(changes)))
	}
}

// Run publishes queued changes and delivers remote ones until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %q: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed",
		zap.String("channel", r.channel),
		zap.String("instance_id", r.instanceID),
	)

	incoming := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case changes := <-r.outbox:
			payload, err := r.encode(changes)
			if err != nil {
				r.logger.Error("encode relay envelope", zap.Error(err))
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.logger.Warn("publish changes", zap.Error(err))
			}
		case msg, ok := <-incoming:
			if !ok {
				return fmt.Errorf("relay channel %q closed", r.channel)
			}
			changes, remote := r.decode(msg.Payload)
			if remote && len(changes) > 0 {
				r.hub.Deliver(changes...)
			}
		}
	}
}

func (r *RedisRelay) encode(changes []Change) ([]byte, error) {
	return json.Marshal(relayEnvelope{Origin: r.instanceID, Changes: changes})
}

// decode parses an envelope and reports whether it came from another instance.
func (r *RedisRelay) decode(payload string) ([]Change, bool) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		r.logger.Warn("discarding malformed relay payload", zap.Error(err))
		return nil, false
	}
	if envelope.Origin == r.instanceID {
		return nil, false
	}
	return envelope.Changes, true
}
