package chathub

import (
	"context"
	"encoding/json"
	"log"
	"supportchat/backend/internal/models"

	"github.com/redis/go-redis/v9"
)

// Envelope is the relay wire format.
type Envelope struct {
	Topic string       `json:"topic"`
	Event models.Event `json:"event"`
}

// Relay carries events between server instances.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Listen blocks, handing every received envelope to deliver, until ctx ends.
	Listen(ctx context.Context, deliver func(Envelope)) error
}

// RedisRelay shares one Redis Pub/Sub channel between all instances.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
}

func NewRedisRelay(rdb *redis.Client, channel string) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Listen(ctx context.Context, deliver func(Envelope)) error {
	pubsub := r.rdb.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before events are published through it.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				log.Printf("Error unmarshalling Redis message: %v", err)
				continue
			}
			deliver(env)
		}
	}
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(raw, &env)
	return env, err
}

// StartRelay routes publishing through relay and starts the listener that
// delivers relayed events to local subscribers. The listener stops with ctx.
func (m *ManagerService) StartRelay(ctx context.Context, relay Relay) {
	m.relay = relay
	go func() {
		err := relay.Listen(ctx, func(env Envelope) {
			m.Deliver(env.Topic, env.Event)
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("ERROR: [Hub] Relay listener stopped: %v", err)
		}
	}()
}
