package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const eventsChannel = "quorum:events"

type envelope struct {
	Group string          `json:"group"`
	Data  json.RawMessage `json:"data"`
}

// Broker bridges group broadcasts across nodes through a redis channel.
// Every node publishes to the shared channel and replays received events
// into its local hub.
type Broker struct {
	client *redis.Client
	hub    *Hub
}

// NewBroker connects to redis and verifies the connection.
func NewBroker(redisURL string, hub *Hub) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Broker{client: client, hub: hub}, nil
}

// NewBrokerWithClient creates a broker from an existing redis client.
func NewBrokerWithClient(client *redis.Client, hub *Hub) *Broker {
	return &Broker{client: client, hub: hub}
}

// Publish sends a payload to every member of the group, on this node and
// every other node subscribed to the channel.
func (b *Broker) Publish(ctx context.Context, group string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	raw, err := json.Marshal(envelope{Group: group, Data: data})
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}
	if err := b.client.Publish(ctx, eventsChannel, raw).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Run subscribes to the events channel and replays events into the local
// hub until the context is cancelled.
func (b *Broker) Run(ctx context.Context) {
	sub := b.client.Subscribe(ctx, eventsChannel)
	defer func() { _ = sub.Close() }()

	channel := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-channel:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf(`{"level":"warn","component":"realtime","msg":"drop malformed event","error":%q}`, err.Error())
				continue
			}
			b.hub.Broadcast(env.Group, env.Data)
		}
	}
}

// Ping checks if redis is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the redis connection.
func (b *Broker) Close() error {
	return b.client.Close()
}
