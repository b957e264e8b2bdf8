// Package relay mirrors fan-out notifications between genie processes over
// Redis pub/sub so a stream client connected to one instance sees mutations
// made through another.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/basket/genie/internal/bus"
	"github.com/basket/genie/internal/config"
)

const outboundBuffer = 256

type envelope struct {
	Origin       string           `json:"origin"`
	Notification bus.Notification `json:"notification"`
}

// Redis relays hub notifications through a Redis channel.
type Redis struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *bus.Hub
	logger  *slog.Logger
	out     chan bus.Notification
}

// NewRedis connects and verifies the server with PING. The relay is idle
// until Run is called.
func NewRedis(ctx context.Context, cfg config.RedisConfig, hub *bus.Hub, logger *slog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "genie:fanout"
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		logger:  logger.With("component", "relay"),
		out:     make(chan bus.Notification, outboundBuffer),
	}, nil
}

// Forward queues a locally published notification for mirroring. It never
// blocks; when the queue is full the notification is not mirrored.
func (r *Redis) Forward(n bus.Notification) {
	select {
	case r.out <- n:
	default:
		r.logger.Warn("relay queue full; notification not mirrored", "command", n.Command)
	}
}

// Run subscribes to the channel, installs itself as the hub forwarder and
// pumps messages both ways until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.hub.SetForwarder(r.Forward)
	defer r.hub.SetForwarder(nil)
	r.logger.Info("relay subscribed", "channel", r.channel, "origin", r.origin)

	inbound := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-r.out:
			if err := r.publish(ctx, n); err != nil {
				r.logger.Warn("relay publish failed", "error", err)
			}
		case msg, ok := <-inbound:
			if !ok {
				return errors.New("redis subscription closed")
			}
			r.handle(msg.Payload)
		}
	}
}

func (r *Redis) publish(ctx context.Context, n bus.Notification) error {
	payload, err := json.Marshal(envelope{Origin: r.origin, Notification: n})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, payload).Err()
}

// handle delivers a remote notification to local subscribers and returns
// how many accepted it. Echoes of our own publishes are ignored.
func (r *Redis) handle(payload string) int {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Warn("relay dropped malformed message", "error", err)
		return 0
	}
	if env.Origin == r.origin || env.Notification.Command == "" {
		return 0
	}
	return r.hub.PublishLocal(env.Notification)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
