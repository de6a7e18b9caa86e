package wake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rivalcast/internal/config"
	"rivalcast/internal/logging"
)

const publishTimeout = 5 * time.Second

type message struct {
	Source string `json:"source"`
	At     int64  `json:"at"`
}

// Redis relays wake-ups through a Redis pub/sub channel.
type Redis struct {
	local   *Local
	client  *redis.Client
	channel string
	source  string
	logger  *slog.Logger
}

// Dial connects to the configured Redis server and verifies it answers.
func Dial(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedis builds a relaying notifier on channel. Run must be started to
// receive signals from other processes.
func NewRedis(client *redis.Client, channel string, logger *slog.Logger) *Redis {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "rivalcast:wake"
	}
	return &Redis{
		local:   NewLocal(),
		client:  client,
		channel: channel,
		source:  uuid.NewString(),
		logger:  logging.NewComponentLogger(logger, "wake"),
	}
}

// Notify wakes the local dispatcher immediately and publishes the signal for
// other processes. Publish failures are logged; polling still picks the work up.
func (r *Redis) Notify(ctx context.Context) {
	r.local.Notify(ctx)
	body, err := json.Marshal(message{Source: r.source, At: time.Now().Unix()})
	if err != nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, body).Err(); err != nil {
		r.logger.Warn("wake publish failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "wake_publish_failed"),
			logging.String(logging.FieldImpact, "other dispatchers fall back to polling"),
		)
	}
}

func (r *Redis) C() <-chan struct{} {
	return r.local.C()
}

// Run subscribes to the channel and forwards foreign signals until ctx is
// cancelled.
func (r *Redis) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Debug("wake subscription active", logging.String("channel", r.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var payload message
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				r.logger.Debug("ignoring malformed wake message", logging.Error(err))
				continue
			}
			if payload.Source == r.source {
				continue
			}
			r.local.Notify(ctx)
		}
	}
}
