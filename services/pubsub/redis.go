// Package pubsub delivers real-time payloads to the subscribers of a channel.
package pubsub

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/voluntas/core"
)

var ErrEmptyChannel = errors.New("pubsub: channel cannot be empty")

type RedisPublisher struct {
	client *redis.Client
	prefix string
	logger core.Logger
}

// NewRedisPublisher connects to the configured Redis server.
// Channels are namespaced with conf.Redis.ChannelPrefix.
func NewRedisPublisher(conf *core.Config, logger core.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         conf.Redis.Addr,
		Password:     conf.Redis.Password,
		DB:           conf.Redis.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "connecting to redis at %s", conf.Redis.Addr)
	}

	return newRedisPublisher(client, conf.Redis.ChannelPrefix, logger), nil
}

func newRedisPublisher(client *redis.Client, prefix string, logger core.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix, logger: logger}
}

// Channel returns the namespaced name of channel.
func (p *RedisPublisher) Channel(channel string) string {
	if p.prefix == "" {
		return channel
	}
	return p.prefix + ":" + channel
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if channel == "" {
		return ErrEmptyChannel
	}
	n, err := p.client.Publish(ctx, p.Channel(channel), payload).Result()
	if err != nil {
		return errors.Wrapf(err, "publishing to %s", channel)
	}
	p.logger.Debug("published", map[string]interface{}{"channel": channel, "receivers": n})
	return nil
}

// StatusCheck pings the server.
func (p *RedisPublisher) StatusCheck(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
