package kvstore

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// changeChannel is the pub/sub channel carrying change notifications.
// Every Set/Delete publishes the affected key so other instances can react,
// mirroring the storage change event of the original system.
const changeChannel = "quill:changes"

const deletedPrefix = "-"

// RedisConfig holds Redis backend settings.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore implements Store on Redis. This is the backend for
// multi-instance deployments: change notifications ride Redis pub/sub.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "quill:"
	}

	logger.Info().Str("addr", cfg.Addr).Msg("connected to Redis store")

	return &RedisStore{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

func (r *RedisStore) fullKey(key string) string {
	return r.prefix + key
}

// Get retrieves the value stored under key.
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}
	return value, nil
}

// Set stores value under key and publishes a change notification.
func (r *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}
	// Notification is best-effort: a failed publish leaves other instances
	// to reconcile on their next reload.
	if err := r.client.Publish(ctx, changeChannel, key).Err(); err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("failed to publish change")
	}
	return nil
}

// Delete removes the value under key and publishes a change notification.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	if err := r.client.Publish(ctx, changeChannel, deletedPrefix+key).Err(); err != nil {
		r.logger.Debug().Err(err).Str("key", key).Msg("failed to publish change")
	}
	return nil
}

// Watch subscribes to the change channel.
func (r *RedisStore) Watch(ctx context.Context) (<-chan Event, error) {
	sub := r.client.Subscribe(ctx, changeChannel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("failed to subscribe to changes: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer sub.Close()

		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev := Event{Key: msg.Payload}
				if len(msg.Payload) > 0 && msg.Payload[:1] == deletedPrefix {
					ev = Event{Key: msg.Payload[1:], Deleted: true}
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Ping checks backend availability.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *RedisStore) Close() error {
	r.logger.Info().Msg("closing Redis store")
	return r.client.Close()
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
