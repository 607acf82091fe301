package store

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// maxUpdateRetries bounds the optimistic WATCH retry loop. Contention on a
// single tenant key is rare enough that a handful of attempts is plenty.
const maxUpdateRetries = 5

// RedisStore implements Store on a shared Redis instance. All gateway processes
// point at the same instance; Redis owns the durable registry state.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fields []string, fn UpdateFunc) error {
	for attempt := 0; attempt < maxUpdateRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			values := make(map[string]string, len(fields))
			for _, field := range fields {
				val, err := tx.HGet(ctx, key, field).Result()
				if errors.Is(err, redis.Nil) {
					continue
				}
				if err != nil {
					return err
				}
				values[field] = val
			}

			set, del, err := fn(values)
			if err != nil {
				return err
			}
			if len(set) == 0 && len(del) == 0 {
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if len(set) > 0 {
					args := make([]interface{}, 0, len(set)*2)
					for field, val := range set {
						args = append(args, field, val)
					}
					pipe.HSet(ctx, key, args...)
				}
				if len(del) > 0 {
					pipe.HDel(ctx, key, del...)
				}
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) Subscription {
	pubsub := s.client.Subscribe(ctx, channels...)

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan Message),
	}

	go func() {
		defer close(sub.messages)
		for msg := range pubsub.Channel() {
			select {
			case sub.messages <- Message{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
			case <-ctx.Done():
				slog.Debug("Subscription context cancelled", "channels", channels)
				return
			}
		}
	}()

	return sub
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan Message
}

func (s *redisSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
