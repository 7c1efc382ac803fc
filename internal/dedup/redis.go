package dedup

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cdc:processed:"

// Redis keeps one key per event id. Keys expire after ttl, after which a late
// redelivery is processed again.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (s *Redis) Begin(ctx context.Context, e Entry) (bool, error) {
	key := keyPrefix + e.EventID

	created, err := s.client.SetNX(ctx, key, statusProcessing, s.ttl).Result()
	if err != nil {
		return false, err
	}
	if created {
		return true, nil
	}

	status, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return true, s.client.Set(ctx, key, statusProcessing, s.ttl).Err()
	}
	if err != nil {
		return false, err
	}
	if status == statusDone {
		return false, nil
	}
	return true, s.client.Set(ctx, key, statusProcessing, s.ttl).Err()
}

func (s *Redis) Done(ctx context.Context, eventID string) error {
	return s.client.Set(ctx, keyPrefix+eventID, statusDone, s.ttl).Err()
}

func (s *Redis) Failed(ctx context.Context, eventID string, _ error) error {
	return s.client.Set(ctx, keyPrefix+eventID, statusFailed, s.ttl).Err()
}
