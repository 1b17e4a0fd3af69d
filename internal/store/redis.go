package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis keeps credentials in a Redis hash, for deployments where several
// client processes share one session (kiosk terminals, CI runners).
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis creates a Redis-backed store. namespace distinguishes sessions of
// different users on the same instance.
func NewRedis(client *redis.Client, namespace string) *Redis {
	return &Redis{
		client: client,
		key:    "misery:credentials:" + namespace,
	}
}

func (r *Redis) Load(ctx context.Context) (Credentials, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials from redis: %w", err)
	}
	return Credentials{
		AccessToken:  fields[KeyAccessToken],
		RefreshToken: fields[KeyRefreshToken],
	}, nil
}

func (r *Redis) Save(ctx context.Context, c Credentials) error {
	err := r.client.HSet(ctx, r.key,
		KeyAccessToken, c.AccessToken,
		KeyRefreshToken, c.RefreshToken,
	).Err()
	if err != nil {
		return fmt.Errorf("save credentials to redis: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("clear credentials in redis: %w", err)
	}
	return nil
}
