package config

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// NewRedisClients connects the master and replica handles of the shared
// store. With no replica address configured, the replica handle falls back
// to the master connection.
func NewRedisClients(ctx context.Context, cfg *Redis) (master, replica *redis.Client, err error) {
	master, err = connectRedis(ctx, cfg.MasterAddr, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.ReplicaAddr == "" || cfg.ReplicaAddr == cfg.MasterAddr {
		return master, master, nil
	}

	replica, err = connectRedis(ctx, cfg.ReplicaAddr, cfg)
	if err != nil {
		return nil, nil, err
	}
	return master, replica, nil
}

func connectRedis(ctx context.Context, addr string, cfg *Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	operation := func() (*redis.Client, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("addr", addr).Msg("Failed to connect to Redis. Retrying...")
			return nil, err
		}
		return client, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 10 * time.Second
	maxRetries := uint(5)
	client, err := backoff.Retry(ctx, operation, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
	if err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Info().Str("addr", addr).Msg("Successfully connected to Redis")
	return client, nil
}
