package config

import (
	"context"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ConnectRedis returns a lock client for REDIS_ADDRESS. A nil client with a
// nil error means redis is not configured and advisory locking is skipped.
func ConnectRedis(ctx context.Context, cfg *Config, logger *logrus.Logger) (*redis.Client, *redislock.Client, error) {
	if cfg.RedisAddress == "" {
		logger.Warn("REDIS_ADDRESS not set; advisory invoice locks disabled")
		return nil, nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: "",
		DB:       0,
		PoolSize: 20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("failed to connect redis at %s: %w", cfg.RedisAddress, err)
	}

	logger.WithField("addr", cfg.RedisAddress).Info("connected to redis")
	return rdb, redislock.New(rdb), nil
}
