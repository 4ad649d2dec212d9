package redis

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/common/config"

	"github.com/go-redis/redis/v8"
)

// Client go-redis 客户端别名
type Client = redis.Client

const dialCheckTimeout = 3 * time.Second

// Connect 建立客户端并 PING 一次；失败时客户端已关闭
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, dialCheckTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close nil 安全
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
