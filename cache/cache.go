package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"aichat/config"

	"github.com/redis/go-redis/v9"
)

var Client *redis.Client

// Init 初始化 Redis 连接（进行中标记与限流标记的共享存储）
func Init(cfg *config.Config) error {
	Client = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Println("Redis 初始化成功")
	return nil
}

// GetClient 获取 Redis 连接
func GetClient() *redis.Client {
	return Client
}
