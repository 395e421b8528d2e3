package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Feelan-Chain/internal/errors"
)

// RedisLimiterConfig 描述 Redis 限流器的连接参数。
type RedisLimiterConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisLimiter 使用 INCR 加 EXPIRE 实现跨实例共享的固定窗口限流。
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter 创建 Redis 限流器实例。
func NewRedisLimiter(cfg RedisLimiterConfig) (*RedisLimiter, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "feelan:ratelimit:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	return &RedisLimiter{client: client, prefix: prefix}, nil
}

// Allow 将窗口编号折进键名，INCR 首次命中时设置过期。
func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (bool, error) {
	if rule.Limit <= 0 || rule.Window <= 0 {
		return true, nil
	}
	bucket := time.Now().UnixNano() / int64(rule.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "限流计数失败")
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, rule.Window).Err(); err != nil {
			return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "设置限流窗口过期失败")
		}
	}
	return count <= int64(rule.Limit), nil
}

// Close 关闭底层连接。
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}
