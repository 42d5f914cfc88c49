package api

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// 登录保护使用的 Redis 键。手机号统一小写后参与拼键。
func loginLockKey(phone string) string {
	return "lock:login:" + strings.ToLower(phone)
}

func loginFailKey(phone string) string {
	return "lock:login:fail:" + strings.ToLower(phone)
}

func loginRateKey(ip, phone string, now time.Time) string {
	return "rate:login:" + ip + ":" + strings.ToLower(phone) + ":" + now.UTC().Format("2006010215")
}

type redisRateCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// incrWithTTL 自增计数键，首次创建时设置过期时间。
func incrWithTTL(ctx context.Context, client redisRateCounter, key string, ttl time.Duration) (int64, error) {
	count, err := client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		_ = client.Expire(ctx, key, ttl).Err()
	}
	return count, nil
}
