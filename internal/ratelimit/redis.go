package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/metrics"
)

// slidingWindowScript 用当前固定窗口计数加上一窗口按剩余比例折算的计数近似滑动窗口。
// 返回剩余配额，超限返回 -1。
//
// KEYS[1] 当前窗口键，KEYS[2] 上一窗口键
// ARGV[1] 配额，ARGV[2] 当前毫秒时间，ARGV[3] 窗口毫秒数
var slidingWindowScript = redis.NewScript(`
local current_key = KEYS[1]
local previous_key = KEYS[2]
local tokens = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local window = tonumber(ARGV[3])

local current = tonumber(redis.call("GET", current_key) or "0")
local previous = tonumber(redis.call("GET", previous_key) or "0")

local elapsed = (now % window) / window
previous = math.floor((1 - elapsed) * previous)

if previous + current >= tokens then
  return -1
end

local value = redis.call("INCR", current_key)
if value == 1 then
  redis.call("PEXPIRE", current_key, window * 2 + 1000)
end
return tokens - (value + previous)
`)

// RedisLimiter 基于 Redis 的分布式滑动窗口限流器，多个实例共享配额。
//
// Redis 不可用时 fail-open：记录日志并放行，可用性优先于严格限流。
type RedisLimiter struct {
	client redis.Scripter
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// RedisOption 配置 RedisLimiter。
type RedisOption func(*RedisLimiter)

// WithRedisClock 替换时间源。
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) { l.now = now }
}

// NewRedisLimiter 创建分布式限流器。prefix 区分不同策略，如 "rl:insight"。
// 窗口按毫秒分段，不足 1ms 时使用 DefaultWindow。
func NewRedisLimiter(client redis.Scripter, limit int, window time.Duration, prefix string, opts ...RedisOption) *RedisLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window < time.Millisecond {
		window = DefaultWindow
	}
	l := &RedisLimiter{
		client: client,
		limit:  limit,
		window: window,
		prefix: prefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check 实现 Limiter。Redis 出错时返回 Degraded 的放行结果，error 始终为 nil。
func (l *RedisLimiter) Check(ctx context.Context, identity string) (Result, error) {
	now := l.now()
	windowMs := l.window.Milliseconds()
	nowMs := now.UnixMilli()
	index := nowMs / windowMs

	keys := []string{l.key(identity, index), l.key(identity, index-1)}
	remaining, err := slidingWindowScript.Run(ctx, l.client, keys, l.limit, nowMs, windowMs).Int64()
	if err != nil {
		logger.Errorf("[ratelimit] Redis 限流检查失败，放行请求 (prefix=%s): %v", l.prefix, err)
		metrics.RateLimitDecisions.WithLabelValues(l.prefix, "fail_open").Inc()
		return Result{
			Allowed:   true,
			Limit:     l.limit,
			Remaining: l.limit,
			Reset:     now.Add(l.window),
			Degraded:  true,
		}, nil
	}

	return Result{
		Allowed:   remaining >= 0,
		Limit:     l.limit,
		Remaining: int(max(remaining, 0)),
		Reset:     time.UnixMilli((index + 1) * windowMs),
	}, nil
}

func (l *RedisLimiter) key(identity string, index int64) string {
	return fmt.Sprintf("%s:%s:%s", l.prefix, identity, strconv.FormatInt(index, 10))
}
