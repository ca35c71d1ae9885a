// Package cache 持久化三视角摘要，条目超过 TTL 后过期清除。
//
// 所有 I/O 错误都在包内记录日志并吸收：读失败视为未命中，写失败视为跳过。
// 条目可以随时重新生成，所以丢失写入是可接受的。
package cache

import (
	"context"
	"time"

	"github.com/iabetor/newslens/internal/logger"
	"github.com/iabetor/newslens/internal/summary"
)

// DefaultTTL 摘要缓存默认有效期。
const DefaultTTL = 7 * 24 * time.Hour

// Store 摘要缓存。
type Store interface {
	// Get 返回未过期的摘要。过期条目会被清除并持久化。
	Get(ctx context.Context, key string) (summary.Summary, bool)
	// Put 写入或覆盖摘要，时间戳为当前时间，返回前完成持久化。
	Put(ctx context.Context, key string, s summary.Summary)
	// SweepExpired 清除所有过期条目，返回清除数量。
	SweepExpired(ctx context.Context) int
}

// Option 配置缓存实现。
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL 设置有效期，<= 0 时使用 DefaultTTL。
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock 替换时间源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// expired 判断创建于 created 的条目在 now 时是否已过期。恰好等于 TTL 仍视为有效。
func expired(created, now time.Time, ttl time.Duration) bool {
	return now.Sub(created) > ttl
}

// RunSweeper 按固定间隔清理过期条目，直到 ctx 结束。
func RunSweeper(ctx context.Context, s Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(ctx); n > 0 {
				logger.Infof("[cache] 定时清理过期摘要 %d 条", n)
			}
		}
	}
}
