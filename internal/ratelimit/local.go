package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iabetor/newslens/internal/logger"
)

const (
	// DefaultLimit 未指定配额时窗口内允许的请求数。
	DefaultLimit = 10
	// DefaultWindow 未指定时的滑动窗口时长。
	DefaultWindow = time.Minute
	// DefaultSweepInterval 进程内限流器清理空闲客户端的间隔。
	DefaultSweepInterval = 5 * time.Minute
)

// LocalLimiter 进程内滑动窗口限流器。
//
// 每个标识保存窗口内的请求时间戳（按时间递增）。被拒绝的请求不记录。
// 后台定时清理没有剩余时间戳的标识，与请求流量无关。
type LocalLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration

	now           func() time.Time
	sweepInterval time.Duration
	startOnce     sync.Once
	stopOnce      sync.Once
	started       atomic.Bool
	stop          chan struct{}
	done          chan struct{}
}

// LocalOption 配置 LocalLimiter。
type LocalOption func(*LocalLimiter)

// WithClock 替换时间源。
func WithClock(now func() time.Time) LocalOption {
	return func(l *LocalLimiter) { l.now = now }
}

// WithSweepInterval 设置后台清理间隔。
func WithSweepInterval(d time.Duration) LocalOption {
	return func(l *LocalLimiter) {
		if d > 0 {
			l.sweepInterval = d
		}
	}
}

// NewLocalLimiter 创建限流器，窗口 window 内最多 limit 次。需调用 Start 启动后台清理。
func NewLocalLimiter(limit int, window time.Duration, opts ...LocalOption) *LocalLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &LocalLimiter{
		requests:      make(map[string][]time.Time),
		limit:         limit,
		window:        window,
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check 实现 Limiter。进程内实现不会返回错误。
func (l *LocalLimiter) Check(_ context.Context, identity string) (Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := prune(l.requests[identity], now.Add(-l.window))

	if len(times) >= l.limit {
		l.requests[identity] = times
		return Result{
			Allowed:   false,
			Limit:     l.limit,
			Remaining: 0,
			Reset:     times[0].Add(l.window),
		}, nil
	}

	times = append(times, now)
	l.requests[identity] = times
	return Result{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(times),
		Reset:     times[0].Add(l.window),
	}, nil
}

// Sweep 清理窗口外的时间戳，删除空标识，返回删除的标识数。
func (l *LocalLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().Add(-l.window)
	removed := 0
	for id, times := range l.requests {
		times = prune(times, windowStart)
		if len(times) == 0 {
			delete(l.requests, id)
			removed++
			continue
		}
		l.requests[id] = times
	}
	return removed
}

// Len 返回当前跟踪的标识数量。
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// Start 启动后台清理 goroutine，重复调用无效。
func (l *LocalLimiter) Start() {
	l.startOnce.Do(l.startSweeper)
}

func (l *LocalLimiter) startSweeper() {
	l.started.Store(true)
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				if n := l.Sweep(); n > 0 {
					logger.Debugf("[ratelimit] 清理空闲客户端 %d 个", n)
				}
			}
		}
	}()
}

// Stop 停止后台清理并等待其退出。未调用过 Start 时直接返回。
func (l *LocalLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		if l.started.Load() {
			<-l.done
		}
	})
}

// prune 丢弃不晚于 windowStart 的时间戳。times 按时间递增，原地截取。
func prune(times []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(windowStart) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}
